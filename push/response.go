package push

import "encoding/json"

// Result is the subscriber's semantic continuation decision, decoded from
// the `result` field of a 2xx response body.
type Result int

const (
	// ResultSuccess acknowledges delivery, subscription continues
	ResultSuccess Result = iota
	// ResultError acknowledges delivery but reports a subscriber-side problem
	ResultError
	// ResultStop acknowledges delivery and terminates the subscription
	ResultStop
	// ResultUnknown is any unrecognized value; treated identically to STOP
	ResultUnknown
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "SUCCESS"
	case ResultError:
		return "ERROR"
	case ResultStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// subscriberResponse is the expected 2xx response body.
type subscriberResponse struct {
	Result  string `json:"result"`
	Message string `json:"message"`
}

// decodeResponse interprets a 2xx response body. Raw preserves the wire
// value for audit records of unrecognized results.
type decodedResponse struct {
	Result  Result
	Raw     string
	Message string
}

func decodeResponse(body []byte) (decodedResponse, error) {
	var wire subscriberResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return decodedResponse{}, err
	}

	decoded := decodedResponse{Raw: wire.Result, Message: wire.Message}
	switch wire.Result {
	case "SUCCESS":
		decoded.Result = ResultSuccess
	case "ERROR":
		decoded.Result = ResultError
	case "STOP":
		decoded.Result = ResultStop
	default:
		decoded.Result = ResultUnknown
	}
	return decoded, nil
}
