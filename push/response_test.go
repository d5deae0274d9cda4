package push

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    Result
		message string
	}{
		{"success", `{"result":"SUCCESS","message":""}`, ResultSuccess, ""},
		{"error", `{"result":"ERROR","message":"constraint violated"}`, ResultError, "constraint violated"},
		{"stop", `{"result":"STOP","message":"done"}`, ResultStop, "done"},
		{"unknown value", `{"result":"MAYBE","message":"?"}`, ResultUnknown, "?"},
		{"missing result", `{"message":"hi"}`, ResultUnknown, "hi"},
		{"lowercase is not recognized", `{"result":"success"}`, ResultUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := decodeResponse([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, decoded.Result)
			assert.Equal(t, tt.message, decoded.Message)
		})
	}
}

func TestDecodeResponseMalformed(t *testing.T) {
	_, err := decodeResponse([]byte(`not json`))
	require.Error(t, err)

	_, err = decodeResponse(nil)
	require.Error(t, err)
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "SUCCESS", ResultSuccess.String())
	assert.Equal(t, "ERROR", ResultError.String())
	assert.Equal(t, "STOP", ResultStop.String())
	assert.Equal(t, "UNKNOWN", ResultUnknown.String())
}
