package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pushrelay/pushrelay/notify"
	"github.com/pushrelay/pushrelay/push"
	"github.com/pushrelay/pushrelay/store"
)

// Handlers serves the subscriber management and flush ingest API.
type Handlers struct {
	manager *push.Manager
	store   *store.Store
	flushes *notify.FlushHub
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(manager *push.Manager, st *store.Store, flushes *notify.FlushHub) *Handlers {
	return &Handlers{
		manager: manager,
		store:   st,
		flushes: flushes,
	}
}

// subscriberState is the API view of a subscription and its notifier.
type subscriberState struct {
	ID                 string   `json:"id"`
	Alias              string   `json:"alias"`
	URL                string   `json:"url"`
	NotificationPeriod string   `json:"notification_period"`
	MediaType          string   `json:"media_type"`
	Classes            []string `json:"classes,omitempty"`
	ExpireAt           string   `json:"expire_at"`
	ForcedDisabled     bool     `json:"forced_disabled"`
	Status             string   `json:"status"`
	NotifierStatus     string   `json:"notifier_status,omitempty"`
	Busy               bool     `json:"busy"`
	LastRevisionTo     int64    `json:"last_revision_to"`
	CurrentAttempt     int      `json:"current_attempt"`
	QueuedStatistics   int      `json:"queued_statistics"`
}

func stateOf(config *push.SubscriberConfiguration, notifier *push.SubscriberNotifier) subscriberState {
	state := subscriberState{
		ID:                 config.ID().String(),
		Alias:              config.Alias(),
		URL:                config.URL(),
		NotificationPeriod: config.NotificationPeriod().String(),
		MediaType:          config.MediaType(),
		Classes:            config.SubscriptionClasses(),
		ExpireAt:           config.ExpireAt().UTC().Format(time.RFC3339),
		ForcedDisabled:     config.ForcedDisabled(),
		Status:             config.Status().String(),
	}
	if notifier != nil {
		state.NotifierStatus = notifier.Status().String()
		state.Busy = notifier.Busy()
		state.LastRevisionTo = notifier.LastRevisionTo()
		state.CurrentAttempt = notifier.CurrentAttempt()
		state.QueuedStatistics = notifier.QueueLen()
	}
	return state
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	response := map[string]interface{}{
		"data": data,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 100, nil // default
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}
	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}
	return limit, nil
}
