package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pushrelay/pushrelay/cfg"
	"github.com/pushrelay/pushrelay/push"
	"github.com/pushrelay/pushrelay/store"
)

// subscribeRequest is the POST body for creating or updating a subscription.
// An id selects an existing subscription to update; without one a new
// subscription is created.
type subscribeRequest struct {
	ID                    string   `json:"id"`
	Alias                 string   `json:"alias"`
	URL                   string   `json:"url"`
	NotificationPeriodSec int64    `json:"notification_period_sec"`
	ConnectTimeoutMS      int64    `json:"connect_timeout_ms"`
	MediaType             string   `json:"media_type"`
	Classes               []string `json:"classes"`
	ExpireAt              string   `json:"expire_at"`
}

func (h *Handlers) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Alias == "" {
		writeErrorResponse(w, http.StatusBadRequest, "alias is required")
		return
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		writeErrorResponse(w, http.StatusBadRequest, "url must be absolute")
		return
	}
	if req.NotificationPeriodSec < 0 {
		writeErrorResponse(w, http.StatusBadRequest, "notification_period_sec cannot be negative")
		return
	}

	connectTimeout := time.Duration(req.ConnectTimeoutMS) * time.Millisecond
	if connectTimeout == 0 {
		connectTimeout = time.Duration(cfg.Config.Push.DefaultConnectTimeoutMS) * time.Millisecond
	}
	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = cfg.Config.Push.DefaultMediaType
	}
	expireAt := time.Now().Add(24 * time.Hour)
	if req.ExpireAt != "" {
		expireAt, err = time.Parse(time.RFC3339, req.ExpireAt)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "expire_at must be RFC 3339")
			return
		}
	}

	if req.ID != "" {
		id, err := uuid.Parse(req.ID)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "invalid subscriber id")
			return
		}
		h.resubscribe(w, id, req, connectTimeout, mediaType, expireAt)
		return
	}

	config := push.NewSubscriberConfiguration(
		req.Alias,
		req.URL,
		time.Duration(req.NotificationPeriodSec)*time.Second,
		connectTimeout,
		mediaType,
		req.Classes,
		expireAt,
	)

	if err := h.store.SaveConfiguration(config); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "failed to persist subscription: "+err.Error())
		return
	}
	h.manager.Subscribe(config)

	notifier, _ := h.manager.Notifier(config.ID())
	w.WriteHeader(http.StatusCreated)
	writeJSONResponse(w, stateOf(config, notifier))
}

// resubscribe applies new parameters to an existing subscription. A live
// notifier keeps its instance and queued statistics; the manager restarts it
// in place against the mutated configuration.
func (h *Handlers) resubscribe(w http.ResponseWriter, id uuid.UUID, req subscribeRequest,
	connectTimeout time.Duration, mediaType string, expireAt time.Time) {

	config, _, ok := h.resolveConfiguration(w, id)
	if !ok {
		return
	}

	config.SetURL(req.URL)
	config.SetNotificationPeriod(time.Duration(req.NotificationPeriodSec) * time.Second)
	config.SetConnectTimeout(connectTimeout)
	config.SetMediaType(mediaType)
	config.SetSubscriptionClasses(req.Classes)
	config.SetExpireAt(expireAt)
	// Resubscribing revives a stopped or expired subscription
	if !config.ForcedDisabled() {
		config.SetStatus(push.ListeningStatusFor(config.NotificationPeriod()))
	}

	if err := h.store.SaveConfiguration(config); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "failed to persist subscription: "+err.Error())
		return
	}
	h.manager.Subscribe(config)

	notifier, _ := h.manager.Notifier(id)
	writeJSONResponse(w, stateOf(config, notifier))
}

func (h *Handlers) handleListSubscribers(w http.ResponseWriter, r *http.Request) {
	var matcher glob.Glob
	if pattern := r.URL.Query().Get("alias"); pattern != "" {
		var err error
		matcher, err = glob.Compile(pattern)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "invalid alias pattern: "+err.Error())
			return
		}
	}

	states := make([]subscriberState, 0)
	for _, notifier := range h.manager.Notifiers() {
		config := notifier.Configuration()
		if matcher != nil && !matcher.Match(config.Alias()) {
			continue
		}
		states = append(states, stateOf(config, notifier))
	}

	writeJSONResponse(w, states)
}

func (h *Handlers) handleGetSubscriber(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriberID(w, r)
	if !ok {
		return
	}
	config, notifier, ok := h.resolveConfiguration(w, id)
	if !ok {
		return
	}
	writeJSONResponse(w, stateOf(config, notifier))
}

func (h *Handlers) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriberID(w, r)
	if !ok {
		return
	}
	interrupt, _ := strconv.ParseBool(r.URL.Query().Get("interrupt"))

	config, _, ok := h.resolveConfiguration(w, id)
	if !ok {
		return
	}

	if err := h.store.DeleteConfiguration(id); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "failed to delete subscription: "+err.Error())
		return
	}
	config.SetStatus(push.Unsubscribed)
	h.manager.Unsubscribe(config, interrupt)

	log.Info().
		Str("subscriber", config.Alias()).
		Str("id", id.String()).
		Msg("Subscription removed")
	w.WriteHeader(http.StatusNoContent)
}

// handleRestartSubscriber recovers a notifier stuck after attempt exhaustion.
func (h *Handlers) handleRestartSubscriber(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriberID(w, r)
	if !ok {
		return
	}

	notifier, found := h.manager.Notifier(id)
	if !found {
		// Nothing registered; try reviving from storage
		config, _, ok := h.resolveConfiguration(w, id)
		if !ok {
			return
		}
		h.manager.Subscribe(config)
		notifier, found = h.manager.Notifier(id)
		if !found {
			writeErrorResponse(w, http.StatusConflict, "subscription cannot be started")
			return
		}
		writeJSONResponse(w, stateOf(notifier.Configuration(), notifier))
		return
	}

	if err := notifier.Restart(); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "restart failed: "+err.Error())
		return
	}
	writeJSONResponse(w, stateOf(notifier.Configuration(), notifier))
}

func (h *Handlers) handleDisableSubscriber(w http.ResponseWriter, r *http.Request) {
	h.setForcedDisabled(w, r, true)
}

func (h *Handlers) handleEnableSubscriber(w http.ResponseWriter, r *http.Request) {
	h.setForcedDisabled(w, r, false)
}

// setForcedDisabled flips the administrative override. The flag is mutated on
// the live configuration object the notifier reads, so an in-flight delivery
// cycle observes the change, and persisted alongside.
func (h *Handlers) setForcedDisabled(w http.ResponseWriter, r *http.Request, disabled bool) {
	id, ok := h.subscriberID(w, r)
	if !ok {
		return
	}

	config, _, ok := h.resolveConfiguration(w, id)
	if !ok {
		return
	}
	if err := h.store.SetForcedDisabled(id, disabled); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	config.SetForcedDisabled(disabled)

	if disabled {
		h.manager.Unsubscribe(config, true)
	} else {
		config.SetStatus(push.ListeningStatusFor(config.NotificationPeriod()))
		if err := h.store.SaveStatus(id, config.Status()); err != nil {
			writeErrorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		h.manager.Subscribe(config)
	}

	notifier, _ := h.manager.Notifier(id)
	writeJSONResponse(w, stateOf(config, notifier))
}

func (h *Handlers) handleSubscriberEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriberID(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.store.RecentEvents(&id, limit)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, eventViews(events))
}

func (h *Handlers) handleAllEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.store.RecentEvents(nil, limit)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, eventViews(events))
}

// resolveConfiguration prefers the live configuration object held by a
// registered notifier; administrative mutations must land on that object, a
// store-loaded copy would never be seen by the running delivery cycle. The
// store copy is the fallback for unregistered subscriptions. Writes the error
// response itself when nothing is found.
func (h *Handlers) resolveConfiguration(w http.ResponseWriter, id uuid.UUID) (*push.SubscriberConfiguration, *push.SubscriberNotifier, bool) {
	if notifier, found := h.manager.Notifier(id); found {
		return notifier.Configuration(), notifier, true
	}

	config, err := h.store.GetConfiguration(id)
	if errors.Is(err, store.ErrNotFound) {
		writeErrorResponse(w, http.StatusNotFound, "subscription not found")
		return nil, nil, false
	}
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return nil, nil, false
	}
	return config, nil, true
}

func (h *Handlers) subscriberID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid subscriber id")
		return uuid.Nil, false
	}
	return id, true
}

type eventView struct {
	ID              int64  `json:"id"`
	ConfigurationID string `json:"configuration_id"`
	Alias           string `json:"alias"`
	RevisionFrom    int64  `json:"revision_from"`
	RevisionTo      int64  `json:"revision_to"`
	Message         string `json:"message,omitempty"`
	Error           string `json:"error,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func eventViews(events []store.Event) []eventView {
	views := make([]eventView, 0, len(events))
	for _, event := range events {
		views = append(views, eventView{
			ID:              event.ID,
			ConfigurationID: event.ConfigurationID.String(),
			Alias:           event.Alias,
			RevisionFrom:    event.RevisionFrom,
			RevisionTo:      event.RevisionTo,
			Message:         event.Message,
			Error:           event.Error,
			CreatedAt:       event.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return views
}
