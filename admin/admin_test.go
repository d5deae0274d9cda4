package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushrelay/pushrelay/cfg"
	"github.com/pushrelay/pushrelay/notify"
	"github.com/pushrelay/pushrelay/push"
	"github.com/pushrelay/pushrelay/sched"
	"github.com/pushrelay/pushrelay/store"
)

type apiFixture struct {
	server  *httptest.Server
	manager *push.Manager
	store   *store.Store
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	st, err := store.Open(":memory:", 5000)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	scheduler := sched.NewScheduler()
	executor := sched.NewExecutor(2, 8)
	t.Cleanup(func() {
		scheduler.Stop()
		executor.Stop()
	})

	deps := push.Deps{
		Revisions: st,
		Expander:  identityExpander{},
		Configs:   st,
		Audit:     st,
	}
	settings := push.Settings{
		MaxTryAttempts:          5,
		MaxAttemptPeriodMinutes: 20,
		ReadTimeout:             2 * time.Second,
	}
	hub := notify.NewFlushHub()
	manager := push.NewManager(scheduler, executor, hub, deps, settings)
	t.Cleanup(manager.Stop)
	hub.Subscribe(manager.OnFlushCompleted)

	mux := http.NewServeMux()
	RegisterRoutes(mux, NewHandlers(manager, st, hub))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &apiFixture{server: server, manager: manager, store: st}
}

type identityExpander struct{}

func (identityExpander) ConcreteSubclasses(className string) ([]string, error) {
	return []string{className}, nil
}

func (f *apiFixture) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeData[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Data
}

func subscribeBody(alias string) map[string]any {
	return map[string]any{
		"alias":     alias,
		"url":       "http://127.0.0.1:9/hook",
		"expire_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	}
}

func TestSubscribeEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/push/subscribers/", subscribeBody("orders-feed"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	state := decodeData[subscriberState](t, resp)
	assert.Equal(t, "orders-feed", state.Alias)
	assert.Equal(t, "IMMEDIATELY_LISTENING", state.Status)
	assert.Equal(t, "RUNNING", state.NotifierStatus)

	// Persisted and registered
	assert.Len(t, f.manager.Notifiers(), 1)
	persisted, err := f.store.ListActive()
	require.NoError(t, err)
	assert.Len(t, persisted, 1)
}

func TestSubscribeValidation(t *testing.T) {
	f := newAPIFixture(t)

	cases := []map[string]any{
		{"alias": "", "url": "http://x/hook"},
		{"alias": "a", "url": "not-a-url"},
		{"alias": "a", "url": "http://x/hook", "notification_period_sec": -5},
		{"alias": "a", "url": "http://x/hook", "expire_at": "yesterday"},
	}
	for _, body := range cases {
		resp := f.request(t, http.MethodPost, "/push/subscribers/", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %v", body)
	}
	assert.Empty(t, f.manager.Notifiers())
}

func TestListSubscribersWithAliasGlob(t *testing.T) {
	f := newAPIFixture(t)
	for _, alias := range []string{"orders-feed", "orders-audit", "billing-feed"} {
		resp := f.request(t, http.MethodPost, "/push/subscribers/", subscribeBody(alias))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := f.request(t, http.MethodGet, "/push/subscribers/?alias=orders-*", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	states := decodeData[[]subscriberState](t, resp)
	assert.Len(t, states, 2)
	for _, state := range states {
		assert.Contains(t, state.Alias, "orders-")
	}

	resp = f.request(t, http.MethodGet, "/push/subscribers/?alias=[", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetAndDeleteSubscriber(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.request(t, http.MethodPost, "/push/subscribers/", subscribeBody("orders-feed"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeData[subscriberState](t, resp)

	resp = f.request(t, http.MethodGet, "/push/subscribers/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeData[subscriberState](t, resp)
	assert.Equal(t, created.ID, got.ID)

	resp = f.request(t, http.MethodDelete, "/push/subscribers/"+created.ID+"?interrupt=true", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Empty(t, f.manager.Notifiers())
	resp = f.request(t, http.MethodGet, "/push/subscribers/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.request(t, http.MethodDelete, "/push/subscribers/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/push/subscribers/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDisableAndEnableSubscriber(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.request(t, http.MethodPost, "/push/subscribers/", subscribeBody("orders-feed"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeData[subscriberState](t, resp)

	notifiers := f.manager.Notifiers()
	require.Len(t, notifiers, 1)
	live := notifiers[0]

	resp = f.request(t, http.MethodPost, "/push/subscribers/"+created.ID+"/disable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decodeData[subscriberState](t, resp)
	assert.True(t, state.ForcedDisabled)
	assert.Empty(t, f.manager.Notifiers())

	// The flag lands on the configuration object the notifier holds, so the
	// notifier winds down as administratively disabled, not merely stopped.
	assert.True(t, live.Configuration().ForcedDisabled())
	assert.Equal(t, "FORCED_DISABLED", live.Status().String())
	assert.False(t, live.Configuration().CanWork())

	resp = f.request(t, http.MethodPost, "/push/subscribers/"+created.ID+"/enable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state = decodeData[subscriberState](t, resp)
	assert.False(t, state.ForcedDisabled)
	assert.Equal(t, "RUNNING", state.NotifierStatus)
	assert.Len(t, f.manager.Notifiers(), 1)
}

func TestResubscribeUpdatesLiveConfiguration(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.request(t, http.MethodPost, "/push/subscribers/", subscribeBody("orders-feed"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeData[subscriberState](t, resp)

	notifiers := f.manager.Notifiers()
	require.Len(t, notifiers, 1)
	before := notifiers[0]

	update := subscribeBody("orders-feed")
	update["id"] = created.ID
	update["url"] = "http://127.0.0.1:9/hook-v2"
	update["notification_period_sec"] = 30
	resp = f.request(t, http.MethodPost, "/push/subscribers/", update)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decodeData[subscriberState](t, resp)
	assert.Equal(t, created.ID, state.ID)
	assert.Equal(t, "http://127.0.0.1:9/hook-v2", state.URL)
	assert.Equal(t, "PERIODICALLY_LISTENING", state.Status)

	// The running notifier is kept and restarted against its mutated
	// configuration rather than replaced.
	notifiers = f.manager.Notifiers()
	require.Len(t, notifiers, 1)
	assert.Same(t, before, notifiers[0])
	assert.Equal(t, "http://127.0.0.1:9/hook-v2", before.Configuration().URL())
	assert.Equal(t, 30*time.Second, before.Configuration().NotificationPeriod())

	// Unknown ids are rejected, not silently created
	update["id"] = "00000000-0000-0000-0000-0000000000aa"
	resp = f.request(t, http.MethodPost, "/push/subscribers/", update)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRestartSubscriber(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.request(t, http.MethodPost, "/push/subscribers/", subscribeBody("orders-feed"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeData[subscriberState](t, resp)

	resp = f.request(t, http.MethodPost, "/push/subscribers/"+created.ID+"/restart", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decodeData[subscriberState](t, resp)
	assert.Equal(t, "RUNNING", state.NotifierStatus)
	assert.False(t, state.Busy)
}

func TestSubscriberEventsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.request(t, http.MethodPost, "/push/subscribers/", subscribeBody("orders-feed"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeData[subscriberState](t, resp)

	notifiers := f.manager.Notifiers()
	require.Len(t, notifiers, 1)
	config := notifiers[0].Configuration()
	require.NoError(t, f.store.RecordMessage(config, nil, "Bad Gateway"))
	require.NoError(t, f.store.RecordError(config, nil, fmt.Errorf("connection refused")))

	resp = f.request(t, http.MethodGet, "/push/subscribers/"+created.ID+"/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decodeData[[]eventView](t, resp)
	require.Len(t, events, 2)
	assert.Equal(t, "connection refused", events[0].Error)
	assert.Equal(t, "Bad Gateway", events[1].Message)

	resp = f.request(t, http.MethodGet, "/push/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events = decodeData[[]eventView](t, resp)
	assert.Len(t, events, 2)

	resp = f.request(t, http.MethodGet, "/push/events?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFlushIngestDeliversToSubscriber(t *testing.T) {
	var gotBody atomic.Pointer[string]
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		s := string(buf)
		gotBody.Store(&s)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":"SUCCESS"}`))
	}))
	defer webhook.Close()

	f := newAPIFixture(t)
	body := subscribeBody("orders-feed")
	body["url"] = webhook.URL
	resp := f.request(t, http.MethodPost, "/push/subscribers/", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.request(t, http.MethodPost, "/push/flushes", map[string]any{
		"created": []map[string]string{
			{"id": "42", "className": "Order"},
		},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assigned := decodeData[map[string]int64](t, resp)
	assert.Equal(t, int64(1), assigned["revision"])

	require.Eventually(t, func() bool { return gotBody.Load() != nil },
		2*time.Second, 5*time.Millisecond)
	assert.Contains(t, *gotBody.Load(), `"revisionTo":1`)
	assert.Contains(t, *gotBody.Load(), `"Order"`)
}

func TestFlushIngestValidation(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/push/flushes", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.request(t, http.MethodPost, "/push/flushes", map[string]any{
		"revision": -1,
		"created":  []map[string]string{{"id": "1", "className": "Order"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFlushIngestHostAssignedRevision(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/push/flushes", map[string]any{
		"revision": 55,
		"updated":  []map[string]string{{"id": "1", "className": "Order"}},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	watermark, err := f.store.MaxExportableRevision()
	require.NoError(t, err)
	assert.Equal(t, int64(55), watermark)
}

func TestAuthMiddleware(t *testing.T) {
	prev := cfg.Config.Admin.AuthToken
	cfg.Config.Admin.AuthToken = "s3cret"
	t.Cleanup(func() { cfg.Config.Admin.AuthToken = prev })

	f := newAPIFixture(t)

	// No credentials
	resp := f.request(t, http.MethodGet, "/push/subscribers/", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong bearer token
	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/push/subscribers/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Correct bearer token
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Correct dedicated header
	req, err = http.NewRequest(http.MethodGet, f.server.URL+"/push/subscribers/", nil)
	require.NoError(t, err)
	req.Header.Set("X-Pushrelay-Token", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
