package push

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SubscriberConfiguration describes one subscription. It is created by the
// admin layer on subscribe and is logically immutable while the subscription
// runs, except for the administrative fields (forced-disable, expiry, status)
// which the admin layer may change at any time. The notifier re-reads the
// configuration on every cycle, so a concurrent administrative change takes
// effect at most one cycle late.
type SubscriberConfiguration struct {
	id    uuid.UUID
	alias string

	mu                 sync.RWMutex
	url                string
	notificationPeriod time.Duration
	connectTimeout     time.Duration
	mediaType          string
	forcedDisabled     bool
	classes            []string
	expireAt           time.Time
	status             SubscriptionStatus
}

// NewSubscriberConfiguration creates a configuration for a new subscription.
// A zero notificationPeriod selects immediate mode; anything greater selects
// periodic mode with that period.
func NewSubscriberConfiguration(
	alias string,
	url string,
	notificationPeriod time.Duration,
	connectTimeout time.Duration,
	mediaType string,
	classes []string,
	expireAt time.Time,
) *SubscriberConfiguration {
	return &SubscriberConfiguration{
		id:                 uuid.New(),
		alias:              alias,
		url:                url,
		notificationPeriod: notificationPeriod,
		connectTimeout:     connectTimeout,
		mediaType:          mediaType,
		classes:            append([]string(nil), classes...),
		expireAt:           expireAt,
		status:             ListeningStatusFor(notificationPeriod),
	}
}

// RestoreSubscriberConfiguration rebuilds a configuration from its persisted
// fields.
func RestoreSubscriberConfiguration(
	id uuid.UUID,
	alias string,
	url string,
	notificationPeriod time.Duration,
	connectTimeout time.Duration,
	mediaType string,
	forcedDisabled bool,
	classes []string,
	expireAt time.Time,
	status SubscriptionStatus,
) *SubscriberConfiguration {
	return &SubscriberConfiguration{
		id:                 id,
		alias:              alias,
		url:                url,
		notificationPeriod: notificationPeriod,
		connectTimeout:     connectTimeout,
		mediaType:          mediaType,
		forcedDisabled:     forcedDisabled,
		classes:            append([]string(nil), classes...),
		expireAt:           expireAt,
		status:             status,
	}
}

func (c *SubscriberConfiguration) ID() uuid.UUID { return c.id }
func (c *SubscriberConfiguration) Alias() string { return c.alias }

func (c *SubscriberConfiguration) URL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

func (c *SubscriberConfiguration) SetURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url = url
}

func (c *SubscriberConfiguration) NotificationPeriod() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notificationPeriod
}

// SetNotificationPeriod changes the delivery mode together with the period:
// a live subscription moves to the listening status the new period implies.
// The notifier must be restarted afterwards to re-arm its timer.
func (c *SubscriberConfiguration) SetNotificationPeriod(period time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notificationPeriod = period
	if c.status == ImmediatelyListening || c.status == PeriodicallyListening {
		c.status = ListeningStatusFor(period)
	}
}

func (c *SubscriberConfiguration) ConnectTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectTimeout
}

func (c *SubscriberConfiguration) SetConnectTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectTimeout = timeout
}

func (c *SubscriberConfiguration) MediaType() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mediaType
}

func (c *SubscriberConfiguration) SetMediaType(mediaType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mediaType = mediaType
}

func (c *SubscriberConfiguration) ForcedDisabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.forcedDisabled
}

// SetForcedDisabled is the administrative override; it always wins over the
// subscription status.
func (c *SubscriberConfiguration) SetForcedDisabled(disabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forcedDisabled = disabled
}

// SubscriptionClasses returns the configured class names. Empty means
// subscribed to all classes.
func (c *SubscriberConfiguration) SubscriptionClasses() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.classes...)
}

func (c *SubscriberConfiguration) SetSubscriptionClasses(classes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classes = append([]string(nil), classes...)
}

func (c *SubscriberConfiguration) ExpireAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expireAt
}

func (c *SubscriberConfiguration) SetExpireAt(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireAt = t
}

func (c *SubscriberConfiguration) Status() SubscriptionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *SubscriberConfiguration) SetStatus(status SubscriptionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// CanWork reports whether notifications may run: not forced-disabled and in
// one of the two live listening states.
func (c *SubscriberConfiguration) CanWork() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.forcedDisabled &&
		(c.status == ImmediatelyListening || c.status == PeriodicallyListening)
}

// Periodical reports whether the subscription is in timer-driven mode.
func (c *SubscriberConfiguration) Periodical() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.forcedDisabled && c.status == PeriodicallyListening
}

// Immediate reports whether the subscription is notified after every flush.
func (c *SubscriberConfiguration) Immediate() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.forcedDisabled && c.status == ImmediatelyListening
}
