package push

import "time"

// SubscriptionStatus is the persisted, administrative status of a
// subscription.
type SubscriptionStatus int

const (
	// Unsubscribed means the subscriber cancelled the subscription
	Unsubscribed SubscriptionStatus = iota
	// SubscriptionExpired means the expiry timestamp passed (terminal)
	SubscriptionExpired
	// PeriodicallyListening means the subscriber receives timer-driven batches
	PeriodicallyListening
	// ImmediatelyListening means the subscriber is notified after every flush
	ImmediatelyListening
)

func (s SubscriptionStatus) String() string {
	switch s {
	case Unsubscribed:
		return "UNSUBSCRIBED"
	case SubscriptionExpired:
		return "SUBSCRIPTION_EXPIRED"
	case PeriodicallyListening:
		return "PERIODICALLY_LISTENING"
	case ImmediatelyListening:
		return "IMMEDIATELY_LISTENING"
	default:
		return "UNKNOWN"
	}
}

// ParseSubscriptionStatus parses the persisted representation.
func ParseSubscriptionStatus(s string) (SubscriptionStatus, bool) {
	switch s {
	case "UNSUBSCRIBED":
		return Unsubscribed, true
	case "SUBSCRIPTION_EXPIRED":
		return SubscriptionExpired, true
	case "PERIODICALLY_LISTENING":
		return PeriodicallyListening, true
	case "IMMEDIATELY_LISTENING":
		return ImmediatelyListening, true
	default:
		return Unsubscribed, false
	}
}

// ListeningStatusFor derives the live status for a notification period. Zero
// means the subscriber wants every flush as it happens.
func ListeningStatusFor(period time.Duration) SubscriptionStatus {
	if period == 0 {
		return ImmediatelyListening
	}
	return PeriodicallyListening
}

// NotifierStatus is the in-memory, runtime status of a notifier. It is never
// persisted; a (re)created notifier starts Running.
type NotifierStatus int32

const (
	// NotifierRunning accepts triggers and runs delivery cycles
	NotifierRunning NotifierStatus = iota
	// NotifierStopped halted by expiry, attempt exhaustion or unsubscribe
	NotifierStopped
	// NotifierForcedDisabled halted by an administrative override
	NotifierForcedDisabled
)

func (s NotifierStatus) String() string {
	switch s {
	case NotifierRunning:
		return "RUNNING"
	case NotifierStopped:
		return "STOPPED"
	case NotifierForcedDisabled:
		return "FORCED_DISABLED"
	default:
		return "UNKNOWN"
	}
}
