package push

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pushrelay/pushrelay/sched"
	"github.com/pushrelay/pushrelay/statistic"
	"github.com/pushrelay/pushrelay/telemetry"
	"github.com/rs/zerolog/log"
)

// Response bodies larger than this are cut off; the protocol body is two
// short fields.
const maxResponseBytes = 1 << 20

// Settings carries the server-wide delivery parameters shared by all
// notifiers.
type Settings struct {
	MaxTryAttempts          int
	MaxAttemptPeriodMinutes int
	ReadTimeout             time.Duration

	// backoffUnit scales backoff intervals; zero means time.Minute.
	// Overridable in tests only.
	backoffUnit time.Duration
}

func (s Settings) unit() time.Duration {
	if s.backoffUnit == 0 {
		return time.Minute
	}
	return s.backoffUnit
}

// Deps bundles the external collaborators of the dispatch core.
type Deps struct {
	Revisions  RevisionSource
	Expander   SubclassExpander
	Configs    ConfigStore
	Audit      AuditSink
	InstanceID uuid.UUID
}

// SubscriberNotifier is the delivery state machine for one subscription. It
// buffers flush statistics, aggregates them into one outbound payload and
// pushes it to the subscriber endpoint, with Fibonacci backoff between
// failed attempts. The busy gate guarantees at most one delivery cycle in
// flight at any time.
type SubscriberNotifier struct {
	config    *SubscriberConfiguration
	deps      Deps
	settings  Settings
	scheduler *sched.Scheduler
	executor  *sched.Executor

	status atomic.Int32
	busy   atomic.Bool

	queueMu sync.Mutex
	queue   []*statistic.ChangeStatistic

	filter atomic.Pointer[classFilter]

	lastRevisionTo atomic.Int64
	attempt        atomic.Int32

	// Backoff state; only touched inside the gated delivery cycle.
	currentBackoffMinutes  int
	previousBackoffMinutes int

	// Accumulator of queued-but-undelivered statistics; only touched inside
	// the gated delivery cycle.
	current *statistic.ChangeStatistic

	timerMu      sync.Mutex
	periodicTask *sched.Task
	retryTask    *sched.Task
}

// NewSubscriberNotifier creates a Running notifier for the configuration.
// Fails if the subscription class filter cannot be built.
func NewSubscriberNotifier(
	config *SubscriberConfiguration,
	scheduler *sched.Scheduler,
	executor *sched.Executor,
	deps Deps,
	settings Settings,
) (*SubscriberNotifier, error) {
	filter, err := newClassFilter(config.SubscriptionClasses(), deps.Expander)
	if err != nil {
		return nil, fmt.Errorf("failed to build class filter: %w", err)
	}

	n := &SubscriberNotifier{
		config:                config,
		deps:                  deps,
		settings:              settings,
		scheduler:             scheduler,
		executor:              executor,
		current:               statistic.NewAccumulator(config.ID(), deps.InstanceID),
		currentBackoffMinutes: 1,
	}
	n.filter.Store(filter)
	n.status.Store(int32(NotifierRunning))

	return n, nil
}

// AddStatistic enqueues one flush batch. Non-blocking; filtering happens at
// drain time so a mid-flight subscription change takes effect on the next
// aggregation.
func (n *SubscriberNotifier) AddStatistic(stat *statistic.ChangeStatistic) {
	if stat == nil {
		return
	}
	n.queueMu.Lock()
	n.queue = append(n.queue, stat)
	n.queueMu.Unlock()
}

func (n *SubscriberNotifier) dequeue() *statistic.ChangeStatistic {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	if len(n.queue) == 0 {
		return nil
	}
	head := n.queue[0]
	n.queue = n.queue[1:]
	return head
}

func (n *SubscriberNotifier) queueEmpty() bool {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	return len(n.queue) == 0
}

// QueueLen returns the number of queued, not yet aggregated flush batches.
func (n *SubscriberNotifier) QueueLen() int {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	return len(n.queue)
}

// Schedule arms the repeating trigger for periodic mode, replacing any
// prior timer.
func (n *SubscriberNotifier) Schedule() {
	n.timerMu.Lock()
	defer n.timerMu.Unlock()

	if n.periodicTask != nil {
		n.periodicTask.Cancel(true)
	}
	n.periodicTask = n.scheduler.Every(n.config.NotificationPeriod(), n.Trigger)
}

// Trigger is the fan-in point for timer fires and manager-driven immediate
// kicks. The compare-and-swap on the busy gate is the sole mechanism
// preventing overlapping deliveries for one subscriber: a losing trigger
// skips silently, it never waits.
func (n *SubscriberNotifier) Trigger() {
	if n.Running() {
		if n.busy.CompareAndSwap(false, true) {
			if !n.executor.TrySubmit(n.runCycle) {
				// Pool saturated; release the gate so a later trigger can
				// pick the work up.
				n.busy.Store(false)
				telemetry.ExecutorRejectionsTotal.Inc()
				log.Warn().
					Str("subscriber", n.config.Alias()).
					Msg("Delivery executor saturated, skipping cycle")
			}
		} else {
			telemetry.TriggersSkippedTotal.Inc()
			log.Debug().
				Str("subscriber", n.config.Alias()).
				Msg("Notifier triggered but busy")
		}
	} else {
		// The subscription is dead; stop polling.
		n.cancelTimers(true)
		log.Info().
			Str("subscriber", n.config.Alias()).
			Str("status", n.Status().String()).
			Msg("Notifications aborted")
	}
}

// runCycle executes one delivery cycle on the executor. A panic inside the
// cycle must never take a pool worker down or leak into other subscribers.
func (n *SubscriberNotifier) runCycle() {
	defer func() {
		if r := recover(); r != nil {
			n.onCycleFailure(fmt.Errorf("delivery cycle panic: %v", r), "panic")
			log.Error().
				Str("subscriber", n.config.Alias()).
				Str("stack", string(debug.Stack())).
				Msgf("Panic while processing subscriber: %v", r)
		}
	}()

	n.processing()
}

// onCycleFailure handles an unexpected error escaping a delivery cycle:
// stop the notifier, release the gate, audit.
func (n *SubscriberNotifier) onCycleFailure(err error, cause string) {
	n.status.Store(int32(NotifierStopped))
	n.busy.Store(false)
	telemetry.NotifiersStopped.With(cause).Inc()
	n.recordError(err, n.current)
}

// processing runs one delivery cycle. It is only ever entered with the busy
// gate held, either through Trigger or through a scheduled retry.
func (n *SubscriberNotifier) processing() {
	log.Debug().Str("subscriber", n.config.Alias()).Msg("Start notifier cycle")

	// Administrative override wins over everything.
	if n.config.ForcedDisabled() {
		log.Debug().Str("subscriber", n.config.Alias()).Msg("Subscriber forced disabled")
		n.status.Store(int32(NotifierStopped))
		n.busy.Store(false)
		telemetry.NotifiersStopped.With("forced_disabled").Inc()
		return
	}

	if n.checkSubscriptionExpired() {
		return
	}

	// Nothing queued and nothing pending from a failed attempt.
	if n.queueEmpty() && n.current.Empty() {
		log.Debug().Str("subscriber", n.config.Alias()).Msg("No data to push")
		n.busy.Store(false)
		return
	}

	stat, err := n.collectStatistics()
	if err != nil {
		log.Error().Err(err).
			Str("subscriber", n.config.Alias()).
			Msg("Failed to collect statistics")
		n.onCycleFailure(err, "collect_error")
		return
	}

	if n.pushMessage(stat) {
		n.lastRevisionTo.Store(stat.RevisionTo)
		n.resetDeliveryState()
		return
	}

	attempt := n.attempt.Add(1)
	if int(attempt) < n.settings.MaxTryAttempts && n.config.CanWork() {
		period := n.nextAttemptIntervalMinutes()
		log.Info().
			Str("subscriber", n.config.Alias()).
			Int32("attempt", attempt).
			Int("timeout_minutes", period).
			Msg("Retry push message")
		telemetry.RetriesScheduledTotal.Inc()
		// The busy gate stays held across the wait; the retry re-enters the
		// cycle directly, it does not go through Trigger.
		n.scheduleRetry(time.Duration(period) * n.settings.unit())
		return
	}

	// Attempts exhausted or the subscription stopped being workable while we
	// were retrying. The gate intentionally stays held: a Stopped notifier
	// accepts no further triggers, and Restart clears the gate on resubscribe.
	n.status.Store(int32(NotifierStopped))
	telemetry.NotifiersStopped.With("exhausted").Inc()
	log.Warn().
		Str("subscriber", n.config.Alias()).
		Int32("attempts", attempt).
		Msg("Delivery attempts exhausted, notifier stopped")
}

func (n *SubscriberNotifier) scheduleRetry(delay time.Duration) {
	n.timerMu.Lock()
	defer n.timerMu.Unlock()
	n.retryTask = n.scheduler.Once(delay, n.runCycle)
}

// checkSubscriptionExpired stops the notifier and persists the terminal
// status when the expiry timestamp has passed.
func (n *SubscriberNotifier) checkSubscriptionExpired() bool {
	if !time.Now().After(n.config.ExpireAt()) {
		return false
	}

	log.Warn().Str("subscriber", n.config.Alias()).Msg("Subscription expired")
	n.status.Store(int32(NotifierStopped))
	n.busy.Store(false)
	telemetry.NotifiersStopped.With("expired").Inc()

	n.config.SetStatus(SubscriptionExpired)
	if err := n.deps.Configs.SaveStatus(n.config.ID(), SubscriptionExpired); err != nil {
		log.Error().Err(err).
			Str("subscriber", n.config.Alias()).
			Msg("Failed to persist expired subscription status")
	}
	return true
}

// collectStatistics drains the whole queue into the accumulator, filtered by
// the subscription classes. The revision interval is set from the last
// delivered revision to the revision authority's current upper bound; the
// upper bound is a watermark taken at call time, not derived from the queued
// batches.
func (n *SubscriberNotifier) collectStatistics() (*statistic.ChangeStatistic, error) {
	revisionTo, err := n.deps.Revisions.MaxExportableRevision()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve max exportable revision: %w", err)
	}

	n.current.RevisionFrom = n.lastRevisionTo.Load()
	n.current.RevisionTo = revisionTo

	filter := n.filter.Load()
	for {
		batch := n.dequeue()
		if batch == nil {
			break
		}
		for _, item := range batch.ClassStatistics {
			if filter.Match(item.EntityClassName) {
				n.current.Append(item)
			}
		}
	}

	return n.current, nil
}

// pushMessage delivers the aggregated statistic. Returns true when the
// subscriber acknowledged receipt, including ERROR and STOP acknowledgments;
// only an unacknowledged exchange (transport failure, non-2xx, unreadable
// body) is eligible for retry.
func (n *SubscriberNotifier) pushMessage(stat *statistic.ChangeStatistic) bool {
	if stat.Empty() {
		log.Debug().Str("subscriber", n.config.Alias()).Msg("No data to push after filtering")
		telemetry.DeliveriesTotal.With("empty").Inc()
		return true
	}

	body, err := json.Marshal(stat)
	if err != nil {
		log.Error().Err(err).Str("subscriber", n.config.Alias()).Msg("Failed to encode statistic")
		n.recordError(err, stat)
		return false
	}

	log.Debug().Str("subscriber", n.config.Alias()).Msg("Try push message")

	client := n.newClient()
	start := time.Now()
	resp, err := client.Post(n.config.URL(), n.config.MediaType(), bytes.NewReader(body))
	telemetry.DeliveryDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error().Err(err).Str("subscriber", n.config.Alias()).Msg("Push request failed")
		telemetry.DeliveriesTotal.With("transport_error").Inc()
		n.recordError(err, stat)
		return false
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := http.StatusText(resp.StatusCode)
		log.Error().
			Str("subscriber", n.config.Alias()).
			Int("code", resp.StatusCode).
			Str("reason", reason).
			Str("body", string(respBody)).
			Msg("Bad http response from subscriber")
		telemetry.DeliveriesTotal.With("http_error").Inc()
		n.recordMessage(reason, stat)
		return false
	}

	if readErr != nil {
		log.Error().Err(readErr).Str("subscriber", n.config.Alias()).Msg("Failed to read subscriber response")
		n.recordError(readErr, stat)
		return false
	}

	decoded, err := decodeResponse(respBody)
	if err != nil {
		log.Error().Err(err).Str("subscriber", n.config.Alias()).Msg("Failed to decode subscriber response")
		n.recordError(err, stat)
		return false
	}

	switch decoded.Result {
	case ResultSuccess:
		log.Debug().Str("subscriber", n.config.Alias()).Msg("Successful push message")
		telemetry.DeliveriesTotal.With("success").Inc()
		return true
	case ResultError:
		// The subscriber acknowledged receipt but reported a problem; the
		// subscription continues.
		log.Info().
			Str("subscriber", n.config.Alias()).
			Str("message", decoded.Message).
			Msg("Notifier received ERROR response")
		telemetry.DeliveriesTotal.With("error_ack").Inc()
		n.recordMessage(decoded.Message, stat)
		return true
	default:
		// STOP, or a value we do not recognize: acknowledged, but the
		// subscription ends here.
		log.Info().
			Str("subscriber", n.config.Alias()).
			Str("result", decoded.Raw).
			Str("message", decoded.Message).
			Msg("Notifier received stop response")
		telemetry.DeliveriesTotal.With("stop_ack").Inc()
		n.recordMessage(decoded.Message, stat)
		n.Unsubscribe(true)
		return true
	}
}

// newClient builds the HTTP client for one attempt: per-configuration
// connect timeout, server-wide overall timeout.
func (n *SubscriberNotifier) newClient() *http.Client {
	dialer := &net.Dialer{Timeout: n.config.ConnectTimeout()}
	return &http.Client{
		Transport: &http.Transport{DialContext: dialer.DialContext},
		Timeout:   n.settings.ReadTimeout,
	}
}

// nextAttemptIntervalMinutes advances the Fibonacci backoff and returns the
// wait before the next attempt: 1, 1, 2, 3, 5, 8, 13, ... capped at the
// configured ceiling.
func (n *SubscriberNotifier) nextAttemptIntervalMinutes() int {
	timeout := n.currentBackoffMinutes
	n.currentBackoffMinutes += n.previousBackoffMinutes
	n.previousBackoffMinutes = timeout
	if timeout > n.settings.MaxAttemptPeriodMinutes {
		return n.settings.MaxAttemptPeriodMinutes
	}
	return timeout
}

// resetDeliveryState prepares the notifier for the next aggregation after a
// successful delivery: fresh accumulator, counters back to initial, gate
// released.
func (n *SubscriberNotifier) resetDeliveryState() {
	n.current = statistic.NewAccumulator(n.config.ID(), n.deps.InstanceID)
	n.attempt.Store(0)
	n.previousBackoffMinutes = 0
	n.currentBackoffMinutes = 1
	n.busy.Store(false)
}

func (n *SubscriberNotifier) recordMessage(message string, stat *statistic.ChangeStatistic) {
	if err := n.deps.Audit.RecordMessage(n.config, stat, message); err != nil {
		log.Error().Err(err).Str("subscriber", n.config.Alias()).Msg("Failed to record audit event")
	}
}

func (n *SubscriberNotifier) recordError(cause error, stat *statistic.ChangeStatistic) {
	if err := n.deps.Audit.RecordError(n.config, stat, cause); err != nil {
		log.Error().Err(err).Str("subscriber", n.config.Alias()).Msg("Failed to record audit event")
	}
}

// Restart re-reads the configuration on resubscribe: rebuild the class
// filter, reset counters, re-arm the periodic timer. The busy gate is
// cleared explicitly so that a notifier stopped with the gate held (attempt
// exhaustion) can run again.
func (n *SubscriberNotifier) Restart() error {
	filter, err := newClassFilter(n.config.SubscriptionClasses(), n.deps.Expander)
	if err != nil {
		return fmt.Errorf("failed to rebuild class filter: %w", err)
	}
	n.filter.Store(filter)

	n.cancelTimers(true)

	n.status.Store(int32(NotifierRunning))
	n.attempt.Store(0)
	n.previousBackoffMinutes = 0
	n.currentBackoffMinutes = 1
	n.busy.Store(false)

	if n.config.Periodical() {
		n.Schedule()
	}
	return nil
}

// Unsubscribe stops notification delivery. With mayInterrupt set, an
// in-flight wait for the next timer fire or scheduled retry is interrupted;
// an in-flight HTTP call is never aborted.
func (n *SubscriberNotifier) Unsubscribe(mayInterrupt bool) {
	n.cancelTimers(mayInterrupt)

	if n.config.ForcedDisabled() {
		n.status.Store(int32(NotifierForcedDisabled))
	} else {
		n.status.Store(int32(NotifierStopped))
	}

	log.Info().
		Str("subscriber", n.config.Alias()).
		Str("id", n.config.ID().String()).
		Msg("Subscription stopped")
}

func (n *SubscriberNotifier) cancelTimers(interrupt bool) {
	n.timerMu.Lock()
	defer n.timerMu.Unlock()

	if n.periodicTask != nil {
		n.periodicTask.Cancel(interrupt)
		n.periodicTask = nil
	}
	if n.retryTask != nil {
		n.retryTask.Cancel(interrupt)
		n.retryTask = nil
	}
}

func (n *SubscriberNotifier) Configuration() *SubscriberConfiguration {
	return n.config
}

func (n *SubscriberNotifier) Status() NotifierStatus {
	return NotifierStatus(n.status.Load())
}

func (n *SubscriberNotifier) Running() bool {
	return n.Status() == NotifierRunning
}

func (n *SubscriberNotifier) Busy() bool {
	return n.busy.Load()
}

func (n *SubscriberNotifier) LastRevisionTo() int64 {
	return n.lastRevisionTo.Load()
}

func (n *SubscriberNotifier) CurrentAttempt() int {
	return int(n.attempt.Load())
}

func (n *SubscriberNotifier) Immediate() bool {
	return n.config.Immediate()
}

func (n *SubscriberNotifier) Periodical() bool {
	return n.config.Periodical()
}
