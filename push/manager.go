package push

import (
	"context"

	"github.com/google/uuid"
	"github.com/pushrelay/pushrelay/sched"
	"github.com/pushrelay/pushrelay/statistic"
	"github.com/pushrelay/pushrelay/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// Manager owns the registry of active notifiers. It creates and restarts
// them on subscribe, removes them on unsubscribe, and fans flush statistics
// out to every Running notifier.
type Manager struct {
	notifiers *xsync.MapOf[uuid.UUID, *SubscriberNotifier]

	scheduler *sched.Scheduler
	executor  *sched.Executor
	deps      Deps
	settings  Settings
	flushes   FlushSource
}

// NewManager creates a manager around the process-wide scheduler and
// delivery executor.
func NewManager(
	scheduler *sched.Scheduler,
	executor *sched.Executor,
	flushes FlushSource,
	deps Deps,
	settings Settings,
) *Manager {
	return &Manager{
		notifiers: xsync.NewMapOf[uuid.UUID, *SubscriberNotifier](),
		scheduler: scheduler,
		executor:  executor,
		deps:      deps,
		settings:  settings,
		flushes:   flushes,
	}
}

// Bootstrap loads all persisted non-deleted configurations, subscribes each,
// and registers the flush-completion hook with the storage layer. Call it
// once the host process has started successfully; a cancelled context means
// the host never came up and bootstrap is skipped.
func (m *Manager) Bootstrap(ctx context.Context) error {
	select {
	case <-ctx.Done():
		log.Info().Msg("Skipping push notification bootstrap, host did not start")
		return ctx.Err()
	default:
	}

	configs, err := m.deps.Configs.ListActive()
	if err != nil {
		return err
	}

	for _, config := range configs {
		m.Subscribe(config)
	}

	m.flushes.Subscribe(m.OnFlushCompleted)

	log.Info().Int("subscriptions", len(configs)).Msg("Push notification service started")
	return nil
}

// Subscribe creates or restarts the notifier for a configuration. A
// configuration that cannot work (forced-disabled or non-live status) is
// ignored with a warning.
func (m *Manager) Subscribe(config *SubscriberConfiguration) {
	if !config.CanWork() {
		log.Warn().
			Str("subscriber", config.Alias()).
			Str("status", config.Status().String()).
			Bool("forced_disabled", config.ForcedDisabled()).
			Msg("Notifier can't be started")
		return
	}

	created := false
	m.notifiers.Compute(config.ID(),
		func(existing *SubscriberNotifier, loaded bool) (*SubscriberNotifier, bool) {
			// A live notifier picks the new parameters up in place, keeping
			// its queued statistics. A missing or stopped one is replaced
			// with a fresh instance (and an empty queue).
			if loaded && existing.Running() {
				if err := existing.Restart(); err != nil {
					log.Error().Err(err).
						Str("subscriber", config.Alias()).
						Msg("Failed to restart notifier")
				}
				return existing, false
			}

			notifier, err := NewSubscriberNotifier(config, m.scheduler, m.executor, m.deps, m.settings)
			if err != nil {
				log.Error().Err(err).
					Str("subscriber", config.Alias()).
					Msg("Failed to create notifier")
				// Keep whatever was there; delete if nothing was.
				return existing, !loaded
			}
			if config.Periodical() {
				notifier.Schedule()
			}
			created = true
			return notifier, false
		})

	if created {
		telemetry.ActiveNotifiers.Set(float64(m.notifiers.Size()))
		log.Info().
			Str("subscriber", config.Alias()).
			Str("id", config.ID().String()).
			Msg("Subscription created and started")
	} else {
		log.Info().
			Str("subscriber", config.Alias()).
			Str("id", config.ID().String()).
			Msg("Subscription restarted")
	}
}

// Unsubscribe removes the configuration's notifier from the registry and
// stops it.
func (m *Manager) Unsubscribe(config *SubscriberConfiguration, mayInterrupt bool) {
	notifier, ok := m.notifiers.LoadAndDelete(config.ID())
	if !ok {
		return
	}
	notifier.Unsubscribe(mayInterrupt)
	telemetry.ActiveNotifiers.Set(float64(m.notifiers.Size()))
}

// OnFlushCompleted turns one committed flush into a per-class change
// statistic and hands a reference to every Running notifier's queue.
// Immediate-mode notifiers are kicked right away; periodic ones wait for
// their timer. This runs synchronously on the flush path and must never
// block on network I/O; the actual delivery always goes through the
// executor.
func (m *Manager) OnFlushCompleted(flush Flush) {
	perClass := make(map[string]*statistic.Item)

	countInto := func(refs []EntityRef, inc func(*statistic.Item)) {
		for _, ref := range refs {
			item, ok := perClass[ref.ClassName]
			if !ok {
				item = statistic.NewItem(ref.ClassName)
				perClass[ref.ClassName] = item
			}
			inc(item)
		}
	}
	countInto(flush.Created, (*statistic.Item).IncCreated)
	countInto(flush.Deleted, (*statistic.Item).IncDeleted)
	countInto(flush.Updated, (*statistic.Item).IncUpdated)

	stat := statistic.NewFlushBatch(flush.Revision, perClass)
	telemetry.FlushesTotal.Inc()

	m.notifiers.Range(func(_ uuid.UUID, notifier *SubscriberNotifier) bool {
		if !notifier.Running() {
			return true
		}
		notifier.AddStatistic(stat)
		if notifier.Immediate() {
			notifier.Trigger()
		}
		return true
	})
}

// Notifier returns the registered notifier for a subscription id.
func (m *Manager) Notifier(id uuid.UUID) (*SubscriberNotifier, bool) {
	return m.notifiers.Load(id)
}

// Notifiers returns a point-in-time snapshot of all registered notifiers.
func (m *Manager) Notifiers() []*SubscriberNotifier {
	out := make([]*SubscriberNotifier, 0, m.notifiers.Size())
	m.notifiers.Range(func(_ uuid.UUID, notifier *SubscriberNotifier) bool {
		out = append(out, notifier)
		return true
	})
	return out
}

// Stop halts every registered notifier. The shared scheduler and executor
// are owned by the caller and stopped separately.
func (m *Manager) Stop() {
	m.notifiers.Range(func(id uuid.UUID, notifier *SubscriberNotifier) bool {
		notifier.Unsubscribe(true)
		m.notifiers.Delete(id)
		return true
	})
	telemetry.ActiveNotifiers.Set(0)
	log.Info().Msg("Push notification manager stopped")
}
