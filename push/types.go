// Package push implements the change-notification dispatch core: per
// subscriber delivery state machines and the manager that fans flush
// statistics out to them.
package push

import (
	"github.com/google/uuid"
	"github.com/pushrelay/pushrelay/statistic"
)

// EntityRef identifies one changed entity within a flush. The id is the
// host's own identifier and is opaque here; only the class name matters for
// dispatch.
type EntityRef struct {
	ID        string `json:"id"`
	ClassName string `json:"className"`
}

// Flush describes one durable commit of the storage layer: the entities it
// created, updated and deleted, and the revision stamped on it.
type Flush struct {
	Revision int64       `json:"revision"`
	Created  []EntityRef `json:"created"`
	Updated  []EntityRef `json:"updated"`
	Deleted  []EntityRef `json:"deleted"`
}

// RevisionSource provides the current upper bound usable as revision-to.
type RevisionSource interface {
	MaxExportableRevision() (int64, error)
}

// SubclassExpander expands a class name to itself plus all of its concrete
// subclasses. Abstract classes are excluded from the result.
type SubclassExpander interface {
	ConcreteSubclasses(className string) ([]string, error)
}

// ConfigStore persists subscriber configurations.
type ConfigStore interface {
	// ListActive returns all non-deleted configurations.
	ListActive() ([]*SubscriberConfiguration, error)
	// SaveStatus persists a subscription status change.
	SaveStatus(id uuid.UUID, status SubscriptionStatus) error
}

// AuditSink records delivery failures and subscriber acknowledgment notices.
type AuditSink interface {
	RecordMessage(config *SubscriberConfiguration, stat *statistic.ChangeStatistic, message string) error
	RecordError(config *SubscriberConfiguration, stat *statistic.ChangeStatistic, err error) error
}

// FlushSource registers the flush-completion listener with the storage layer.
type FlushSource interface {
	Subscribe(listener func(Flush))
}
