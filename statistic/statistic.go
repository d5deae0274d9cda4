package statistic

import (
	"fmt"

	"github.com/google/uuid"
)

// Item holds change counters for a single entity class.
type Item struct {
	EntityClassName string `json:"entityClassName" msgpack:"class"`
	Created         int64  `json:"created" msgpack:"created"`
	Updated         int64  `json:"updated" msgpack:"updated"`
	Deleted         int64  `json:"deleted" msgpack:"deleted"`
}

// NewItem creates an empty counter set for a class.
func NewItem(entityClassName string) *Item {
	return &Item{EntityClassName: entityClassName}
}

func (i *Item) IncCreated() { i.Created++ }
func (i *Item) IncUpdated() { i.Updated++ }
func (i *Item) IncDeleted() { i.Deleted++ }

// Merge adds the other item's counters into this one, component-wise.
func (i *Item) Merge(other *Item) {
	i.Created += other.Created
	i.Updated += other.Updated
	i.Deleted += other.Deleted
}

func (i *Item) String() string {
	return fmt.Sprintf("Item{class: %s, created: %d, updated: %d, deleted: %d}",
		i.EntityClassName, i.Created, i.Updated, i.Deleted)
}

// ChangeStatistic aggregates per-class change counters over a revision
// interval. It comes in two shapes: a per-flush batch carrying counts and a
// provisional revision-to, or a per-subscriber accumulator carrying identity
// only, filled by draining a queue of batches.
type ChangeStatistic struct {
	RevisionFrom    int64            `json:"revisionFrom" msgpack:"rev_from"`
	RevisionTo      int64            `json:"revisionTo" msgpack:"rev_to"`
	ConfigurationID uuid.UUID        `json:"configurationId" msgpack:"config_id"`
	InstanceID      uuid.UUID        `json:"instanceId" msgpack:"instance_id"`
	ClassStatistics map[string]*Item `json:"classStatistics" msgpack:"classes"`
}

// NewAccumulator creates an empty accumulator owned by one subscriber
// configuration.
func NewAccumulator(configurationID, instanceID uuid.UUID) *ChangeStatistic {
	return &ChangeStatistic{
		ConfigurationID: configurationID,
		InstanceID:      instanceID,
		ClassStatistics: make(map[string]*Item),
	}
}

// NewFlushBatch creates the statistic of a single flush. The class map is
// copied so the caller may reuse its own.
func NewFlushBatch(revisionTo int64, perClass map[string]*Item) *ChangeStatistic {
	classes := make(map[string]*Item, len(perClass))
	for name, item := range perClass {
		classes[name] = item
	}
	return &ChangeStatistic{
		RevisionTo:      revisionTo,
		ClassStatistics: classes,
	}
}

// Append merges one class's counters into the accumulator, creating the
// class entry if absent. Merging is commutative and associative per class.
func (s *ChangeStatistic) Append(item *Item) {
	existing, ok := s.ClassStatistics[item.EntityClassName]
	if !ok {
		existing = NewItem(item.EntityClassName)
		s.ClassStatistics[item.EntityClassName] = existing
	}
	existing.Merge(item)
}

// Empty reports whether the statistic carries no class entries.
func (s *ChangeStatistic) Empty() bool {
	return len(s.ClassStatistics) == 0
}

func (s *ChangeStatistic) String() string {
	return fmt.Sprintf("ChangeStatistic{classes: %d, revisionFrom: %d, revisionTo: %d}",
		len(s.ClassStatistics), s.RevisionFrom, s.RevisionTo)
}
