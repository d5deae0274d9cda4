package push

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pushrelay/pushrelay/statistic"
)

// Mock implementations shared by the notifier and manager tests

type mockExpander struct {
	// hierarchy maps a configured class name to its concrete expansion.
	// A class without an entry expands to itself.
	hierarchy map[string][]string
	err       error
}

func (m *mockExpander) ConcreteSubclasses(className string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	if subs, ok := m.hierarchy[className]; ok {
		return subs, nil
	}
	return []string{className}, nil
}

type mockRevisions struct {
	revision atomic.Int64
	err      error
}

func (m *mockRevisions) MaxExportableRevision() (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.revision.Load(), nil
}

type mockConfigStore struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]SubscriptionStatus
	active   []*SubscriberConfiguration
	err      error
}

func (m *mockConfigStore) ListActive() ([]*SubscriberConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.err
}

func (m *mockConfigStore) SaveStatus(id uuid.UUID, status SubscriptionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.statuses == nil {
		m.statuses = make(map[uuid.UUID]SubscriptionStatus)
	}
	m.statuses[id] = status
	return nil
}

func (m *mockConfigStore) savedStatus(id uuid.UUID) (SubscriptionStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[id]
	return status, ok
}

type auditRecord struct {
	message      string
	err          error
	revisionFrom int64
	revisionTo   int64
}

type mockAudit struct {
	mu      sync.Mutex
	records []auditRecord
}

func (m *mockAudit) RecordMessage(config *SubscriberConfiguration, stat *statistic.ChangeStatistic, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record := auditRecord{message: message}
	if stat != nil {
		record.revisionFrom = stat.RevisionFrom
		record.revisionTo = stat.RevisionTo
	}
	m.records = append(m.records, record)
	return nil
}

func (m *mockAudit) RecordError(config *SubscriberConfiguration, stat *statistic.ChangeStatistic, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record := auditRecord{err: err}
	if stat != nil {
		record.revisionFrom = stat.RevisionFrom
		record.revisionTo = stat.RevisionTo
	}
	m.records = append(m.records, record)
	return nil
}

func (m *mockAudit) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *mockAudit) all() []auditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]auditRecord, len(m.records))
	copy(out, m.records)
	return out
}

type mockFlushSource struct {
	mu        sync.Mutex
	listeners []func(Flush)
}

func (m *mockFlushSource) Subscribe(listener func(Flush)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

func (m *mockFlushSource) publish(flush Flush) {
	m.mu.Lock()
	listeners := append([]func(Flush){}, m.listeners...)
	m.mu.Unlock()
	for _, listener := range listeners {
		listener(flush)
	}
}

func (m *mockFlushSource) listenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}
