package store

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/pushrelay/pushrelay/push"
	"github.com/pushrelay/pushrelay/statistic"
	"github.com/vmihailenco/msgpack/v5"
)

// Event is one persisted audit record: a delivery failure or a subscriber
// acknowledgment notice.
type Event struct {
	ID              int64
	ConfigurationID uuid.UUID
	Alias           string
	RevisionFrom    int64
	RevisionTo      int64
	Message         string
	Error           string
	CreatedAt       time.Time
}

// RecordMessage persists an audit event carrying a free-text message.
func (s *Store) RecordMessage(config *push.SubscriberConfiguration, stat *statistic.ChangeStatistic, message string) error {
	return s.insertEvent(config, stat, message, "", nil)
}

// RecordError persists an audit event carrying an error and the stack at the
// point of recording.
func (s *Store) RecordError(config *push.SubscriberConfiguration, stat *statistic.ChangeStatistic, cause error) error {
	return s.insertEvent(config, stat, "", cause.Error(), debug.Stack())
}

func (s *Store) insertEvent(config *push.SubscriberConfiguration, stat *statistic.ChangeStatistic, message, errText string, stack []byte) error {
	var snapshot []byte
	var revisionFrom, revisionTo int64
	if stat != nil {
		revisionFrom = stat.RevisionFrom
		revisionTo = stat.RevisionTo
		var err error
		snapshot, err = msgpack.Marshal(stat)
		if err != nil {
			return fmt.Errorf("failed to encode statistic snapshot: %w", err)
		}
	}

	_, err := s.writeDB.Exec(`
		INSERT INTO push_notification_events
			(configuration_id, alias, revision_from, revision_to, message, error, stack, statistic, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		config.ID().String(),
		config.Alias(),
		revisionFrom,
		revisionTo,
		message,
		errText,
		string(stack),
		snapshot,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit newest audit events, optionally filtered
// to one configuration.
func (s *Store) RecentEvents(configurationID *uuid.UUID, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, configuration_id, alias, revision_from, revision_to, message, error, created_at
		FROM push_notification_events`
	args := []any{}
	if configurationID != nil {
		query += ` WHERE configuration_id = ?`
		args = append(args, configurationID.String())
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.readDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event     Event
			idText    string
			createdAt int64
		)
		if err := rows.Scan(&event.ID, &idText, &event.Alias, &event.RevisionFrom,
			&event.RevisionTo, &event.Message, &event.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.ConfigurationID, err = uuid.Parse(idText)
		if err != nil {
			return nil, fmt.Errorf("invalid configuration id %q: %w", idText, err)
		}
		event.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, event)
	}
	return events, rows.Err()
}
