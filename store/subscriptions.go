package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pushrelay/pushrelay/push"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when a lookup matches no live subscription.
var ErrNotFound = errors.New("subscription not found")

// SaveConfiguration inserts or replaces one subscriber configuration.
func (s *Store) SaveConfiguration(config *push.SubscriberConfiguration) error {
	classes, err := msgpack.Marshal(config.SubscriptionClasses())
	if err != nil {
		return fmt.Errorf("failed to encode subscription classes: %w", err)
	}

	now := time.Now().Unix()
	_, err = s.writeDB.Exec(`
		INSERT INTO push_subscriptions
			(id, alias, url, notification_period_sec, connect_timeout_ms, media_type,
			 forced_disabled, classes, expire_at, status, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			alias = excluded.alias,
			url = excluded.url,
			notification_period_sec = excluded.notification_period_sec,
			connect_timeout_ms = excluded.connect_timeout_ms,
			media_type = excluded.media_type,
			forced_disabled = excluded.forced_disabled,
			classes = excluded.classes,
			expire_at = excluded.expire_at,
			status = excluded.status,
			deleted = 0,
			updated_at = excluded.updated_at`,
		config.ID().String(),
		config.Alias(),
		config.URL(),
		int(config.NotificationPeriod()/time.Second),
		int(config.ConnectTimeout()/time.Millisecond),
		config.MediaType(),
		boolToInt(config.ForcedDisabled()),
		classes,
		config.ExpireAt().Unix(),
		config.Status().String(),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	return nil
}

// SaveStatus persists a subscription status change.
func (s *Store) SaveStatus(id uuid.UUID, status push.SubscriptionStatus) error {
	_, err := s.writeDB.Exec(`
		UPDATE push_subscriptions SET status = ?, updated_at = ? WHERE id = ?`,
		status.String(), time.Now().Unix(), id.String())
	if err != nil {
		return fmt.Errorf("failed to save subscription status: %w", err)
	}
	return nil
}

// SetForcedDisabled persists the administrative override flag.
func (s *Store) SetForcedDisabled(id uuid.UUID, disabled bool) error {
	_, err := s.writeDB.Exec(`
		UPDATE push_subscriptions SET forced_disabled = ?, updated_at = ? WHERE id = ?`,
		boolToInt(disabled), time.Now().Unix(), id.String())
	if err != nil {
		return fmt.Errorf("failed to save forced-disabled flag: %w", err)
	}
	return nil
}

// DeleteConfiguration logically deletes a subscription.
func (s *Store) DeleteConfiguration(id uuid.UUID) error {
	_, err := s.writeDB.Exec(`
		UPDATE push_subscriptions SET deleted = 1, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), id.String())
	if err != nil {
		return fmt.Errorf("failed to delete configuration: %w", err)
	}
	return nil
}

// GetConfiguration loads one non-deleted configuration. Returns ErrNotFound
// for an unknown or logically deleted id.
func (s *Store) GetConfiguration(id uuid.UUID) (*push.SubscriberConfiguration, error) {
	row := s.readDB.QueryRow(selectConfiguration+` WHERE id = ? AND deleted = 0`, id.String())
	config, err := scanConfiguration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return config, err
}

// ListActive returns all non-deleted configurations.
func (s *Store) ListActive() ([]*push.SubscriberConfiguration, error) {
	rows, err := s.readDB.Query(selectConfiguration + ` WHERE deleted = 0 ORDER BY alias`)
	if err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}
	defer rows.Close()

	var configs []*push.SubscriberConfiguration
	for rows.Next() {
		config, err := scanConfiguration(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, config)
	}
	return configs, rows.Err()
}

const selectConfiguration = `
	SELECT id, alias, url, notification_period_sec, connect_timeout_ms, media_type,
	       forced_disabled, classes, expire_at, status
	FROM push_subscriptions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfiguration(row rowScanner) (*push.SubscriberConfiguration, error) {
	var (
		idText       string
		alias        string
		url          string
		periodSec    int
		connectMS    int
		mediaType    string
		forced       int
		classesBlob  []byte
		expireAtUnix int64
		statusText   string
	)
	if err := row.Scan(&idText, &alias, &url, &periodSec, &connectMS, &mediaType,
		&forced, &classesBlob, &expireAtUnix, &statusText); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan configuration: %w", err)
	}

	id, err := uuid.Parse(idText)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration id %q: %w", idText, err)
	}

	var classes []string
	if err := msgpack.Unmarshal(classesBlob, &classes); err != nil {
		return nil, fmt.Errorf("failed to decode subscription classes: %w", err)
	}

	status, ok := push.ParseSubscriptionStatus(statusText)
	if !ok {
		return nil, fmt.Errorf("unknown subscription status %q", statusText)
	}

	return push.RestoreSubscriberConfiguration(
		id,
		alias,
		url,
		time.Duration(periodSec)*time.Second,
		time.Duration(connectMS)*time.Millisecond,
		mediaType,
		forced != 0,
		classes,
		time.Unix(expireAtUnix, 0),
		status,
	), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
