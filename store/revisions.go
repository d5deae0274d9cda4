package store

import "fmt"

// MaxExportableRevision returns the current revision watermark: the upper
// bound a notifier may claim as revision-to.
func (s *Store) MaxExportableRevision() (int64, error) {
	var revision int64
	err := s.readDB.QueryRow(`SELECT max_exportable FROM revisions WHERE id = 1`).Scan(&revision)
	if err != nil {
		return 0, fmt.Errorf("failed to read revision watermark: %w", err)
	}
	return revision, nil
}

// AdvanceRevision raises the watermark to the given revision. Lower values
// are ignored; the watermark never moves backwards.
func (s *Store) AdvanceRevision(revision int64) error {
	_, err := s.writeDB.Exec(`
		UPDATE revisions SET max_exportable = ? WHERE id = 1 AND max_exportable < ?`,
		revision, revision)
	if err != nil {
		return fmt.Errorf("failed to advance revision watermark: %w", err)
	}
	return nil
}

// NextRevision atomically increments and returns the watermark. The storage
// layer stamps each committed flush with the value.
func (s *Store) NextRevision() (int64, error) {
	var revision int64
	err := s.writeDB.QueryRow(`
		UPDATE revisions SET max_exportable = max_exportable + 1 WHERE id = 1
		RETURNING max_exportable`).Scan(&revision)
	if err != nil {
		return 0, fmt.Errorf("failed to advance revision watermark: %w", err)
	}
	return revision, nil
}
