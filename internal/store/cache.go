package store

import (
	"database/sql"
	"errors"
	"time"
)

// PutCachedSummary stores a serialized analytics summary for an exam along
// with the submission count it was computed from.
func (s *Store) PutCachedSummary(examID int64, submissionCount int, payload []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO analytics_cache (exam_id, submission_count, payload, computed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(exam_id) DO UPDATE SET
		   submission_count = excluded.submission_count,
		   payload = excluded.payload,
		   computed_at = excluded.computed_at`,
		examID, submissionCount, string(payload), time.Now(),
	)
	return err
}

// GetCachedSummary returns the cached summary payload and the submission
// count it was computed from. Returns (nil, 0, nil) on a cache miss.
func (s *Store) GetCachedSummary(examID int64) ([]byte, int, error) {
	var payload string
	var count int
	err := s.db.QueryRow(
		`SELECT payload, submission_count FROM analytics_cache WHERE exam_id = ?`, examID,
	).Scan(&payload, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return []byte(payload), count, nil
}

// InvalidateSummary drops the cached summary for an exam. Called after an
// answer key edit so the next dashboard view recomputes.
func (s *Store) InvalidateSummary(examID int64) error {
	_, err := s.db.Exec(`DELETE FROM analytics_cache WHERE exam_id = ?`, examID)
	return err
}
