package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/worktrack/engine/batch"
	"github.com/worktrack/engine/settings"
)

// =============================================================================
// SETTINGS STORE (settings.Store interface)
// =============================================================================

// LatestSettings returns the highest settings version, or nil.
func (s *Store) LatestSettings(ctx context.Context) (*settings.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		v         settings.Version
		docJSON   string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT version, document_json, updated_by, created_at
		FROM settings_versions ORDER BY version DESC LIMIT 1
	`).Scan(&v.Number, &docJSON, &v.UpdatedBy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(docJSON), &v.Document); err != nil {
		return nil, fmt.Errorf("failed to decode settings version %d: %w", v.Number, err)
	}
	v.CreatedAt = parseTime(createdAt)
	return &v, nil
}

// AppendSettings stores doc as the next version.
func (s *Store) AppendSettings(ctx context.Context, doc settings.Document, updatedBy string) (*settings.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) + 1 FROM settings_versions",
	).Scan(&next); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO settings_versions (version, document_json, updated_by, created_at)
		VALUES (?, ?, ?, ?)
	`, next, string(docJSON), updatedBy, formatTime(now)); err != nil {
		return nil, fmt.Errorf("failed to append settings: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &settings.Version{Number: next, Document: doc, UpdatedBy: updatedBy, CreatedAt: now}, nil
}

// =============================================================================
// BATCH RUNS STORE
// =============================================================================

const runColumns = `id, day, dry_run, trigger_source, status, employees, recomputed,
	recompute_failures, lateness, penalties_created, penalty_failures, notified, error,
	started_at, completed_at`

// SaveBatchRun inserts or updates a batch run record.
func (s *Store) SaveBatchRun(ctx context.Context, r batch.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batch_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			employees = excluded.employees,
			recomputed = excluded.recomputed,
			recompute_failures = excluded.recompute_failures,
			lateness = excluded.lateness,
			penalties_created = excluded.penalties_created,
			penalty_failures = excluded.penalty_failures,
			notified = excluded.notified,
			error = excluded.error,
			completed_at = excluded.completed_at
	`,
		r.ID, r.Day.String(), boolInt(r.DryRun), r.Trigger, string(r.Status),
		r.Employees, r.Recomputed, r.RecomputeFailures, r.Lateness,
		r.PenaltiesCreated, r.PenaltyFailures, r.Notified, r.Error,
		formatTime(r.StartedAt), nullTime(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save batch run: %w", err)
	}
	return nil
}

// ListBatchRuns returns the most recent runs first.
func (s *Store) ListBatchRuns(ctx context.Context, limit int) ([]batch.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM batch_runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []batch.Run
	for rows.Next() {
		var (
			r           batch.Run
			day, status string
			dryRun      int
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &day, &dryRun, &r.Trigger, &status, &r.Employees, &r.Recomputed,
			&r.RecomputeFailures, &r.Lateness, &r.PenaltiesCreated, &r.PenaltyFailures,
			&r.Notified, &r.Error, &startedAt, &completedAt,
		); err != nil {
			return nil, err
		}
		r.Day = parseDate(day)
		r.DryRun = dryRun == 1
		r.Status = batch.RunStatus(status)
		r.StartedAt = parseTime(startedAt)
		r.CompletedAt = parseNullTime(completedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
