package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailledger/internal/model"
)

const runColumns = `id, mailbox, started_at, finished_at, cursor_before, cursor_after,
	candidates, skipped_senders, saved, rejected, duplicates, empty,
	persistence_failed, error`

type runRow struct {
	ID                string       `db:"id"`
	Mailbox           string       `db:"mailbox"`
	StartedAt         time.Time    `db:"started_at"`
	FinishedAt        sql.NullTime `db:"finished_at"`
	CursorBefore      int64        `db:"cursor_before"`
	CursorAfter       int64        `db:"cursor_after"`
	Candidates        int          `db:"candidates"`
	SkippedSenders    int          `db:"skipped_senders"`
	Saved             int          `db:"saved"`
	Rejected          int          `db:"rejected"`
	Duplicates        int          `db:"duplicates"`
	Empty             int          `db:"empty"`
	PersistenceFailed int          `db:"persistence_failed"`
	Error             string       `db:"error"`
}

// SaveRun inserts an ingestion run audit record, assigning an ID when it
// has none.
func (s *SQLStore) SaveRun(ctx context.Context, run model.IngestionRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	var finished sql.NullTime
	if run.FinishedAt != nil {
		finished = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Mailbox, run.StartedAt.UTC(), finished,
		int64(run.CursorBefore), int64(run.CursorAfter),
		run.Candidates, run.SkippedSenders, run.Saved, run.Rejected,
		run.Duplicates, run.Empty, run.PersistenceFailed, run.Error,
	)
	if err != nil {
		return fmt.Errorf("saving ingestion run %s: %w", run.ID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *SQLStore) RecentRuns(ctx context.Context, limit int) ([]model.IngestionRun, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []runRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+runColumns+" FROM ingestion_runs ORDER BY started_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying ingestion runs: %w", err)
	}

	runs := make([]model.IngestionRun, 0, len(rows))
	for _, r := range rows {
		run := model.IngestionRun{
			ID:                r.ID,
			Mailbox:           r.Mailbox,
			StartedAt:         r.StartedAt.UTC(),
			CursorBefore:      uint32(r.CursorBefore),
			CursorAfter:       uint32(r.CursorAfter),
			Candidates:        r.Candidates,
			SkippedSenders:    r.SkippedSenders,
			Saved:             r.Saved,
			Rejected:          r.Rejected,
			Duplicates:        r.Duplicates,
			Empty:             r.Empty,
			PersistenceFailed: r.PersistenceFailed,
			Error:             r.Error,
		}
		if r.FinishedAt.Valid {
			t := r.FinishedAt.Time.UTC()
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, nil
}
