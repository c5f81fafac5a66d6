package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/meetupwiki/internal/announcement"
	"github.com/starford/meetupwiki/internal/apperr"
	"github.com/starford/meetupwiki/internal/wiki"
)

// Record is one row of the runs table.
type Record struct {
	ID         string     `json:"id"`
	Number     int        `json:"number"`
	Page       string     `json:"page"`
	SourceURI  string     `json:"source_uri"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	State      string     `json:"state"`
	Error      string     `json:"error,omitempty"`
	Checksum   string     `json:"checksum,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Run tracks one in-flight publish run. It implements wiki.Observer.
type Run struct {
	db *DB
	id string
}

var _ wiki.Observer = (*Run)(nil)

// Begin inserts a running record for a.
func (db *DB) Begin(ctx context.Context, a announcement.Announcement, page string) (*Run, error) {
	id := uuid.NewString()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO runs (id, number, page, source_uri, kind, status, state, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, a.Number, page, a.SourceURI, a.Kind.String(), StatusRunning, wiki.StateInit.String(), db.now())
	if err != nil {
		return nil, fmt.Errorf("ledger: begin run: %w", err)
	}
	return &Run{db: db, id: id}, nil
}

// ID returns the run id.
func (r *Run) ID() string {
	return r.id
}

// Transition records s as the last completed state. Failures are logged;
// the ledger never stops a publish run.
func (r *Run) Transition(ctx context.Context, s wiki.State) {
	_, err := r.db.conn.ExecContext(ctx, `UPDATE runs SET state = ? WHERE id = ?`, s.String(), r.id)
	if err != nil {
		r.db.logger.Warn("ledger: record transition failed",
			slog.String("run", r.id),
			slog.String("state", s.String()),
			slog.String("error", err.Error()))
	}
}

// Finish closes the run with the outcome of wiki.Publisher.Generate.
func (r *Run) Finish(ctx context.Context, res *wiki.Result, runErr error) error {
	status := StatusSucceeded
	errText := ""
	if runErr != nil {
		status = StatusFailed
		errText = runErr.Error()
	}
	state := wiki.StateInit.String()
	checksum := ""
	if res != nil {
		state = res.State.String()
		checksum = res.Checksum
	}
	_, err := r.db.conn.ExecContext(context.WithoutCancel(ctx), `
		UPDATE runs SET status = ?, state = ?, error = ?, checksum = ?, finished_at = ?
		WHERE id = ?
	`, status, state, errText, checksum, r.db.now(), r.id)
	if err != nil {
		return fmt.Errorf("ledger: finish run: %w", err)
	}
	return nil
}

const selectRuns = `
	SELECT id, number, page, source_uri, kind, status, state, error, checksum, started_at, finished_at
	FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var finished sql.NullTime
	if err := s.Scan(&rec.ID, &rec.Number, &rec.Page, &rec.SourceURI, &rec.Kind,
		&rec.Status, &rec.State, &rec.Error, &rec.Checksum, &rec.StartedAt, &finished); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		rec.FinishedAt = &t
	}
	return &rec, nil
}

// Get returns the run with id.
func (db *DB) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(db.conn.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("ledger: get run: %w", err)
	}
	return rec, nil
}

// List returns the most recent runs, newest first. limit <= 0 means 50.
func (db *DB) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, selectRuns+` ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list runs: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan run: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// LastPublished returns the most recent successful run.
func (db *DB) LastPublished(ctx context.Context) (*Record, error) {
	rec, err := scanRecord(db.conn.QueryRowContext(ctx,
		selectRuns+` WHERE status = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`, StatusSucceeded))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("ledger: last published: %w", err)
	}
	return rec, nil
}
