package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rivernews/slack-middleware-server/internal/queue"
)

var ErrNotFound = errors.New("not found")

// Store keeps the final record of finished jobs after Redis expired them.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS job_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			queue TEXT NOT NULL,
			job_id TEXT NOT NULL,
			state TEXT NOT NULL,
			payload TEXT NOT NULL,
			progress REAL NOT NULL DEFAULT 0,
			result TEXT DEFAULT NULL,
			failed_reason TEXT DEFAULT NULL,
			created_on INTEGER NOT NULL,
			finished_on INTEGER NOT NULL,
			UNIQUE (queue, job_id)
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating job_records table failed: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Archive upserts the record, a job archived twice keeps the latest state.
func (s *Store) Archive(ctx context.Context, r queue.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("job_id", r.ID))
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO job_records
			(queue, job_id, state, payload, progress, result, failed_reason, created_on, finished_on)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT (queue, job_id) DO UPDATE SET
			state = excluded.state,
			progress = excluded.progress,
			result = excluded.result,
			failed_reason = excluded.failed_reason,
			finished_on = excluded.finished_on;`,
		r.Queue, r.ID, string(r.State), string(r.Payload), r.Progress,
		nullString(string(r.Result)), nullString(r.FailedReason),
		r.CreatedOn.UnixMilli(), r.FinishedOn.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Get returns ErrNotFound for a job never archived.
func (s *Store) Get(ctx context.Context, queueName, jobID string) (queue.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, queue, state, payload, progress, result, failed_reason, created_on, finished_on
		FROM job_records WHERE queue=? AND job_id=?`, queueName, jobID,
	)
	r, err := scanRecord(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return queue.Record{}, ErrNotFound
	case err != nil:
		return queue.Record{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return r, nil
}

// Recent lists the newest records of a queue, at most limit.
func (s *Store) Recent(ctx context.Context, queueName string, limit int) ([]queue.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, queue, state, payload, progress, result, failed_reason, created_on, finished_on
		FROM job_records WHERE queue=? ORDER BY finished_on DESC, id DESC LIMIT ?`, queueName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []queue.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row failed: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (queue.Record, error) {
	var (
		r                 queue.Record
		state, payload    string
		result, reason    sql.NullString
		created, finished int64
	)
	err := s.Scan(&r.ID, &r.Queue, &state, &payload, &r.Progress, &result, &reason, &created, &finished)
	if err != nil {
		return queue.Record{}, err
	}
	r.State = queue.State(state)
	r.Payload = []byte(payload)
	if result.Valid {
		r.Result = []byte(result.String)
	}
	r.FailedReason = reason.String
	r.CreatedOn = time.UnixMilli(created).UTC()
	r.FinishedOn = time.UnixMilli(finished).UTC()
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
