package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/finquery/finquery/internal/checkpoint"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping checkpoint db: %w", err)
	}
	return nil
}

// EnsureSchema creates the checkpoint table when it is missing. Called once
// at startup, before the first request.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS pipeline_checkpoint (
    thread_id   TEXT        NOT NULL,
    run_id      TEXT        NOT NULL,
    question    TEXT        NOT NULL,
    outcome     TEXT        NOT NULL,
    query       TEXT        NOT NULL DEFAULT '',
    text_answer TEXT        NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (thread_id, run_id)
)`)
	if err != nil {
		return fmt.Errorf("ensure checkpoint schema: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, cp checkpoint.Checkpoint) error {
	query := `
INSERT INTO pipeline_checkpoint (thread_id, run_id, question, outcome, query, text_answer)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at`
	var createdAt time.Time
	if err := s.db.QueryRowContext(ctx, query,
		cp.ThreadID, cp.RunID, cp.Question, cp.Outcome, cp.Query, cp.TextAnswer,
	).Scan(&createdAt); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, threadID string) (checkpoint.Checkpoint, error) {
	query := `
SELECT thread_id, run_id, question, outcome, query, text_answer, created_at
FROM pipeline_checkpoint
WHERE thread_id = $1
ORDER BY created_at DESC
LIMIT 1`

	var cp checkpoint.Checkpoint
	if err := s.db.QueryRowContext(ctx, query, threadID).Scan(
		&cp.ThreadID,
		&cp.RunID,
		&cp.Question,
		&cp.Outcome,
		&cp.Query,
		&cp.TextAnswer,
		&cp.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
		}
		return checkpoint.Checkpoint{}, fmt.Errorf("load latest checkpoint: %w", err)
	}
	return cp, nil
}
