package checkpoint

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is the terminal snapshot of one pipeline run, keyed by the
// caller-supplied conversation thread. The pipeline only writes these; a
// future multi-turn design reads them back.
type Checkpoint struct {
	ThreadID   string
	RunID      string
	Question   string
	Outcome    string
	Query      string
	TextAnswer string
	CreatedAt  time.Time
}

type Store interface {
	Save(ctx context.Context, cp Checkpoint) error
	Latest(ctx context.Context, threadID string) (Checkpoint, error)
	HealthCheck(ctx context.Context) error
}
