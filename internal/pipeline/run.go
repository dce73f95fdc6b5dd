package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/podenginelabs/podengine/internal/runstore"
)

// ErrResumeStateCorrupt marks a persisted run snapshot that cannot be
// trusted. The orchestrator discards the old state and starts the run
// again from the beginning.
var ErrResumeStateCorrupt = errors.New("resume state corrupt")

// Run is the in-memory view of one pipeline run.
type Run struct {
	ID            string
	Topic         string
	Stage         Stage
	Attempts      map[Stage]int
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StageError wraps a failure in one stage with the attempt that hit it.
type StageError struct {
	Stage   Stage
	Attempt int
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s attempt %d: %v", e.Stage, e.Attempt, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (r *Run) toRecord() runstore.RunRecord {
	attempts := make(map[string]int, len(r.Attempts))
	for stage, n := range r.Attempts {
		attempts[string(stage)] = n
	}
	return runstore.RunRecord{
		ID:            r.ID,
		Topic:         r.Topic,
		Stage:         string(r.Stage),
		Attempts:      attempts,
		FailureReason: r.FailureReason,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func runFromRecord(rec *runstore.RunRecord) (*Run, error) {
	stage := Stage(rec.Stage)
	if !stage.Known() {
		return nil, fmt.Errorf("%w: unknown stage %q", ErrResumeStateCorrupt, rec.Stage)
	}
	if rec.Topic == "" {
		return nil, fmt.Errorf("%w: run %s has no topic", ErrResumeStateCorrupt, rec.ID)
	}
	attempts := make(map[Stage]int, len(rec.Attempts))
	for name, n := range rec.Attempts {
		attempts[Stage(name)] = n
	}
	return &Run{
		ID:            rec.ID,
		Topic:         rec.Topic,
		Stage:         stage,
		Attempts:      attempts,
		FailureReason: rec.FailureReason,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}, nil
}
