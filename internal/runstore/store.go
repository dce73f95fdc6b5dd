package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/podenginelabs/podengine/internal/config"
)

// ErrNotFound is returned when a run is unknown to the store. In
// ephemeral mode every lookup reports it.
var ErrNotFound = errors.New("run not found")

// RunRecord is the persisted snapshot of a pipeline run. Attempts maps
// stage names to how many times each stage has been entered.
type RunRecord struct {
	ID            string
	Topic         string
	Stage         string
	Attempts      map[string]int
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StageEventRecord is one timeline entry for a run.
type StageEventRecord struct {
	ID        int64
	RunID     string
	Stage     string
	Type      string
	Attempt   int
	Detail    string
	CreatedAt time.Time
}

// Store wraps a SQLite-backed run and artifact store.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. Ephemeral mode returns
// a store whose writes are no-ops.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("run store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("run store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    topic TEXT NOT NULL,
    stage TEXT NOT NULL,
    attempts TEXT,
    failure_reason TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS artifacts (
    run_id TEXT NOT NULL,
    stage TEXT NOT NULL,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY(run_id, stage),
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS stage_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    stage TEXT,
    event_type TEXT,
    attempt INTEGER,
    detail TEXT,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_stage_events_run_created ON stage_events(run_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRun upserts a run snapshot.
func (s *Store) SaveRun(ctx context.Context, run RunRecord) error {
	if s.db == nil {
		return nil
	}
	attempts, err := json.Marshal(run.Attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	now := s.clock().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, topic, stage, attempts, failure_reason, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   stage=excluded.stage,
		   attempts=excluded.attempts,
		   failure_reason=excluded.failure_reason,
		   updated_at=excluded.updated_at`,
		run.ID, run.Topic, run.Stage, string(attempts), run.FailureReason, run.CreatedAt, now)
	return err
}

// GetRun loads a run snapshot by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	if s.db == nil {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, topic, stage, attempts, failure_reason, created_at, updated_at
		 FROM runs WHERE run_id = ?`, runID)

	var run RunRecord
	var attempts sql.NullString
	var created, updated string
	err := row.Scan(&run.ID, &run.Topic, &run.Stage, &attempts, &run.FailureReason, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if attempts.Valid && attempts.String != "" {
		if err := json.Unmarshal([]byte(attempts.String), &run.Attempts); err != nil {
			return nil, fmt.Errorf("decode attempts for run %s: %w", runID, err)
		}
	}
	if run.Attempts == nil {
		run.Attempts = make(map[string]int)
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		run.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		run.UpdatedAt = ts
	}
	return &run, nil
}

// ListRuns returns the most recently updated runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, topic, stage, failure_reason, created_at, updated_at
		 FROM runs ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var run RunRecord
		var created, updated string
		if err := rows.Scan(&run.ID, &run.Topic, &run.Stage, &run.FailureReason, &created, &updated); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			run.CreatedAt = ts
		}
		if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			run.UpdatedAt = ts
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveArtifact stores the completed output of one stage so a resumed run
// never repeats finished work.
func (s *Store) SaveArtifact(ctx context.Context, runID, stage string, payload []byte) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts(run_id, stage, payload, created_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(run_id, stage) DO UPDATE SET payload=excluded.payload, created_at=excluded.created_at`,
		runID, stage, payload, s.clock().UTC())
	return err
}

// GetArtifact loads a stage output. Returns ErrNotFound when the stage
// never completed.
func (s *Store) GetArtifact(ctx context.Context, runID, stage string) ([]byte, error) {
	if s.db == nil {
		return nil, ErrNotFound
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM artifacts WHERE run_id = ? AND stage = ?`, runID, stage).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// AppendStageEvent records one timeline entry for a run.
func (s *Store) AppendStageEvent(ctx context.Context, evt StageEventRecord) error {
	if s.db == nil {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_events(run_id, stage, event_type, attempt, detail, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		evt.RunID, evt.Stage, evt.Type, evt.Attempt, evt.Detail, evt.CreatedAt)
	return err
}

// ListRunEvents retrieves up to limit timeline entries for a run ordered
// ascending by time.
func (s *Store) ListRunEvents(ctx context.Context, runID string, limit int) ([]StageEventRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, event_type, attempt, detail, created_at
		 FROM stage_events WHERE run_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StageEventRecord
	for rows.Next() {
		var e StageEventRecord
		var created string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Stage, &e.Type, &e.Attempt, &e.Detail, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE updated_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY updated_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
