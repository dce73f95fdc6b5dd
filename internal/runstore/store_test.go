package runstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/podenginelabs/podengine/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.StoreConfig{Path: filepath.Join(t.TempDir(), "runs.db"), RetentionMode: "persistent"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open run store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.StoreConfig{RetentionMode: "ephemeral"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.SaveRun(context.Background(), RunRecord{ID: "run-1", Topic: "space", Stage: "Researching"}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if _, err := s.GetRun(context.Background(), "run-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from ephemeral store, got %v", err)
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	run := RunRecord{
		ID:       "run-1",
		Topic:    "the history of radio",
		Stage:    "Researching",
		Attempts: map[string]int{"Researching": 1},
	}
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("save run: %v", err)
	}

	run.Stage = "Summarizing"
	run.Attempts["Summarizing"] = 1
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Topic != run.Topic {
		t.Fatalf("topic mismatch: %q", got.Topic)
	}
	if got.Stage != "Summarizing" {
		t.Fatalf("expected updated stage, got %q", got.Stage)
	}
	if got.Attempts["Researching"] != 1 || got.Attempts["Summarizing"] != 1 {
		t.Fatalf("attempts not preserved: %v", got.Attempts)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := openStore(t)
	if _, err := s.GetRun(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.SaveRun(ctx, RunRecord{ID: "run-1", Topic: "bees", Stage: "Researching"}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := s.SaveArtifact(ctx, "run-1", "Researching", []byte(`{"topic":"bees"}`)); err != nil {
		t.Fatalf("save artifact: %v", err)
	}

	payload, err := s.GetArtifact(ctx, "run-1", "Researching")
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if string(payload) != `{"topic":"bees"}` {
		t.Fatalf("unexpected payload: %s", payload)
	}

	// overwrite wins
	if err := s.SaveArtifact(ctx, "run-1", "Researching", []byte(`{"topic":"wasps"}`)); err != nil {
		t.Fatalf("overwrite artifact: %v", err)
	}
	payload, err = s.GetArtifact(ctx, "run-1", "Researching")
	if err != nil {
		t.Fatalf("get artifact after overwrite: %v", err)
	}
	if string(payload) != `{"topic":"wasps"}` {
		t.Fatalf("expected overwritten payload, got %s", payload)
	}

	if _, err := s.GetArtifact(ctx, "run-1", "Scripting"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing stage, got %v", err)
	}
}

func TestStageEventTimeline(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.SaveRun(ctx, RunRecord{ID: "run-1", Topic: "volcanoes", Stage: "Researching"}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	for i, typ := range []string{"entered", "completed", "entered"} {
		evt := StageEventRecord{RunID: "run-1", Stage: "Researching", Type: typ, Attempt: i/2 + 1}
		if err := s.AppendStageEvent(ctx, evt); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}

	events, err := s.ListRunEvents(ctx, "run-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != "entered" || events[1].Type != "completed" {
		t.Fatalf("events out of order: %+v", events)
	}
}

func TestPruneByDaysAndMaxRuns(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "runs.db"), RetentionMode: "persistent", RetentionDays: 1, MaxRuns: 1}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open run store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.SaveRun(ctx, RunRecord{ID: "old-run", Topic: "a", Stage: "Complete"}); err != nil {
		t.Fatalf("save old run: %v", err)
	}
	if err := s.SaveArtifact(ctx, "old-run", "Researching", []byte("x")); err != nil {
		t.Fatalf("save old artifact: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.SaveRun(ctx, RunRecord{ID: "new-run", Topic: "b", Stage: "Complete"}); err != nil {
		t.Fatalf("save new run: %v", err)
	}
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if _, err := s.GetRun(ctx, "old-run"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old run pruned, got %v", err)
	}
	if _, err := s.GetArtifact(ctx, "old-run", "Researching"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old artifacts cascaded away, got %v", err)
	}
	if _, err := s.GetRun(ctx, "new-run"); err != nil {
		t.Fatalf("new run should survive prune: %v", err)
	}
}
