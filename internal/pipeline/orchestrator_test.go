package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/podenginelabs/podengine/internal/audio"
	"github.com/podenginelabs/podengine/internal/config"
	"github.com/podenginelabs/podengine/internal/llm"
	"github.com/podenginelabs/podengine/internal/research"
	"github.com/podenginelabs/podengine/internal/runstore"
	"github.com/podenginelabs/podengine/internal/script"
	"github.com/podenginelabs/podengine/internal/tts"
	"github.com/podenginelabs/podengine/internal/voice"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// countingGenerator counts language model calls so tests can prove that
// resumed runs skip completed stages.
type countingGenerator struct {
	inner llm.Generator
	calls atomic.Int64
}

func (g *countingGenerator) Generate(ctx context.Context, req llm.Request, consumer func(llm.Chunk) error) error {
	g.calls.Add(1)
	return g.inner.Generate(ctx, req, consumer)
}

type countingProvider struct {
	inner research.Provider
	calls atomic.Int64
}

func (p *countingProvider) Search(ctx context.Context, query string, maxResults int) ([]research.Source, error) {
	p.calls.Add(1)
	return p.inner.Search(ctx, query, maxResults)
}

type failingProvider struct{}

func (failingProvider) Search(context.Context, string, int) ([]research.Source, error) {
	return nil, errors.New("search backend down")
}

// brokenSynth always fails, forcing the Producing stage to exhaust its
// attempts.
type brokenSynth struct{}

func (brokenSynth) Synthesize(ctx context.Context, req tts.SynthRequest) (<-chan tts.SynthChunk, <-chan error) {
	chunks := make(chan tts.SynthChunk)
	errs := make(chan error, 1)
	close(chunks)
	errs <- errors.New("voice model unavailable")
	close(errs)
	return chunks, errs
}

type testHarness struct {
	cfg      config.Config
	store    *runstore.Store
	gen      *countingGenerator
	provider *countingProvider
	voices   *voice.Registry
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "runs.db")
	cfg.Pipeline.OutputDir = t.TempDir()
	cfg.Pipeline.GapMS = 200
	cfg.Pipeline.MaxStageAttempts = 2
	cfg.Pipeline.MaxLineAttempts = 1
	cfg.Pipeline.SynthConcurrency = 2
	cfg.Voices.ReferenceDir = t.TempDir()
	cfg.TTS.SampleRate = 8000
	cfg.TTS.Channels = 1

	store, err := runstore.Open(context.Background(), cfg.Store, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	voices, err := voice.NewRegistry(context.Background(), cfg.Voices, voice.NewMockRefGenerator(8000), newLogger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	return &testHarness{
		cfg:      cfg,
		store:    store,
		gen:      &countingGenerator{inner: llm.NewMockGenerator()},
		provider: &countingProvider{inner: research.NewMockProvider()},
		voices:   voices,
	}
}

func (h *testHarness) orchestrator(t *testing.T, synth tts.Synthesizer) *Orchestrator {
	t.Helper()
	if synth == nil {
		synth = tts.NewMockSynth(h.cfg.TTS.SampleRate, h.cfg.TTS.Channels)
	}
	segments := tts.NewSegmentSynthesizer(synth, h.voices, 5*time.Second, h.cfg.TTS.SampleRate, h.cfg.TTS.Channels)
	producer := tts.NewProducer(segments, h.cfg.Pipeline.SynthConcurrency, h.cfg.Pipeline.MaxLineAttempts, newLogger())
	researcher := research.NewResearcher(h.provider, h.cfg.Search.MaxResults, newLogger())
	return New(h.cfg, Deps{
		Store:      h.store,
		Researcher: researcher,
		Generator:  h.gen,
		Voices:     h.voices,
		Producer:   producer,
		Logger:     newLogger(),
	})
}

func TestRunEndToEnd(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, nil)

	run, err := o.Run(context.Background(), "the history of shortwave radio")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Stage != StageComplete {
		t.Fatalf("expected Complete, got %s", run.Stage)
	}

	masterPath := filepath.Join(h.cfg.Pipeline.OutputDir, run.ID, audio.MasterFilename)
	if _, err := os.Stat(masterPath); err != nil {
		t.Fatalf("master recording missing: %v", err)
	}
	samples, rate, channels, err := audio.ReadWAV(masterPath)
	if err != nil {
		t.Fatalf("read master: %v", err)
	}
	if rate != 8000 || channels != 1 {
		t.Fatalf("unexpected master format %d/%dch", rate, channels)
	}
	if len(samples) == 0 {
		t.Fatal("master has no audio")
	}

	// every stage left its artifact behind
	for _, stage := range stageOrder {
		if _, err := h.store.GetArtifact(context.Background(), run.ID, string(stage)); err != nil {
			t.Fatalf("missing %s artifact: %v", stage, err)
		}
	}

	rec, err := h.store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if rec.Stage != string(StageComplete) {
		t.Fatalf("stored stage %q", rec.Stage)
	}
	for stage, n := range rec.Attempts {
		if n != 0 {
			t.Fatalf("clean run must not record attempts, got %d for %s", n, stage)
		}
	}
}

func TestRunKeepsSegmentFiles(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, nil)

	run, err := o.Run(context.Background(), "urban beekeeping")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	dir := filepath.Join(h.cfg.Pipeline.OutputDir, run.ID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read run dir: %v", err)
	}
	segments := 0
	for _, e := range entries {
		if e.Name() != audio.MasterFilename {
			segments++
		}
	}
	if segments == 0 {
		t.Fatal("expected segment files to be kept")
	}
}

func TestRunRemovesSegmentsWhenConfigured(t *testing.T) {
	h := newHarness(t)
	h.cfg.Pipeline.KeepSegments = false
	o := h.orchestrator(t, nil)

	run, err := o.Run(context.Background(), "deep sea exploration")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	dir := filepath.Join(h.cfg.Pipeline.OutputDir, run.ID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read run dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != audio.MasterFilename {
			t.Fatalf("unexpected leftover file %s", e.Name())
		}
	}
}

func TestRunRejectsEmptyTopic(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, nil)
	if _, err := o.Run(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty topic")
	}
}

func TestRunFailsAfterStageExhaustion(t *testing.T) {
	h := newHarness(t)
	h.provider.inner = failingProvider{}
	o := h.orchestrator(t, nil)

	run, err := o.Run(context.Background(), "a topic nobody can research")
	if err == nil {
		t.Fatal("expected run to fail")
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %T: %v", err, err)
	}
	if stageErr.Stage != StageResearching {
		t.Fatalf("expected failure in Researching, got %s", stageErr.Stage)
	}
	if run.Stage != StageFailed {
		t.Fatalf("expected Failed, got %s", run.Stage)
	}
	if run.FailureReason == "" {
		t.Fatal("expected failure reason to be recorded")
	}

	rec, err := h.store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if rec.Attempts[string(StageResearching)] != h.cfg.Pipeline.MaxStageAttempts {
		t.Fatalf("expected %d attempts recorded, got %d",
			h.cfg.Pipeline.MaxStageAttempts, rec.Attempts[string(StageResearching)])
	}
}

func TestResumeSkipsCompletedStages(t *testing.T) {
	h := newHarness(t)

	// First pass: production is broken, so the run dies in Producing
	// with research, summary and script artifacts already persisted.
	broken := h.orchestrator(t, brokenSynth{})
	run, err := broken.Run(context.Background(), "the physics of sound")
	if err == nil {
		t.Fatal("expected first pass to fail")
	}
	if run.Stage != StageFailed {
		t.Fatalf("expected Failed, got %s", run.Stage)
	}

	llmCallsBefore := h.gen.calls.Load()
	searchesBefore := h.provider.calls.Load()

	// Second pass with a healthy synthesizer resumes and finishes.
	fixed := h.orchestrator(t, nil)
	resumed, err := fixed.Resume(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Stage != StageComplete {
		t.Fatalf("expected Complete, got %s", resumed.Stage)
	}

	if got := h.gen.calls.Load(); got != llmCallsBefore {
		t.Fatalf("resume re-ran language model stages: %d extra calls", got-llmCallsBefore)
	}
	if got := h.provider.calls.Load(); got != searchesBefore {
		t.Fatalf("resume re-ran research: %d extra searches", got-searchesBefore)
	}

	masterPath := filepath.Join(h.cfg.Pipeline.OutputDir, run.ID, audio.MasterFilename)
	if _, err := os.Stat(masterPath); err != nil {
		t.Fatalf("master recording missing after resume: %v", err)
	}
}

func TestResumedRunMatchesUninterruptedRun(t *testing.T) {
	// An uninterrupted run and an interrupted-then-resumed run of the
	// same topic must produce identical audio.
	straight := newHarness(t)
	full, err := straight.orchestrator(t, nil).Run(context.Background(), "the physics of sound")
	if err != nil {
		t.Fatalf("uninterrupted run: %v", err)
	}

	interrupted := newHarness(t)
	run, err := interrupted.orchestrator(t, brokenSynth{}).Run(context.Background(), "the physics of sound")
	if err == nil {
		t.Fatal("expected interrupted run to fail")
	}
	if _, err := interrupted.orchestrator(t, nil).Resume(context.Background(), run.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}

	a, _, _, err := audio.ReadWAV(filepath.Join(straight.cfg.Pipeline.OutputDir, full.ID, audio.MasterFilename))
	if err != nil {
		t.Fatalf("read uninterrupted master: %v", err)
	}
	b, _, _, err := audio.ReadWAV(filepath.Join(interrupted.cfg.Pipeline.OutputDir, run.ID, audio.MasterFilename))
	if err != nil {
		t.Fatalf("read resumed master: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("resumed run produced different audio than uninterrupted run")
	}
}

func TestResumeUnknownRun(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, nil)
	if _, err := o.Resume(context.Background(), "no-such-run"); !errors.Is(err, runstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResumeCorruptSnapshotStartsOver(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, nil)

	// A snapshot naming a stage this pipeline does not know is corrupt.
	rec := runstore.RunRecord{ID: "run-corrupt", Topic: "glassblowing", Stage: "Dreaming"}
	if err := h.store.SaveRun(context.Background(), rec); err != nil {
		t.Fatalf("save corrupt run: %v", err)
	}

	run, err := o.Resume(context.Background(), "run-corrupt")
	if err != nil {
		t.Fatalf("resume should restart corrupt run: %v", err)
	}
	if run.Stage != StageComplete {
		t.Fatalf("expected restarted run to complete, got %s", run.Stage)
	}
	if h.provider.calls.Load() == 0 {
		t.Fatal("restarted run should have researched from scratch")
	}
}

func TestResumeWithStitchingOnlyRemaining(t *testing.T) {
	h := newHarness(t)

	// Persist a run stopped right before stitching: four artifacts and
	// segment files on disk, no master.
	runID := "run-prestitch"
	runDir := filepath.Join(h.cfg.Pipeline.OutputDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := h.store.SaveRun(context.Background(), runstore.RunRecord{
		ID: runID, Topic: "migratory birds", Stage: string(StageProducing),
	}); err != nil {
		t.Fatalf("save run: %v", err)
	}

	o := h.orchestrator(t, brokenSynth{}) // production must not be needed

	notes := &research.Notes{Topic: "migratory birds", Sources: []research.Source{{Title: "t", Snippet: "s", URL: "u"}}}
	if err := o.saveArtifact(context.Background(), runID, StageResearching, notes); err != nil {
		t.Fatalf("save notes: %v", err)
	}
	summary := &script.Summary{Topic: "migratory birds", Text: "they fly far"}
	if err := o.saveArtifact(context.Background(), runID, StageSummarizing, summary); err != nil {
		t.Fatalf("save summary: %v", err)
	}
	scr := &script.Script{Topic: "migratory birds", Lines: []script.Line{
		{Index: 0, Speaker: script.SpeakerHost, Text: "hello"},
		{Index: 1, Speaker: script.SpeakerExpert, Text: "hi"},
	}}
	if err := o.saveArtifact(context.Background(), runID, StageScripting, scr); err != nil {
		t.Fatalf("save script: %v", err)
	}

	refs := make([]SegmentRef, 2)
	for i, speaker := range []string{script.SpeakerHost, script.SpeakerExpert} {
		seg := audio.Segment{Index: i, Speaker: speaker, SampleRate: 8000, Channels: 1, Samples: make([]int, 800)}
		if err := audio.WriteSegment(runDir, &seg); err != nil {
			t.Fatalf("write segment %d: %v", i, err)
		}
		refs[i] = SegmentRef{Index: i, Speaker: speaker, Path: seg.Path, SampleRate: 8000, Channels: 1}
	}
	if err := o.saveArtifact(context.Background(), runID, StageProducing, ProducedArtifact{Segments: refs}); err != nil {
		t.Fatalf("save produced artifact: %v", err)
	}

	run, err := o.Resume(context.Background(), runID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if run.Stage != StageComplete {
		t.Fatalf("expected Complete, got %s", run.Stage)
	}

	samples, rate, _, err := audio.ReadWAV(filepath.Join(runDir, audio.MasterFilename))
	if err != nil {
		t.Fatalf("read master: %v", err)
	}
	// 800 + gap(200ms @ 8kHz = 1600) + 800
	if want := 800 + 1600 + 800; len(samples) != want {
		t.Fatalf("expected %d master samples, got %d", want, len(samples))
	}
	if rate != 8000 {
		t.Fatalf("unexpected rate %d", rate)
	}
}

func TestResumeCompletedRunIsNoOp(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, nil)

	run, err := o.Run(context.Background(), "fermentation")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	llmCalls := h.gen.calls.Load()

	resumed, err := o.Resume(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("resume complete run: %v", err)
	}
	if resumed.Stage != StageComplete {
		t.Fatalf("expected Complete, got %s", resumed.Stage)
	}
	if h.gen.calls.Load() != llmCalls {
		t.Fatal("resuming a complete run should do no work")
	}
}

func TestStageOrderTransitions(t *testing.T) {
	cases := []struct {
		from, to Stage
	}{
		{StageResearching, StageSummarizing},
		{StageSummarizing, StageScripting},
		{StageScripting, StageProducing},
		{StageProducing, StageStitching},
		{StageStitching, StageComplete},
	}
	for _, tc := range cases {
		if got := tc.from.next(); got != tc.to {
			t.Fatalf("%s should advance to %s, got %s", tc.from, tc.to, got)
		}
	}
	if !StageComplete.Terminal() || !StageFailed.Terminal() {
		t.Fatal("terminal stages misreported")
	}
	if StageProducing.Terminal() {
		t.Fatal("Producing is not terminal")
	}
	if Stage("Dreaming").Known() {
		t.Fatal("unknown stage accepted")
	}
}

func TestFormatMismatchFailsWithoutRetry(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, nil)

	run := &Run{ID: "run-fmt", Topic: "x", Stage: StageStitching, Attempts: make(map[Stage]int)}
	if err := h.store.SaveRun(context.Background(), run.toRecord()); err != nil {
		t.Fatalf("save run: %v", err)
	}
	state := &runState{segments: []audio.Segment{
		{Index: 0, Speaker: script.SpeakerHost, SampleRate: 8000, Channels: 1, Samples: make([]int, 100)},
		{Index: 1, Speaker: script.SpeakerExpert, SampleRate: 16000, Channels: 1, Samples: make([]int, 100)},
	}}

	err := o.executeStage(context.Background(), run, state, StageStitching)
	if err == nil {
		t.Fatal("expected stitching to fail")
	}
	if !errors.Is(err, audio.ErrFormatMismatch) {
		t.Fatalf("expected ErrFormatMismatch, got %v", err)
	}
	if run.Attempts[StageStitching] != 1 {
		t.Fatalf("format mismatch must not retry, got %d attempts", run.Attempts[StageStitching])
	}
}

func TestScriptHasAlternatingSpeakersEndToEnd(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, nil)

	run, err := o.Run(context.Background(), fmt.Sprintf("topic-%d", time.Now().Unix()))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	payload, err := h.store.GetArtifact(context.Background(), run.ID, string(StageScripting))
	if err != nil {
		t.Fatalf("get script artifact: %v", err)
	}
	scr := decodeScript(t, payload)
	if len(scr.Lines) < 2 {
		t.Fatalf("expected a dialogue, got %d lines", len(scr.Lines))
	}
	if scr.Lines[0].Speaker != script.SpeakerHost {
		t.Fatalf("expected the host to open, got %s", scr.Lines[0].Speaker)
	}
}

func decodeScript(t *testing.T, payload []byte) *script.Script {
	t.Helper()
	var state runState
	o := &Orchestrator{voices: mustRegistry(t)}
	if err := o.decodeArtifact(StageScripting, payload, &state); err != nil {
		t.Fatalf("decode script artifact: %v", err)
	}
	return state.script
}

func mustRegistry(t *testing.T) *voice.Registry {
	t.Helper()
	cfg := config.Default().Voices
	cfg.ReferenceDir = t.TempDir()
	reg, err := voice.NewRegistry(context.Background(), cfg, voice.NewMockRefGenerator(8000), newLogger())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}
