package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/podenginelabs/podengine/internal/audio"
	"github.com/podenginelabs/podengine/internal/bus"
	"github.com/podenginelabs/podengine/internal/config"
	"github.com/podenginelabs/podengine/internal/llm"
	"github.com/podenginelabs/podengine/internal/protocol"
	"github.com/podenginelabs/podengine/internal/research"
	"github.com/podenginelabs/podengine/internal/runstore"
	"github.com/podenginelabs/podengine/internal/script"
	"github.com/podenginelabs/podengine/internal/tts"
	"github.com/podenginelabs/podengine/internal/voice"
)

// Deps bundles the collaborators the orchestrator drives.
type Deps struct {
	Store      *runstore.Store
	Bus        *bus.Client
	Researcher *research.Researcher
	Generator  llm.Generator
	Voices     *voice.Registry
	Producer   *tts.Producer
	Logger     *slog.Logger
}

// Orchestrator moves runs through the pipeline stages, persisting each
// completed stage's artifact so interrupted runs resume without
// repeating finished work.
type Orchestrator struct {
	cfg        config.Config
	store      *runstore.Store
	bus        *bus.Client
	researcher *research.Researcher
	gen        llm.Generator
	voices     *voice.Registry
	producer   *tts.Producer
	stitcher   *audio.Stitcher
	logger     *slog.Logger
	tracer     trace.Tracer
	clock      func() time.Time
}

func New(cfg config.Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      deps.Store,
		bus:        deps.Bus,
		researcher: deps.Researcher,
		gen:        deps.Generator,
		voices:     deps.Voices,
		producer:   deps.Producer,
		stitcher:   audio.NewStitcher(time.Duration(cfg.Pipeline.GapMS) * time.Millisecond),
		logger:     deps.Logger.With("component", "orchestrator"),
		tracer:     otel.Tracer("podengine/pipeline"),
		clock:      time.Now,
	}
}

// Prepare registers a new run for a topic without executing it, so
// callers can hand out the run ID before the work starts.
func (o *Orchestrator) Prepare(ctx context.Context, topic string) (*Run, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("topic must not be empty")
	}

	run := &Run{
		ID:        uuid.NewString(),
		Topic:     topic,
		Stage:     StageResearching,
		Attempts:  make(map[Stage]int),
		CreatedAt: o.clock().UTC(),
	}
	o.persist(ctx, run)
	return run, nil
}

// Execute drives a prepared run to a terminal stage.
func (o *Orchestrator) Execute(ctx context.Context, run *Run) (*Run, error) {
	o.logger.Info("run started", "run_id", run.ID, "topic", run.Topic)
	return o.execute(ctx, run, &runState{})
}

// Run produces a podcast for the topic from scratch.
func (o *Orchestrator) Run(ctx context.Context, topic string) (*Run, error) {
	run, err := o.Prepare(ctx, topic)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, run)
}

// Resume picks up a previously persisted run at the first stage whose
// artifact is missing. A corrupt snapshot is discarded and the run
// starts over from research.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*Run, error) {
	rec, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}

	run, err := runFromRecord(rec)
	if err != nil {
		if errors.Is(err, ErrResumeStateCorrupt) && strings.TrimSpace(rec.Topic) != "" {
			return o.restart(ctx, rec.ID, rec.Topic, err)
		}
		return nil, err
	}
	if run.Stage == StageComplete {
		o.logger.Info("run already complete", "run_id", run.ID)
		return run, nil
	}

	state := &runState{}
	resumeStage, err := o.hydrate(ctx, run, state)
	if err != nil {
		if errors.Is(err, ErrResumeStateCorrupt) {
			return o.restart(ctx, run.ID, run.Topic, err)
		}
		return nil, err
	}
	if resumeStage == StageComplete {
		run.Stage = StageComplete
		run.FailureReason = ""
		o.persist(ctx, run)
		return run, nil
	}

	// The resumed stage starts with a clean attempt counter.
	run.Stage = resumeStage
	run.Attempts[resumeStage] = 0
	run.FailureReason = ""
	o.logger.Info("run resumed", "run_id", run.ID, "stage", string(resumeStage))

	return o.execute(ctx, run, state)
}

func (o *Orchestrator) restart(ctx context.Context, runID, topic string, cause error) (*Run, error) {
	o.logger.Warn("discarding corrupt run state, starting over",
		"run_id", runID, "error", cause)
	run := &Run{
		ID:        runID,
		Topic:     topic,
		Stage:     StageResearching,
		Attempts:  make(map[Stage]int),
		CreatedAt: o.clock().UTC(),
	}
	o.persist(ctx, run)
	return o.execute(ctx, run, &runState{})
}

// hydrate loads persisted artifacts into state and returns the first
// stage that still has work to do.
func (o *Orchestrator) hydrate(ctx context.Context, run *Run, state *runState) (Stage, error) {
	for _, stage := range stageOrder {
		payload, err := o.store.GetArtifact(ctx, run.ID, string(stage))
		if errors.Is(err, runstore.ErrNotFound) {
			return stage, nil
		}
		if err != nil {
			return "", fmt.Errorf("load %s artifact: %w", stage, err)
		}
		if err := o.decodeArtifact(stage, payload, state); err != nil {
			switch stage {
			case StageProducing:
				// segment files got lost under us; synthesize again
				o.logger.Warn("produced segments unreadable, re-entering production",
					"run_id", run.ID, "error", err)
				state.segments = nil
				return StageProducing, nil
			case StageStitching:
				o.logger.Warn("master recording unreadable, re-entering stitching",
					"run_id", run.ID, "error", err)
				state.master = nil
				return StageStitching, nil
			}
			return "", fmt.Errorf("%w: %s artifact: %v", ErrResumeStateCorrupt, stage, err)
		}
	}
	return StageComplete, nil
}

func (o *Orchestrator) decodeArtifact(stage Stage, payload []byte, state *runState) error {
	switch stage {
	case StageResearching:
		var notes research.Notes
		if err := json.Unmarshal(payload, &notes); err != nil {
			return err
		}
		if err := notes.Validate(); err != nil {
			return err
		}
		state.notes = &notes
	case StageSummarizing:
		var summary script.Summary
		if err := json.Unmarshal(payload, &summary); err != nil {
			return err
		}
		if err := summary.Validate(); err != nil {
			return err
		}
		state.summary = &summary
	case StageScripting:
		var scr script.Script
		if err := json.Unmarshal(payload, &scr); err != nil {
			return err
		}
		if err := scr.Validate(o.voices.Speakers()); err != nil {
			return err
		}
		state.script = &scr
	case StageProducing:
		var produced ProducedArtifact
		if err := json.Unmarshal(payload, &produced); err != nil {
			return err
		}
		segments := make([]audio.Segment, 0, len(produced.Segments))
		for _, ref := range produced.Segments {
			seg, err := audio.ReadSegment(ref.Path, ref.Index, ref.Speaker)
			if err != nil {
				return fmt.Errorf("segment %d: %w", ref.Index, err)
			}
			segments = append(segments, *seg)
		}
		state.segments = segments
	case StageStitching:
		var master MasterArtifact
		if err := json.Unmarshal(payload, &master); err != nil {
			return err
		}
		if _, err := os.Stat(master.Path); err != nil {
			return fmt.Errorf("master file: %w", err)
		}
		state.master = &master
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, state *runState) (*Run, error) {
	for !run.Stage.Terminal() {
		stage := run.Stage
		if err := o.executeStage(ctx, run, state, stage); err != nil {
			if ctx.Err() != nil {
				// interrupted, not failed; the snapshot stays resumable
				o.persist(context.WithoutCancel(ctx), run)
				return run, err
			}
			run.Stage = StageFailed
			run.FailureReason = err.Error()
			o.persist(ctx, run)
			o.logger.Error("run failed",
				"run_id", run.ID, "stage", string(stage), "error", err)
			return run, err
		}
		run.Stage = stage.next()
		run.FailureReason = ""
		o.persist(ctx, run)
	}

	o.publish(protocol.SubjectRunComplete, protocol.StageEvent{
		RunID:     run.ID,
		Topic:     run.Topic,
		Stage:     string(StageComplete),
		Timestamp: o.clock().UTC(),
	})
	o.logger.Info("run complete", "run_id", run.ID,
		"master", state.masterPath(), "duration_ms", state.masterDurationMS())
	return run, nil
}

func (o *Orchestrator) executeStage(ctx context.Context, run *Run, state *runState, stage Stage) error {
	bo := newStageBackoff()
	for {
		if run.Attempts[stage] >= o.cfg.Pipeline.MaxStageAttempts {
			return &StageError{Stage: stage, Attempt: run.Attempts[stage],
				Err: fmt.Errorf("attempt ceiling %d reached", o.cfg.Pipeline.MaxStageAttempts)}
		}
		// attempts persisted so far count failures only; a clean pass
		// leaves the counter untouched
		attempt := run.Attempts[stage] + 1
		o.persist(ctx, run)
		o.recordEvent(ctx, run, stage, "entered", attempt, "")
		o.publish(protocol.SubjectStageEntered, o.stageEvent(run, stage, attempt, nil))

		err := o.runStage(ctx, run, state, stage, attempt)
		if err == nil {
			o.recordEvent(ctx, run, stage, "completed", attempt, "")
			o.publish(protocol.SubjectStageCompleted, o.stageEvent(run, stage, attempt, nil))
			return nil
		}

		run.Attempts[stage] = attempt
		o.recordEvent(ctx, run, stage, "failed", attempt, err.Error())
		o.publish(protocol.SubjectStageFailed, o.stageEvent(run, stage, attempt, err))

		if ctx.Err() != nil {
			return &StageError{Stage: stage, Attempt: attempt, Err: err}
		}
		if errors.Is(err, audio.ErrFormatMismatch) {
			// a format disagreement never heals on retry
			return &StageError{Stage: stage, Attempt: attempt, Err: err}
		}
		if attempt >= o.cfg.Pipeline.MaxStageAttempts {
			return &StageError{Stage: stage, Attempt: attempt, Err: err}
		}

		o.logger.Warn("stage failed, retrying",
			"run_id", run.ID, "stage", string(stage), "attempt", attempt, "error", err)
		if err := sleepBackoff(ctx, bo); err != nil {
			return &StageError{Stage: stage, Attempt: attempt, Err: err}
		}
	}
}

func (o *Orchestrator) runStage(ctx context.Context, run *Run, state *runState, stage Stage, attempt int) error {
	ctx, span := o.tracer.Start(ctx, "pipeline."+strings.ToLower(string(stage)),
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.Int("run.attempt", attempt),
		))
	defer span.End()

	var err error
	switch stage {
	case StageResearching:
		err = o.research(ctx, run, state)
	case StageSummarizing:
		err = o.summarize(ctx, run, state)
	case StageScripting:
		err = o.writeScript(ctx, run, state)
	case StageProducing:
		err = o.produce(ctx, run, state)
	case StageStitching:
		err = o.stitch(ctx, run, state)
	default:
		err = fmt.Errorf("no handler for stage %s", stage)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (o *Orchestrator) research(ctx context.Context, run *Run, state *runState) error {
	notes, err := o.researcher.Research(ctx, run.Topic)
	if err != nil {
		return err
	}
	state.notes = notes
	return o.saveArtifact(ctx, run.ID, StageResearching, notes)
}

func (o *Orchestrator) summarize(ctx context.Context, run *Run, state *runState) error {
	if state.notes == nil {
		return errors.New("no research notes available")
	}
	text, err := llm.Complete(ctx, o.gen, llm.Request{
		RunID:       run.ID,
		Stage:       string(StageSummarizing),
		Prompt:      script.SummarizerPrompt(run.Topic, state.notes.Format()),
		System:      script.SummarizerSystem,
		MaxTokens:   o.cfg.LLM.MaxTokens,
		Temperature: o.cfg.LLM.Temperature,
	})
	if err != nil {
		return err
	}
	summary := &script.Summary{Topic: run.Topic, Text: text}
	if err := summary.Validate(); err != nil {
		return err
	}
	state.summary = summary
	return o.saveArtifact(ctx, run.ID, StageSummarizing, summary)
}

func (o *Orchestrator) writeScript(ctx context.Context, run *Run, state *runState) error {
	if state.summary == nil {
		return errors.New("no summary available")
	}
	content, err := llm.Complete(ctx, o.gen, llm.Request{
		RunID:       run.ID,
		Stage:       string(StageScripting),
		Prompt:      script.ScriptwriterPrompt(state.summary.Text),
		System:      script.ScriptwriterSystem,
		MaxTokens:   o.cfg.LLM.MaxTokens,
		Temperature: o.cfg.LLM.Temperature,
	})
	if err != nil {
		return err
	}
	scr, err := script.Parse(run.Topic, content)
	if err != nil {
		return err
	}
	if err := scr.Validate(o.voices.Speakers()); err != nil {
		return err
	}
	state.script = scr
	o.logger.Info("script ready", "run_id", run.ID, "lines", len(scr.Lines))
	return o.saveArtifact(ctx, run.ID, StageScripting, scr)
}

func (o *Orchestrator) produce(ctx context.Context, run *Run, state *runState) error {
	if state.script == nil {
		return errors.New("no script available")
	}
	segments, err := o.producer.Produce(ctx, run.ID, state.script.Lines)
	if err != nil {
		return err
	}

	dir := o.runDir(run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	refs := make([]SegmentRef, 0, len(segments))
	for i := range segments {
		seg := &segments[i]
		if err := audio.WriteSegment(dir, seg); err != nil {
			return fmt.Errorf("write segment %d: %w", seg.Index, err)
		}
		refs = append(refs, SegmentRef{
			Index:      seg.Index,
			Speaker:    seg.Speaker,
			Path:       seg.Path,
			SampleRate: seg.SampleRate,
			Channels:   seg.Channels,
		})
		o.publish(protocol.SubjectSegmentDone, protocol.SegmentEvent{
			RunID:      run.ID,
			LineIndex:  seg.Index,
			Speaker:    seg.Speaker,
			SampleRate: seg.SampleRate,
			Channels:   seg.Channels,
			DurationMS: int(seg.Duration().Milliseconds()),
			Timestamp:  o.clock().UTC(),
		})
	}

	state.segments = segments
	return o.saveArtifact(ctx, run.ID, StageProducing, ProducedArtifact{Segments: refs})
}

func (o *Orchestrator) stitch(ctx context.Context, run *Run, state *runState) error {
	if len(state.segments) == 0 {
		return audio.ErrNoSegments
	}
	master, err := o.stitcher.Stitch(state.segments)
	if err != nil {
		return err
	}

	dir := o.runDir(run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	path := filepath.Join(dir, audio.MasterFilename)
	if err := audio.WriteWAV(path, master.Samples, master.SampleRate, master.Channels); err != nil {
		return fmt.Errorf("write master: %w", err)
	}

	boundaries := make([]BoundaryInfo, 0, len(master.Boundaries))
	for _, b := range master.Boundaries {
		boundaries = append(boundaries, BoundaryInfo{
			Index:   b.Index,
			Speaker: b.Speaker,
			Offset:  b.Offset,
			Samples: b.Samples,
			StartMS: b.Start.Milliseconds(),
		})
	}
	artifact := &MasterArtifact{
		Path:       path,
		SampleRate: master.SampleRate,
		Channels:   master.Channels,
		DurationMS: master.Duration().Milliseconds(),
		Boundaries: boundaries,
	}
	state.master = artifact

	if !o.cfg.Pipeline.KeepSegments {
		for _, seg := range state.segments {
			if seg.Path == "" {
				continue
			}
			if err := os.Remove(seg.Path); err != nil {
				o.logger.Warn("could not remove segment file",
					"run_id", run.ID, "path", seg.Path, "error", err)
			}
		}
	}

	return o.saveArtifact(ctx, run.ID, StageStitching, artifact)
}

func (o *Orchestrator) runDir(runID string) string {
	return filepath.Join(o.cfg.Pipeline.OutputDir, runID)
}

func (o *Orchestrator) saveArtifact(ctx context.Context, runID string, stage Stage, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s artifact: %w", stage, err)
	}
	if err := o.store.SaveArtifact(ctx, runID, string(stage), data); err != nil {
		return fmt.Errorf("save %s artifact: %w", stage, err)
	}
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, run *Run) {
	run.UpdatedAt = o.clock().UTC()
	if err := o.store.SaveRun(ctx, run.toRecord()); err != nil {
		o.logger.Error("could not persist run snapshot",
			"run_id", run.ID, "error", err)
	}
}

func (o *Orchestrator) recordEvent(ctx context.Context, run *Run, stage Stage, typ string, attempt int, detail string) {
	err := o.store.AppendStageEvent(ctx, runstore.StageEventRecord{
		RunID:   run.ID,
		Stage:   string(stage),
		Type:    typ,
		Attempt: attempt,
		Detail:  detail,
	})
	if err != nil {
		o.logger.Warn("could not record stage event",
			"run_id", run.ID, "stage", string(stage), "error", err)
	}
}

func (o *Orchestrator) stageEvent(run *Run, stage Stage, attempt int, cause error) protocol.StageEvent {
	evt := protocol.StageEvent{
		RunID:     run.ID,
		Topic:     run.Topic,
		Stage:     string(stage),
		Attempt:   attempt,
		Timestamp: o.clock().UTC(),
	}
	if cause != nil {
		evt.Error = cause.Error()
	}
	return evt
}

func (o *Orchestrator) publish(subject string, payload any) {
	if err := o.bus.Publish(subject, payload); err != nil {
		o.logger.Warn("bus publish failed", "subject", subject, "error", err)
	}
}

func (s *runState) masterPath() string {
	if s.master == nil {
		return ""
	}
	return s.master.Path
}

func (s *runState) masterDurationMS() int64 {
	if s.master == nil {
		return 0
	}
	return s.master.DurationMS
}

func newStageBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func sleepBackoff(ctx context.Context, b *backoff.ExponentialBackOff) error {
	timer := time.NewTimer(b.NextBackOff())
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
