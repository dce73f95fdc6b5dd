package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/podenginelabs/podengine/internal/bus"
	"github.com/podenginelabs/podengine/internal/config"
	"github.com/podenginelabs/podengine/internal/llm"
	"github.com/podenginelabs/podengine/internal/natsserver"
	"github.com/podenginelabs/podengine/internal/pipeline"
	"github.com/podenginelabs/podengine/internal/research"
	"github.com/podenginelabs/podengine/internal/runstore"
	"github.com/podenginelabs/podengine/internal/tts"
	"github.com/podenginelabs/podengine/internal/voice"
)

// Runtime assembles the pipeline's collaborators and exposes them either
// as a long-running HTTP service or for one-shot invocations.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	store      *runstore.Store
	busClient  *bus.Client
	natsServer *natsserver.EmbeddedServer
	orch       *pipeline.Orchestrator
	metrics    *runMetrics

	httpServer     *http.Server
	metricsHandler http.Handler
	tracerClose    func(context.Context) error
	ready          atomic.Bool
	wg             sync.WaitGroup
	runWG          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Init wires up telemetry, storage, the bus and the pipeline. It must be
// called before RunOnce, ResumeOnce or Serve.
func (r *Runtime) Init(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	r.metricsHandler = metricsHandler

	metrics, err := newRunMetrics()
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	r.metrics = metrics

	store, err := runstore.Open(ctx, r.cfg.Store, r.logger.With("component", "runstore"))
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	r.store = store

	if r.cfg.Bus.Enabled {
		ns, err := natsserver.Start(r.cfg.Bus, r.logger.With("component", "natsserver"))
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		r.natsServer = ns

		busCfg := r.cfg.Bus
		if url := ns.ClientURL(); url != "" {
			busCfg.Servers = []string{url}
		}
		client, err := bus.Connect(ctx, busCfg, r.logger.With("component", "bus"))
		if err != nil {
			return fmt.Errorf("connect to bus: %w", err)
		}
		r.busClient = client
	}

	provider, err := research.NewProvider(r.cfg.Search)
	if err != nil {
		return fmt.Errorf("build search provider: %w", err)
	}
	researcher := research.NewResearcher(provider, r.cfg.Search.MaxResults,
		r.logger.With("component", "researcher"))

	generator, err := llm.NewGenerator(r.cfg.LLM)
	if err != nil {
		return fmt.Errorf("build language model backend: %w", err)
	}

	refGen, err := voice.NewReferenceGenerator(r.cfg.Voices.GeneratorCommand, r.cfg.TTS.SampleRate)
	if err != nil {
		return fmt.Errorf("build reference generator: %w", err)
	}
	voices, err := voice.NewRegistry(ctx, r.cfg.Voices, refGen, r.logger)
	if err != nil {
		return fmt.Errorf("build voice registry: %w", err)
	}

	synth, err := tts.NewSynthesizer(r.cfg.TTS)
	if err != nil {
		return fmt.Errorf("build synthesizer: %w", err)
	}
	segments := tts.NewSegmentSynthesizer(synth, voices,
		time.Duration(r.cfg.TTS.TimeoutMS)*time.Millisecond,
		r.cfg.TTS.SampleRate, r.cfg.TTS.Channels)
	producer := tts.NewProducer(segments,
		r.cfg.Pipeline.SynthConcurrency, r.cfg.Pipeline.MaxLineAttempts, r.logger)

	r.orch = pipeline.New(r.cfg, pipeline.Deps{
		Store:      store,
		Bus:        r.busClient,
		Researcher: researcher,
		Generator:  generator,
		Voices:     voices,
		Producer:   producer,
		Logger:     r.logger,
	})

	return nil
}

// RunOnce produces a single podcast and returns when it finishes.
func (r *Runtime) RunOnce(ctx context.Context, topic string) (*pipeline.Run, error) {
	start := time.Now()
	r.metrics.started.Add(ctx, 1)
	run, err := r.orch.Run(ctx, topic)
	r.metrics.observe(ctx, start, false, err)
	return run, err
}

// ResumeOnce continues a persisted run and returns when it finishes.
func (r *Runtime) ResumeOnce(ctx context.Context, runID string) (*pipeline.Run, error) {
	start := time.Now()
	r.metrics.started.Add(ctx, 1)
	run, err := r.orch.Resume(ctx, runID)
	r.metrics.observe(ctx, start, true, err)
	return run, err
}

// Serve runs the HTTP API until the context is canceled, then drains
// in-flight runs and shuts everything down.
func (r *Runtime) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("POST /runs", r.handleSubmit(ctx))
	mux.HandleFunc("GET /runs", r.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", r.handleGetRun)
	mux.HandleFunc("POST /runs/{id}/resume", r.handleResume(ctx))
	if r.metricsHandler != nil {
		mux.Handle("/metrics", r.metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	r.runWG.Wait()

	return nil
}

// Close releases the runtime's resources. Safe after a failed Init.
func (r *Runtime) Close(ctx context.Context) {
	if r.busClient != nil {
		r.busClient.Close()
	}
	if r.natsServer != nil {
		r.natsServer.Shutdown()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("store close error", slog.String("error", err.Error()))
		}
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}
