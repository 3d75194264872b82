// Package app wires Donna's subsystems into one running service: the
// postgres store, the provider fallback chains, the context assembler,
// the reminder scheduler, the tool host and the HTTP surface that the
// telephony provider talks to.
//
// The App is also the telephony session factory. Each accepted media
// stream asks it for a call pipeline; CreateSession in factory.go builds
// the per-call processor chain from the shared subsystems constructed
// here.
//
// Lifecycle: New constructs everything and connects external resources,
// Run serves until the context ends, Shutdown drains live calls and tears
// the subsystems down in reverse construction order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/agewell-labs/donna/internal/callcontext"
	"github.com/agewell-labs/donna/internal/config"
	"github.com/agewell-labs/donna/internal/health"
	"github.com/agewell-labs/donna/internal/observe"
	"github.com/agewell-labs/donna/internal/pipeline"
	"github.com/agewell-labs/donna/internal/postcall"
	"github.com/agewell-labs/donna/internal/resilience"
	"github.com/agewell-labs/donna/internal/scheduler"
	"github.com/agewell-labs/donna/internal/telephony"
	"github.com/agewell-labs/donna/internal/tools"
	"github.com/agewell-labs/donna/pkg/memory"
	"github.com/agewell-labs/donna/pkg/memory/postgres"
	"github.com/agewell-labs/donna/pkg/provider/embeddings"
	"github.com/agewell-labs/donna/pkg/provider/llm"
	"github.com/agewell-labs/donna/pkg/provider/stt"
	"github.com/agewell-labs/donna/pkg/provider/tts"
)

// Providers carries the external model clients the app builds its fallback
// chains from. Conversation, STT, TTS and Embeddings are required; the
// rest are optional refinements. Populated by main.go via the config
// registry.
type Providers struct {
	// Conversation generates the assistant's replies.
	Conversation llm.Provider

	// Director analyses the conversation between turns. Nil reuses the
	// conversation chain.
	Director llm.Provider

	// Analysis runs the post-call review. Nil reuses the director chain.
	Analysis llm.Provider

	// STT transcribes caller audio; STTFallback takes over when the
	// primary's circuit opens.
	STT         stt.Provider
	STTFallback stt.Provider

	// TTS speaks the assistant's replies; TTSFallback mirrors STTFallback.
	TTS         tts.Provider
	TTSFallback tts.Provider

	// Embeddings vectorises memories for storage and recall.
	Embeddings embeddings.Provider
}

// Stores bundles the persistence interfaces the app consumes. Production
// fills every field from the postgres store; tests inject mocks.
type Stores struct {
	Seniors       memory.SeniorStore
	Memories      memory.MemoryStore
	Reminders     memory.ReminderStore
	Deliveries    memory.DeliveryStore
	Daily         memory.DailyContextStore
	Conversations memory.ConversationStore
	Analyses      memory.AnalysisStore
}

// App is the assembled service.
type App struct {
	cfg       *config.Config
	providers *Providers

	stores  Stores
	store   *postgres.Store // nil when stores are injected
	manager *memory.Manager

	assembler *callcontext.Assembler
	stash     *callcontext.Stash
	tools     *tools.Host
	finalizer *postcall.Orchestrator
	scheduler *scheduler.Scheduler
	dialer    scheduler.Dialer

	// Role-wrapped providers, fallback chains included.
	conversationLLM llm.Provider
	directorLLM     llm.Provider
	analysisLLM     llm.Provider
	sttProvider     stt.Provider
	ttsProvider     tts.Provider

	metrics *observe.Metrics
	health  *health.Handler
	server  *http.Server

	// calls holds the live pipelines so Shutdown can wind them down.
	mu    sync.Mutex
	calls map[string]*pipeline.Task

	// drainWG tracks every live call through the end of its post-call
	// flow, not just the socket close.
	drainWG sync.WaitGroup

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStores injects persistence, skipping the postgres connection.
func WithStores(s Stores) Option {
	return func(a *App) { a.stores = s }
}

// WithDialer injects the outbound call placer used by the scheduler.
func WithDialer(d scheduler.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithToolHost injects a pre-built tool host, skipping server registration
// from the config.
func WithToolHost(h *tools.Host) Option {
	return func(a *App) { a.tools = h }
}

// New assembles the service. The context bounds the external connections
// made during construction (postgres, MCP tool servers).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		stash:     callcontext.NewStash(),
		calls:     make(map[string]*pipeline.Task),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Providers and fallback chains ─────────────────────────────
	if err := a.initProviders(); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	// ── 2. Persistence ───────────────────────────────────────────────
	if err := a.initStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	// ── 3. Memory manager and context assembler ──────────────────────
	a.manager = memory.NewManager(a.stores.Memories, providers.Embeddings)
	a.assembler = callcontext.NewAssembler(
		a.stores.Seniors, a.manager, a.stores.Daily, a.stores.Reminders,
		callcontext.WithSearchThreshold(cfg.Memory.SearchThreshold),
	)

	// ── 4. Tool host ─────────────────────────────────────────────────
	if err := a.initTools(ctx); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// ── 5. Post-call orchestrator ────────────────────────────────────
	a.finalizer = postcall.New(postcall.Config{
		Conversations: a.stores.Conversations,
		Analyses:      a.stores.Analyses,
		Memories:      a.manager,
		Daily:         a.stores.Daily,
		Deliveries:    a.stores.Deliveries,
		Stash:         a.stash,
		Provider:      a.analysisLLM,
	})

	// ── 6. Reminder scheduler ────────────────────────────────────────
	a.initScheduler()

	// ── 7. Observability and health ──────────────────────────────────
	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}
	a.metrics = m
	a.health = health.New(a.healthCheckers()...)

	// ── 8. HTTP surface ──────────────────────────────────────────────
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(a.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initProviders wraps the raw clients into per-role fallback chains. A
// role left unset falls through to the chain above it: director to
// conversation, analysis to director.
func (a *App) initProviders() error {
	p := a.providers
	if p.Conversation == nil {
		return errors.New("a conversation model is required")
	}
	if p.STT == nil {
		return errors.New("a speech-to-text provider is required")
	}
	if p.TTS == nil {
		return errors.New("a text-to-speech provider is required")
	}
	if p.Embeddings == nil {
		return errors.New("an embeddings provider is required")
	}

	var fb resilience.FallbackConfig
	pc := a.cfg.Providers

	conv := resilience.NewLLMFallback(p.Conversation, roleName(pc.Conversation, "conversation"), fb)
	a.conversationLLM = conv

	if p.Director != nil {
		d := resilience.NewLLMFallback(p.Director, roleName(pc.Director, "director"), fb)
		d.AddFallback(roleName(pc.Conversation, "conversation"), p.Conversation)
		a.directorLLM = d
	} else {
		a.directorLLM = conv
	}

	if p.Analysis != nil {
		an := resilience.NewLLMFallback(p.Analysis, roleName(pc.Analysis, "analysis"), fb)
		an.AddFallback(roleName(pc.Conversation, "conversation"), p.Conversation)
		a.analysisLLM = an
	} else {
		a.analysisLLM = a.directorLLM
	}

	sttChain := resilience.NewSTTFallback(p.STT, roleName(pc.STT, "stt"), fb)
	if p.STTFallback != nil {
		sttChain.AddFallback(roleName(pc.STTFallback, "stt-fallback"), p.STTFallback)
	}
	a.sttProvider = sttChain

	ttsChain := resilience.NewTTSFallback(p.TTS, roleName(pc.TTS, "tts"), fb)
	if p.TTSFallback != nil {
		ttsChain.AddFallback(roleName(pc.TTSFallback, "tts-fallback"), p.TTSFallback)
	}
	a.ttsProvider = ttsChain

	return nil
}

// roleName labels a fallback chain for logs and circuit breaker state.
func roleName(entry config.ProviderEntry, fallback string) string {
	if entry.Name != "" {
		return entry.Name
	}
	return fallback
}

func (a *App) initStores(ctx context.Context) error {
	if a.stores.Seniors != nil {
		return nil // injected
	}
	if a.cfg.Memory.PostgresDSN == "" {
		return errors.New("memory.postgres_dsn is not set")
	}
	store, err := postgres.NewStore(ctx, a.cfg.Memory.PostgresDSN, a.cfg.Memory.EmbeddingDimensions)
	if err != nil {
		return err
	}
	a.store = store
	a.stores = Stores{
		Seniors:       store.Seniors(),
		Memories:      store.Memories(),
		Reminders:     store.Reminders(),
		Deliveries:    store.Deliveries(),
		Daily:         store.DailyContext(),
		Conversations: store.Conversations(),
		Analyses:      store.Analyses(),
	}
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initTools builds the shared MCP host and registers the configured
// servers concurrently. A server that fails to connect fails startup.
func (a *App) initTools(ctx context.Context) error {
	if a.tools == nil {
		a.tools = tools.New()
	}
	a.closers = append(a.closers, a.tools.Close)

	if len(a.cfg.Tools.Servers) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range a.cfg.Tools.Servers {
		g.Go(func() error {
			spec := tools.ServerSpec{
				Name:      srv.Name,
				Transport: srv.Transport,
				Command:   srv.Command,
				URL:       srv.URL,
				Env:       srv.Env,
			}
			if err := a.tools.RegisterServer(gctx, spec); err != nil {
				return fmt.Errorf("register tool server %q: %w", srv.Name, err)
			}
			slog.Info("tool server registered", "name", srv.Name, "transport", srv.Transport)
			return nil
		})
	}
	return g.Wait()
}

func (a *App) initScheduler() {
	if !a.cfg.Scheduler.SchedulerEnabled() {
		slog.Info("reminder scheduler disabled")
		return
	}
	if a.dialer == nil {
		t := a.cfg.Telephony
		a.dialer = telephony.NewCaller(t.AccountSID, t.AuthToken, t.FromNumber)
	}
	a.scheduler = scheduler.New(scheduler.Config{
		Reminders:  a.stores.Reminders,
		Deliveries: a.stores.Deliveries,
		Seniors:    a.stores.Seniors,
		Assembler:  a.assembler,
		Stash:      a.stash,
		Dialer:     a.dialer,
		AnswerURL:  a.answerURL(),
		Interval:   a.cfg.Scheduler.PollInterval(),
	})
}

func (a *App) healthCheckers() []health.Checker {
	if a.store == nil {
		return nil
	}
	return []health.Checker{health.Database(a.store)}
}

func (a *App) answerURL() string {
	return "https://" + a.cfg.Server.PublicHost + "/voice/answer"
}

func (a *App) streamURL() string {
	return "wss://" + a.cfg.Server.PublicHost + "/media"
}

// routes builds the HTTP surface: the answer webhook and media socket,
// the health probes and the Prometheus scrape endpoint.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	answer := telephony.AnswerWebhook(a.streamURL())
	if a.cfg.Telephony.SignatureValidationEnabled() {
		answer = telephony.RequireSignature(answer, a.cfg.Telephony.AuthToken, a.cfg.Server.PublicHost)
	}
	mux.Handle("POST /voice/answer", answer)
	mux.Handle("GET /media", telephony.NewMediaHandler(a))
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)
	return mux
}

// Run starts the scheduler and serves HTTP until the context ends or the
// listener fails. It does not tear anything down; call Shutdown after.
func (a *App) Run(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Start(ctx)
		slog.Info("reminder scheduler running", "interval", a.cfg.Scheduler.PollInterval())
	}

	errCh := make(chan error, 1)
	go func() {
		tls := a.cfg.Server.TLS
		slog.Info("listening", "addr", a.server.Addr, "host", a.cfg.Server.PublicHost, "tls", tls != nil)
		var err error
		if tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown winds the service down: readiness flips to draining, the
// scheduler stops placing calls, live calls get a wind-down frame and a
// bounded wait for their post-call flows, then the HTTP server and the
// remaining resources close in reverse construction order. Safe to call
// more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		a.health.SetDraining(true)
		if a.scheduler != nil {
			a.scheduler.Stop()
		}

		a.drainCalls(ctx)

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "unclosed", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("close failed during shutdown", "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// drainCalls asks every live pipeline to end and waits, bounded by ctx,
// for the post-call flows to finish. The wind-down frame travels the whole
// chain, so queued speech still reaches the caller before the close.
func (a *App) drainCalls(ctx context.Context) {
	a.mu.Lock()
	if n := len(a.calls); n > 0 {
		slog.Info("draining live calls", "count", n)
		for _, task := range a.calls {
			task.Inject(pipeline.Head, pipeline.EndFrame{Reason: "closing"}, pipeline.Downstream)
		}
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.drainWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown deadline reached with calls still live")
	}
}

func (a *App) registerCall(callSID string, task *pipeline.Task) {
	a.mu.Lock()
	a.calls[callSID] = task
	a.mu.Unlock()
	a.drainWG.Add(1)
}

func (a *App) unregisterCall(callSID string) {
	a.mu.Lock()
	delete(a.calls, callSID)
	a.mu.Unlock()
}
