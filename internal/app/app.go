// Package app wires all Switchboard subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP surface and the notification worker until
// the context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithMetrics). When an option is not provided, New creates real
// implementations from the config.
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
	"golang.org/x/sync/errgroup"

	"github.com/calloway-ai/switchboard/internal/chat"
	"github.com/calloway-ai/switchboard/internal/config"
	"github.com/calloway-ai/switchboard/internal/console"
	"github.com/calloway-ai/switchboard/internal/digits"
	"github.com/calloway-ai/switchboard/internal/health"
	"github.com/calloway-ai/switchboard/internal/httpapi"
	"github.com/calloway-ai/switchboard/internal/lifecycle"
	"github.com/calloway-ai/switchboard/internal/notify"
	"github.com/calloway-ai/switchboard/internal/observe"
	"github.com/calloway-ai/switchboard/internal/resilience"
	"github.com/calloway-ai/switchboard/internal/session"
	"github.com/calloway-ai/switchboard/internal/store"
	"github.com/calloway-ai/switchboard/internal/store/postgres"
	"github.com/calloway-ai/switchboard/internal/transcript"
	"github.com/calloway-ai/switchboard/internal/transcript/llmcorrect"
	"github.com/calloway-ai/switchboard/internal/transcript/phonetic"
	"github.com/calloway-ai/switchboard/pkg/provider/llm"
	"github.com/calloway-ai/switchboard/pkg/provider/sms"
	"github.com/calloway-ai/switchboard/pkg/provider/stt"
	"github.com/calloway-ai/switchboard/pkg/provider/telephony"
	"github.com/calloway-ai/switchboard/pkg/provider/tts"
)

// shutdownClosing is spoken on calls still live when the process stops.
const shutdownClosing = "I'm sorry, we have to end this call now. Goodbye."

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Telephony telephony.Provider
	STT       stt.Provider
	LLM       llm.Provider
	TTS       tts.Provider
	SMS       sms.Provider
	Chat      chat.Adapter
}

// App owns all subsystem lifetimes and orchestrates the Switchboard call
// pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New, torn down in Shutdown.
	store      store.Store
	guard      *session.StoreGuard
	registry   *session.Registry
	engine     *digits.Engine
	console    *console.Console
	dispatcher *notify.Dispatcher
	lifecycle  *lifecycle.Manager
	api        *httpapi.Server
	health     *health.Handler
	metrics    *observe.Metrics
	corrector  transcript.Corrector

	// logLevel, when set, lets a config reload adjust log verbosity.
	logLevel *slog.LevelVar

	// defaults are the hot-reloadable per-call defaults, guarded by
	// defaultsMu. Snapshotted at bind time; live calls keep theirs.
	defaultsMu sync.Mutex
	defaults   callDefaults

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of connecting to PostgreSQL.
func WithStore(st store.Store) Option {
	return func(a *App) { a.store = st }
}

// WithMetrics injects a metrics instance instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevelVar hands the app the level var backing the process logger, so
// config reloads can change verbosity.
func WithLogLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		registry:  session.NewRegistry(),
		defaults: callDefaults{
			greeting:    cfg.Session.Greeting,
			personality: cfg.Session.Personality,
			vocabulary:  cfg.Session.Vocabulary,
		},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.initResilience()

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.guard = session.NewStoreGuard(a.store)

	if err := a.initEngine(); err != nil {
		return nil, fmt.Errorf("app: init digit engine: %w", err)
	}
	a.initConsole()
	a.initCorrector()
	if err := a.initNotify(); err != nil {
		return nil, fmt.Errorf("app: init notify: %w", err)
	}
	if err := a.initLifecycle(); err != nil {
		return nil, fmt.Errorf("app: init lifecycle: %w", err)
	}
	if err := a.initHTTP(); err != nil {
		return nil, fmt.Errorf("app: init http: %w", err)
	}
	a.initHealth()

	return a, nil
}

// initStore connects the persistence layer. An injected store wins; otherwise
// a PostgreSQL pool is created from the DSN. With neither, calls are not
// persisted and the in-memory mock semantics of the mock store do not apply:
// the DSN is required.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Database.PostgresDSN
	if dsn == "" {
		return errors.New("database.postgres_dsn is required when no store is injected")
	}
	st, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, func() error {
		st.Close()
		return nil
	})
	return nil
}

// initResilience wraps the vendor-facing LLM, TTS, and STT providers in
// breaker-guarded fallback groups. With one configured provider per slot each
// group degrades to a plain circuit breaker; deployments that build the App
// directly can register extra backends via the groups' AddFallback.
func (a *App) initResilience() {
	obs := providerObserver{metrics: a.metrics}
	if a.providers.LLM != nil {
		a.providers.LLM = resilience.NewLLMFallback(
			a.providers.LLM, providerLabel(a.cfg.Providers.LLM.Name, "llm"),
			resilience.FallbackConfig{Kind: "llm", Observer: obs})
	}
	if a.providers.TTS != nil {
		a.providers.TTS = resilience.NewTTSFallback(
			a.providers.TTS, providerLabel(a.cfg.Providers.TTS.Name, "tts"),
			resilience.FallbackConfig{Kind: "tts", Observer: obs})
	}
	if a.providers.STT != nil {
		a.providers.STT = resilience.NewSTTFallback(
			a.providers.STT, providerLabel(a.cfg.Providers.STT.Name, "stt"),
			resilience.FallbackConfig{Kind: "stt", Observer: obs})
	}
}

// providerObserver adapts the metrics recorder to the resilience attempt
// callback. Attempts carry no request context, so records use Background.
type providerObserver struct {
	metrics *observe.Metrics
}

var _ resilience.AttemptObserver = providerObserver{}

func (o providerObserver) Attempt(provider, kind string, err error) {
	ctx := context.Background()
	status := "success"
	if err != nil {
		status = "failure"
		o.metrics.RecordProviderError(ctx, provider, kind)
	}
	o.metrics.RecordProviderRequest(ctx, provider, kind, status)
}

// providerLabel names a breaker after the configured adapter, falling back to
// the slot name for injected providers with no config entry.
func providerLabel(name, slot string) string {
	if name != "" {
		return name
	}
	return slot
}

// initEngine builds the digit-collection engine with a process-global
// circuit window. Effects are routed to live sessions through the registry.
func (a *App) initEngine() error {
	window := resilience.NewWindow(resilience.WindowConfig{
		Name:       "digits",
		Span:       time.Duration(a.cfg.Digits.CircuitWindowS) * time.Second,
		MinSamples: a.cfg.Digits.CircuitMinSamples,
		ErrorRate:  a.cfg.Digits.CircuitErrorRate,
		Cooldown:   time.Duration(a.cfg.Digits.CircuitCooldownS) * time.Second,
	})
	engine, err := digits.NewEngine(digits.Config{
		Effects:               &registryEffects{registry: a.registry},
		Events:                a.store,
		Metrics:               a.metrics,
		Window:                window,
		SMSFallbackMinRetries: a.cfg.Digits.SMSFallbackMinRetries,
		MinDTMFGapMs:          a.cfg.Digits.MinDTMFGapMs,
	})
	if err != nil {
		return err
	}
	a.engine = engine
	return nil
}

// initConsole builds the live console. Without a chat adapter the console
// still tracks state so sessions have a notifier, it just renders nowhere.
func (a *App) initConsole() {
	a.console = console.New(console.Config{
		Adapter:        a.providers.Chat,
		Actions:        &operatorActions{app: a},
		EditDebounce:   time.Duration(a.cfg.Console.EditDebounceMs) * time.Millisecond,
		HighlightLines: a.cfg.Console.HighlightLines,
		RedactPreview:  a.cfg.Console.RedactPreview,
	})
}

// initCorrector builds the utterance corrector: phonetic matching always,
// the LLM review stage when a model is available.
func (a *App) initCorrector() {
	opts := []transcript.PipelineOption{
		transcript.WithTermMatcher(phonetic.New()),
	}
	if a.providers.LLM != nil {
		opts = append(opts, transcript.WithLLMCorrector(llmcorrect.New(a.providers.LLM)))
	}
	a.corrector = transcript.NewPipeline(opts...)
}

func (a *App) initNotify() error {
	if a.providers.Chat == nil {
		return nil
	}
	d, err := notify.NewDispatcher(notify.Config{
		Store:             a.store,
		Adapter:           a.providers.Chat,
		Transcripts:       a.store,
		Metrics:           a.metrics,
		ProcessInterval:   time.Duration(a.cfg.Notify.ProcessIntervalMs) * time.Millisecond,
		RetryBase:         time.Duration(a.cfg.Notify.RetryBaseMs) * time.Millisecond,
		RetryMax:          time.Duration(a.cfg.Notify.RetryMaxMs) * time.Millisecond,
		RetryMaxAttempts:  a.cfg.Notify.RetryMaxAttempts,
		TranscriptWaitMax: time.Duration(a.cfg.Notify.TranscriptWaitMaxS) * time.Second,
	})
	if err != nil {
		return err
	}
	a.dispatcher = d
	return nil
}

func (a *App) initLifecycle() error {
	m, err := lifecycle.NewManager(lifecycle.Config{
		Store:         a.store,
		Console:       a.console,
		Notify:        a.dispatcher,
		Registry:      a.registry,
		Metrics:       a.metrics,
		TerminalQuiet: time.Duration(a.cfg.Session.TerminalQuietMs) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	a.lifecycle = m
	a.closers = append(a.closers, func() error {
		m.Close()
		return nil
	})
	return nil
}

func (a *App) initHTTP() error {
	srv, err := httpapi.NewServer(httpapi.Config{
		Registry:  a.registry,
		Lifecycle: a.lifecycle,
		Engine:    a.engine,
		StreamURL: a.streamURL(),
		Inbound:   a.acceptInbound,
	})
	if err != nil {
		return err
	}
	a.api = srv
	return nil
}

// initHealth registers the readiness checkers: database reachability when the
// store exposes a ping, and store-write degradation.
func (a *App) initHealth() {
	var checkers []health.Checker
	if pinger, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		checkers = append(checkers, health.Checker{
			Name:  "database",
			Check: pinger.Ping,
		})
	}
	checkers = append(checkers, health.Checker{
		Name: "store_writes",
		Check: func(context.Context) error {
			if a.guard.IsDegraded() {
				return errors.New("last store write failed")
			}
			return nil
		},
	})
	if h, ok := a.providers.Chat.(interface{ Healthy(context.Context) error }); ok {
		checkers = append(checkers, health.Checker{Name: "chat", Check: h.Healthy})
	}
	a.health = health.New(checkers...)
}

// Registry exposes the session registry, for tests and diagnostics.
func (a *App) Registry() *session.Registry { return a.registry }

// Handler returns the full HTTP surface: webhooks, media stream, health, and
// metrics, wrapped in the tracing middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", a.api.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// Run connects the chat backend, starts the notification worker, and serves
// HTTP until ctx is cancelled. It returns the first serve error, or nil on a
// clean shutdown.
func (a *App) Run(ctx context.Context) error {
	if a.providers.Chat != nil {
		if err := a.providers.Chat.Open(ctx); err != nil {
			return fmt.Errorf("app: open chat adapter: %w", err)
		}
		a.closers = append(a.closers, a.providers.Chat.Close)
	}
	if a.dispatcher != nil {
		a.dispatcher.Start(ctx)
		a.closers = append(a.closers, func() error {
			a.dispatcher.Stop()
			return nil
		})
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tc := a.cfg.Server.TLS; tc != nil {
			err = srv.ListenAndServeTLS(tc.CertFile, tc.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown ends all live calls with a closing message and tears down all
// subsystems in reverse-init order. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if n := a.registry.Len(); n > 0 {
			slog.Info("ending live calls", "count", n)
		}
		a.registry.Shutdown(shutdownClosing)

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
