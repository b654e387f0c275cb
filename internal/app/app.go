// Package app wires all wordcut subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and autosaves until the context ends, and
// Shutdown saves open projects and tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithLLM,
// WithRegistry). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wordcut/internal/clipboard"
	"github.com/MrWong99/wordcut/internal/collab"
	"github.com/MrWong99/wordcut/internal/config"
	"github.com/MrWong99/wordcut/internal/correct"
	"github.com/MrWong99/wordcut/internal/health"
	"github.com/MrWong99/wordcut/internal/mcpserver"
	"github.com/MrWong99/wordcut/internal/observe"
	"github.com/MrWong99/wordcut/internal/resilience"
	"github.com/MrWong99/wordcut/internal/server"
	"github.com/MrWong99/wordcut/internal/store"
	"github.com/MrWong99/wordcut/internal/workspace"
	"github.com/MrWong99/wordcut/pkg/provider/llm"
)

// llmBreakerName names the correction model in the fallback group and the
// readiness response.
const llmBreakerName = "llm"

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	reg     *config.Registry
	level   *slog.LevelVar
	metrics *observe.Metrics
	scrape  http.Handler

	// Subsystems — initialised in New, torn down in Shutdown.
	store     store.Store
	llm       llm.Provider
	guard     *resilience.LLMFallback
	ws        *workspace.Manager
	hub       *collab.Hub
	suggester *correct.Suggester
	mcp       *mcpserver.Server
	health    *health.Handler
	api       *server.Server
	autosaver *workspace.Autosaver

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a project store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLLM injects the correction model instead of creating one from config.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// WithRegistry replaces the provider registry. Defaults to a registry with
// the built-in providers.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.reg = r }
}

// WithLogLevel lets config reloads change the level of the default logger.
func WithLogLevel(l *slog.LevelVar) Option {
	return func(a *App) { a.level = l }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler serving /metrics, typically
// [observe.Telemetry.MetricsHandler].
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.scrape = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.reg == nil {
		a.reg = config.NewRegistry()
		RegisterBuiltins(a.reg)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}

	// ── 1. Project store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Workspace ─────────────────────────────────────────────────────
	if err := a.initWorkspace(); err != nil {
		return nil, fmt.Errorf("app: init workspace: %w", err)
	}

	// ── 3. Collaboration hub ─────────────────────────────────────────────
	a.hub = collab.NewHub(
		collab.WithRateLimit(cfg.Collab.RateLimit, cfg.Collab.Burst),
		collab.WithMetrics(a.metrics),
	)

	// ── 4. Correction suggestions ────────────────────────────────────────
	if err := a.initSuggester(); err != nil {
		return nil, fmt.Errorf("app: init suggester: %w", err)
	}

	// ── 5. MCP tools ─────────────────────────────────────────────────────
	if cfg.MCP.Enabled {
		a.mcp = mcpserver.New(a.ws, mcpserver.WithMetrics(a.metrics))
	}

	// ── 6. Health + HTTP API ─────────────────────────────────────────────
	a.initHealth()
	srvCfg := server.Config{
		Workspace: a.ws,
		Hub:       a.hub,
		Suggester: a.suggester,
		Health:    a.health,
		Metrics:   a.metrics,
		FPS:       cfg.Export.FPS,

		MetricsHandler: a.scrape,
	}
	if a.mcp != nil {
		srvCfg.MCP = a.mcp.Handler()
	}
	a.api = server.New(srvCfg)

	a.autosaver = workspace.NewAutosaver(a.ws, cfg.Editor.AutosaveInterval)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens PostgreSQL when a DSN is configured and falls back to
// memory otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		a.store = store.NewMemStore()
		slog.Info("using in-memory project store")
		return nil
	}
	pg, pool, err := store.Open(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = pg
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	slog.Info("connected to postgres project store")
	return nil
}

func (a *App) initWorkspace() error {
	classifier, err := a.reg.CreateClassifier(a.cfg.Takes)
	if err != nil {
		return fmt.Errorf("create take classifier: %w", err)
	}
	var clip []clipboard.Option
	if a.cfg.Clipboard.System {
		clip = append(clip, clipboard.WithSystem(clipboard.OS{}))
	}
	a.ws = workspace.New(workspace.Config{
		Store:          a.store,
		Classifier:     classifier,
		ClassifyOnOpen: a.cfg.Takes.OnOpen,
		Buffer:         a.cfg.Editor.BufferSeconds,
		HistoryLimit:   a.cfg.Editor.HistoryLimit,
		Clipboard:      clip,
		Metrics:        a.metrics,
	})
	return nil
}

// initSuggester builds the correction model behind a circuit breaker. No
// model means no suggestions.
func (a *App) initSuggester() error {
	name := a.cfg.Providers.LLM.Name
	if a.llm == nil && name != "" {
		p, err := a.reg.CreateLLM(a.cfg.Providers.LLM)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("llm provider not available; suggestions disabled", "name", name)
		case err != nil:
			return fmt.Errorf("create llm provider %q: %w", name, err)
		default:
			a.llm = p
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}
	if a.llm == nil {
		return nil
	}
	a.guard = resilience.NewLLMFallback(a.llm, llmBreakerName, resilience.FallbackConfig{})
	a.suggester = correct.NewSuggester(a.guard,
		correct.WithMinConfidence(a.cfg.Correct.MinConfidence),
		correct.WithMaxWords(a.cfg.Correct.MaxWords),
		correct.WithMetrics(a.metrics),
	)
	return nil
}

func (a *App) initHealth() {
	var checks []health.Checker
	if p, ok := a.store.(health.Pinger); ok {
		checks = append(checks, health.StoreChecker(p))
	}
	if a.guard != nil {
		if cb, ok := a.guard.Breaker(llmBreakerName); ok {
			checks = append(checks, health.BreakerChecker(llmBreakerName, cb))
		}
	}
	a.health = health.New(checks...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the whole API.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// Workspace returns the project workspace.
func (a *App) Workspace() *workspace.Manager { return a.ws }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and autosaves until ctx is cancelled, then stops the HTTP
// server gracefully. A listener failure ends Run with that error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		return a.autosaver.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}
		return nil
	})

	slog.Info("app running")
	return g.Wait()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of a config change. It is meant
// as the onChange callback of a [config.Watcher].
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	ctx := context.Background()

	if d.LogLevelChanged {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.BufferChanged {
		a.ws.SetBuffer(ctx, d.NewBuffer)
		slog.Info("word buffer changed", "seconds", d.NewBuffer)
	}
	if d.TakesChanged {
		c, err := a.reg.CreateClassifier(new.Takes)
		if err != nil {
			slog.Warn("keeping previous take classifier", "err", err)
		} else {
			a.ws.SetClassifier(c, new.Takes.OnOpen)
			slog.Info("take classifier changed", "classifier", new.Takes.Classifier)
		}
	}
	if d.CollabChanged {
		a.hub.SetRateLimit(new.Collab.RateLimit, new.Collab.Burst)
		slog.Info("collab rate limit changed", "rate", new.Collab.RateLimit, "burst", new.Collab.Burst)
	}
}

// SlogLevel converts a config log level to a slog level.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown saves every open project and tears down all subsystems. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.autosaver.Stop()

		if err := a.ws.Shutdown(ctx); err != nil {
			slog.Error("saving open projects failed", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = errors.Join(shutdownErr, ctx.Err())
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
