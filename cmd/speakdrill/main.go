// Command speakdrill serves spoken practice sessions backed by the Gemini
// Live API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speakdrill/internal/api"
	"github.com/MrWong99/speakdrill/internal/config"
	"github.com/MrWong99/speakdrill/internal/drill"
	"github.com/MrWong99/speakdrill/internal/health"
	"github.com/MrWong99/speakdrill/internal/livesession"
	"github.com/MrWong99/speakdrill/internal/observe"
	"github.com/MrWong99/speakdrill/internal/practice"
	"github.com/MrWong99/speakdrill/internal/resilience"
	"github.com/MrWong99/speakdrill/pkg/provider/live"
	"github.com/MrWong99/speakdrill/pkg/provider/live/gemini"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional; SPEAKDRILL_* variables override it)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the configuration")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "speakdrill: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "speakdrill: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("speakdrill starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"provider", cfg.Live.Provider.Name,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: cfg.Telemetry.ServiceName})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Drill store ───────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open drill store", "err", err)
		return 1
	}
	defer closeStore()

	// ── Live provider ─────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	breakerCfg := resilience.CircuitBreakerConfig{
		Name:         "live/" + cfg.Live.Provider.Name,
		MaxFailures:  cfg.Live.Breaker.MaxFailures,
		ResetTimeout: cfg.Live.Breaker.ResetTimeout,
		HalfOpenMax:  cfg.Live.Breaker.HalfOpenMax,
	}
	provider, err := buildLiveProvider(reg, cfg.Live, breakerCfg)
	if err != nil {
		slog.Error("failed to build live provider", "err", err, "registered", reg.LiveNames())
		return 1
	}

	breaker := resilience.NewCircuitBreaker(breakerCfg)
	controller := livesession.New(provider, livesession.Config{
		Voice:                cfg.Live.Voice,
		SampleRate:           cfg.Live.SampleRate,
		DialogueTimeout:      cfg.Live.DialogueTimeout,
		TranscriptionTimeout: cfg.Live.TranscriptionTimeout,
		MaxAudioChunks:       cfg.Live.MaxAudioChunks,
	}, livesession.WithBreaker(breaker), livesession.WithMetrics(metrics))
	svc := practice.NewService(controller, practice.Config{MaxHistoryTurns: cfg.Live.MaxHistoryTurns})

	// ── HTTP ──────────────────────────────────────────────────────────────────
	checks := []health.Checker{{Name: "live", Check: breaker.Check}}
	if p, ok := store.(health.Pinger); ok {
		checks = append(checks, health.PingCheck("drills", p))
	}
	handler := newHandler(handlerDeps{
		api:         api.New(svc, store, api.WithMaxBodyBytes(cfg.Server.MaxBodyBytes)),
		health:      health.New(checks...),
		metrics:     metrics,
		metricsPath: cfg.Telemetry.MetricsPath,
		metricsHTTP: tel.MetricsHandler(),
	})
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	printStartupSummary(cfg)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyReload(ctx, level, store, config.Diff(old, new), new)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Providers ─────────────────────────────────────────────────────────────────

func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLive("gemini-live", func(e config.ProviderEntry) (live.Provider, error) {
		if e.APIKey == "" {
			return nil, errors.New("api key is required")
		}
		var opts []gemini.Option
		if e.Model != "" {
			opts = append(opts, gemini.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(e.BaseURL))
		}
		return gemini.New(e.APIKey, opts...), nil
	})
}

// buildLiveProvider creates the configured primary provider. When fallbacks
// are configured it is wrapped in a [resilience.LiveFallback] with one breaker
// per backend.
func buildLiveProvider(reg *config.Registry, cfg config.LiveConfig, breaker resilience.CircuitBreakerConfig) (live.Provider, error) {
	primary, err := reg.CreateLive(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if len(cfg.Fallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewLiveFallback(primary, backendName(0, cfg.Provider), resilience.FallbackConfig{CircuitBreaker: breaker})
	for i, e := range cfg.Fallbacks {
		p, err := reg.CreateLive(e)
		if err != nil {
			return nil, fmt.Errorf("live.fallbacks[%d]: %w", i, err)
		}
		fb.AddFallback(backendName(i+1, e), p)
	}
	slog.Info("live provider failover enabled", "backends", fb.Backends())
	return fb, nil
}

func backendName(i int, e config.ProviderEntry) string {
	name := fmt.Sprintf("live/%d/%s", i, e.Name)
	if e.Model != "" {
		name += "/" + e.Model
	}
	return name
}

// ── Storage ───────────────────────────────────────────────────────────────────

// openStore returns the drill store selected by cfg and a func releasing it.
// The seed file, when set, is loaded into whichever store is chosen.
func openStore(ctx context.Context, cfg config.StorageConfig) (drill.Store, func(), error) {
	var (
		store   drill.Store
		release = func() {}
	)
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		pg := drill.NewPostgresStore(pool)
		if err := pg.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		if cfg.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		store, release = pg, pool.Close
	} else {
		store = drill.NewMemoryStore()
	}

	if cfg.DrillsFile != "" {
		n, err := drill.LoadFile(ctx, store, cfg.DrillsFile)
		if err != nil {
			release()
			return nil, nil, err
		}
		slog.Info("drills loaded", "file", cfg.DrillsFile, "count", n)
	}
	return store, release, nil
}

// ── Reload ────────────────────────────────────────────────────────────────────

func applyReload(ctx context.Context, level *slog.LevelVar, store drill.Store, d config.ConfigDiff, cfg *config.Config) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DrillsFileChanged && cfg.Storage.DrillsFile != "" {
		n, err := drill.LoadFile(ctx, store, cfg.Storage.DrillsFile)
		if err != nil {
			slog.Warn("drills reload failed", "file", cfg.Storage.DrillsFile, "err", err)
		} else {
			slog.Info("drills reloaded", "file", cfg.Storage.DrillsFile, "count", n)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("configuration changes need a restart to take effect", "fields", d.RestartRequired)
	}
}

// ── HTTP ──────────────────────────────────────────────────────────────────────

type handlerDeps struct {
	api         *api.Handler
	health      *health.Handler
	metrics     *observe.Metrics
	metricsPath string
	metricsHTTP http.Handler
}

// newHandler routes health checks and metrics directly and the practice API
// through the observability middleware.
func newHandler(d handlerDeps) http.Handler {
	apiMux := http.NewServeMux()
	d.api.Register(apiMux)

	mux := http.NewServeMux()
	d.health.Register(mux)
	mux.Handle("GET "+d.metricsPath, d.metricsHTTP)
	mux.Handle("/v1/", observe.Middleware(d.metrics)(apiMux))
	return mux
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       speakdrill — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Provider", cfg.Live.Provider.Name)
	printRow("Model", orDefault(cfg.Live.Provider.Model, "(provider default)"))
	if n := len(cfg.Live.Fallbacks); n > 0 {
		printRow("Fallbacks", fmt.Sprint(n))
	}
	printRow("Voice", orDefault(cfg.Live.Voice, "(provider default)"))
	switch {
	case cfg.Storage.PostgresDSN != "":
		printRow("Drills", "postgres")
	case cfg.Storage.DrillsFile != "":
		printRow("Drills", "memory + seed file")
	default:
		printRow("Drills", "(inline only)")
	}
	printRow("Metrics", cfg.Telemetry.MetricsPath)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", key, value)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
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
