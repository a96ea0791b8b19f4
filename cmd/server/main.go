package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-progress/internal/api"
	"github.com/p-n-ai/pai-progress/internal/catalog"
	"github.com/p-n-ai/pai-progress/internal/certificate"
	"github.com/p-n-ai/pai-progress/internal/engine"
	"github.com/p-n-ai/pai-progress/internal/events"
	"github.com/p-n-ai/pai-progress/internal/notify"
	"github.com/p-n-ai/pai-progress/internal/platform/cache"
	"github.com/p-n-ai/pai-progress/internal/platform/config"
	"github.com/p-n-ai/pai-progress/internal/platform/database"
	"github.com/p-n-ai/pai-progress/internal/progress"
	"github.com/p-n-ai/pai-progress/internal/quiz"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      app.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// app is the wired service and the connections it owns.
type app struct {
	handler http.Handler
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	cat, err := catalog.Load(cfg.CatalogPath, catalog.Defaults{
		QuizAttemptLimit: cfg.Quiz.DefaultAttemptLimit,
		PassingScore:     cfg.Quiz.DefaultPassingScore,
	})
	if err != nil {
		return nil, err
	}

	hub := notify.NewHub()
	checks := map[string]api.HealthCheck{}
	engineCfg := engine.Config{
		Catalog:            cat,
		VerificationSecret: cfg.Certificate.VerificationSecret,
		WeakTopics:         quiz.NewMemoryWeakTopics(cfg.Quiz.WeakTopicCapacity),
		Publisher:          events.Fanout{events.NewMemoryPublisher(), hub},
	}

	if cfg.UsesPostgres() {
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		checks["database"] = db.HealthCheck

		if engineCfg.ProgressStore, err = progress.NewPostgresStore(db.Pool); err != nil {
			return nil, err
		}
		if engineCfg.QuizStore, err = quiz.NewPostgresStore(db.Pool); err != nil {
			return nil, err
		}
		if engineCfg.CertificateStore, err = certificate.NewPostgresStore(db.Pool); err != nil {
			return nil, err
		}
		engineCfg.Publisher = events.Fanout{events.NewPostgresPublisher(db.Pool), hub}
	}

	if cfg.Cache.URL != "" {
		c, err := cache.Open(ctx, cfg.Cache)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := c.Close(); err != nil {
				slog.Warn("cache close failed", "error", err)
			}
		})
		checks["cache"] = c.HealthCheck
		engineCfg.WeakTopics = quiz.NewRedisWeakTopics(c, cfg.Quiz.WeakTopicCapacity)
	}

	srv := api.NewServer(api.Config{
		Engine: engine.New(engineCfg),
		Auth:   api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TrustedHeader),
		Hub:    hub,
		Checks: checks,
	})
	a.handler = srv.Handler()
	ok = true
	return a, nil
}

// newLogger builds the process logger from the log settings.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
