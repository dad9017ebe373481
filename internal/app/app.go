// Package app wires configuration, storage and services for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/soaringjerry/opine/internal/claims"
	"github.com/soaringjerry/opine/internal/config"
	"github.com/soaringjerry/opine/internal/db"
	"github.com/soaringjerry/opine/internal/services"
)

type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Store       services.ResponseStore
	SQLite      *db.SQLiteStore
	Lifecycle   *services.Lifecycle
	Dedup       *services.DuplicateIndex
	Evaluator   *services.AutoRejectionEvaluator
	Submission  *services.SubmissionService
	Review      *services.ReviewService
	Maintenance *services.MaintenanceService
	Reports     *services.ReportService

	closers []func() error
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// New opens the configured store and builds every service on top of it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UsingDevSecret() {
		logger.Warn("OPINE_JWT_SECRET is unset; signing tokens with the development secret", "driver", cfg.Storage.Driver, "path", cfg.Storage.Path)
	}
	a := &App{Config: cfg, Logger: logger}
	if err := a.openStore(); err != nil {
		return nil, err
	}
	locker, err := a.openLocker(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Lifecycle = services.NewLifecycle(a.Store, logger.With("component", "lifecycle"))
	a.Dedup = services.NewDuplicateIndex(a.Store, a.Lifecycle, cfg.Dedup, cfg.AutoReject, logger.With("component", "dedup"))
	a.Evaluator = services.NewAutoRejectionEvaluator(cfg.AutoReject, a.Dedup, logger.With("component", "autoreject"))
	a.Submission = services.NewSubmissionService(a.Store, a.Evaluator, a.Dedup, a.Lifecycle, cfg.AutoReject, logger.With("component", "submission"))
	a.Review = services.NewReviewService(a.Store, a.Lifecycle, locker, cfg.Review.ClaimTTL, cfg.Review.BatchWindow, logger.With("component", "review"))
	a.Maintenance = services.NewMaintenanceService(a.Store, a.Lifecycle, a.Dedup, a.Evaluator, cfg.Batch, logger.With("component", "maintenance"))
	a.Reports = services.NewReportService(a.Store)
	return a, nil
}

func (a *App) openStore() error {
	st := a.Config.Storage
	switch st.Driver {
	case config.DriverMemory:
		a.Logger.Warn("using in-memory store; data is lost on exit")
		a.Store = db.NewMemoryStore(a.Logger.With("component", "store"))
		return nil
	case config.DriverSQLite:
		if dir := filepath.Dir(st.Path); dir != "." && !strings.Contains(st.Path, ":memory:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		conn, err := db.OpenSQLite(st.Path)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, conn.Close)
		if err := db.RunMigrations(conn, st.MigrationsDir); err != nil {
			_ = a.Close()
			return fmt.Errorf("run migrations: %w", err)
		}
		store, err := db.NewSQLiteStore(conn, a.Logger.With("component", "store"))
		if err != nil {
			_ = a.Close()
			return err
		}
		a.Store, a.SQLite = store, store
		return nil
	}
	return fmt.Errorf("unknown storage driver %q", st.Driver)
}

func (a *App) openLocker(ctx context.Context) (services.ClaimLocker, error) {
	rc := a.Config.Review
	if rc.RedisAddr == "" {
		return claims.NewMemoryLocker(), nil
	}
	client, err := claims.NewRedisClient(ctx, rc.RedisAddr, rc.RedisPassword, rc.RedisDB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	a.Logger.Info("claim leases stored in redis", "addr", rc.RedisAddr)
	return claims.NewRedisLocker(client, rc.RedisPrefix), nil
}

// Close releases the store and lease backend in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
