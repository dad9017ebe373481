package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soaringjerry/opine/internal/api"
	"github.com/soaringjerry/opine/internal/app"
	"github.com/soaringjerry/opine/internal/config"
	"github.com/soaringjerry/opine/internal/middleware"
	"github.com/soaringjerry/opine/internal/utils"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $OPINE_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("close resources", "error", cerr)
		}
	}()

	if snapshot := os.Getenv("OPINE_LEGACY_SNAPSHOT"); snapshot != "" {
		if err := ImportLegacySnapshot(ctx, snapshot, a.Store, logger); err != nil {
			return err
		}
	}

	sched, err := startScheduler(cfg.Schedule, a.Maintenance, logger)
	if err != nil {
		return err
	}
	defer func() { <-sched.Stop().Done() }()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newEngine(cfg, a, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("opine server listening", "addr", cfg.HTTP.Addr, "storage", cfg.Storage.Driver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newEngine(cfg *config.Config, a *app.App, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	commit := utils.SafeEnv("OPINE_COMMIT", "dev")
	buildTime := os.Getenv("OPINE_BUILD_TIME")

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.CORS(),
		middleware.SecureHeaders(),
		middleware.NoStore(),
		middleware.Locale(),
		middleware.RateLimit(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst, time.Hour),
	)

	r.GET("/health", func(c *gin.Context) {
		locale := middleware.LocaleFrom(c)
		c.JSON(http.StatusOK, gin.H{
			"ok":         true,
			"name":       "Opine QC API",
			"locale":     locale,
			"msg":        utils.T(locale, "health.ok"),
			"commit":     commit,
			"build_time": buildTime,
		})
	})
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"commit": commit, "build_time": buildTime})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api.NewRouter(api.Services{
		Submission:  a.Submission,
		Review:      a.Review,
		Maintenance: a.Maintenance,
		Reports:     a.Reports,
	}, cfg.JWTSecret(), logger.With("component", "api")).Register(r)
	return r
}
