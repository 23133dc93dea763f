package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"telecare-server/internal/config"
	"telecare-server/internal/events"
	"telecare-server/internal/handlers"
	"telecare-server/internal/logger"
	"telecare-server/internal/metrics"
	"telecare-server/internal/middleware"
	"telecare-server/internal/models"
	"telecare-server/internal/repository"
	"telecare-server/internal/routes"
	"telecare-server/internal/services"
	"telecare-server/internal/tracing"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Error loading .env file: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Error building logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	started := time.Now()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			zl.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	repos, pinger, closeDB, err := openStore(cfg, zl)
	if err != nil {
		return err
	}
	defer closeDB()

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, zl)
		zl.Info("publishing lifecycle events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			zl.Warn("event publisher close failed", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector(cfg.Metrics.Namespace)
	deps := services.Deps{Log: zl, Metrics: collector, Events: publisher, Now: time.Now}

	if cfg.Bootstrap.Enabled() {
		users := services.NewUserService(repos, deps)
		if _, _, err := users.Bootstrap(ctx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword); err != nil {
			return fmt.Errorf("bootstrapping admin: %w", err)
		}
	}

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.Recovery(zl),
		middleware.Tracing(cfg.Tracing.ServiceName),
		middleware.Metrics(collector),
		middleware.RequestLogger(zl),
	)

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsConfig))

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	go sweepVisitors(ctx, limiter)

	if err := routes.SetupRoutes(router, routes.Options{
		Config:  cfg,
		Repos:   repos,
		Deps:    deps,
		DB:      pinger,
		Limiter: limiter,
		Started: started,
	}); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("server listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Environment),
			zap.String("db_driver", cfg.Database.Driver))
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

	zl.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	zl.Info("server stopped")
	return nil
}

// openStore returns the repositories for the configured driver. pinger is nil
// for the in-memory store.
func openStore(cfg *config.Config, zl *zap.Logger) (repository.Repositories, handlers.Pinger, func(), error) {
	if cfg.Database.Driver == "memory" {
		zl.Warn("using in-memory storage; data is lost on restart")
		return repository.NewMemory().Repositories(), nil, func() {}, nil
	}

	db, err := models.InitDB(models.DatabaseConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return repository.Repositories{}, nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return repository.Repositories{}, nil, nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	zl.Info("connected to database", zap.String("driver", cfg.Database.Driver))

	closeDB := func() {
		if err := sqlDB.Close(); err != nil {
			zl.Warn("closing database", zap.Error(err))
		}
	}
	return repository.NewGorm(db), sqlDB, closeDB, nil
}

func sweepVisitors(ctx context.Context, limiter *middleware.RateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			limiter.Sweep(now)
		}
	}
}
