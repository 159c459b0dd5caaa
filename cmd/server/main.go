// Package main runs the fundwatch API server.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/civicwatch/fundwatch/internal/app"
	"github.com/civicwatch/fundwatch/internal/app/httpapi"
	"github.com/civicwatch/fundwatch/internal/app/storage/postgres"
	"github.com/civicwatch/fundwatch/internal/cache"
	"github.com/civicwatch/fundwatch/internal/config"
	"github.com/civicwatch/fundwatch/internal/platform/migrations"
	"github.com/civicwatch/fundwatch/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.NewDefault("server").WithError(err).Error("load configuration")
		os.Exit(1)
	}

	log := logger.New(cfg.Logging).WithField("component", "server")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, closeDB, err := buildStores(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("initialize storage")
		os.Exit(1)
	}
	if closeDB != nil {
		defer closeDB()
	}

	opts := app.Options{
		TokenSecret: []byte(cfg.Auth.Secret),
		TokenTTL:    cfg.Auth.TokenTTL,
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		analyticsCache := cache.NewAnalytics(client, cfg.Redis.CacheTTL, log)
		if err := analyticsCache.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis unreachable; analytics cache disabled")
		} else {
			opts.AnalyticsCache = analyticsCache
			log.WithField("addr", cfg.Redis.Addr).Info("analytics cache enabled")
		}
	}

	application, err := app.New(stores, opts, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}
	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	handler, err := httpapi.NewHandler(application, httpapi.Config{
		AllowedOrigins:      cfg.CORS.AllowedOrigins,
		CommentsPerMinuteIP: cfg.RateLimit.CommentsPerMinuteIP,
		AuditMax:            cfg.Audit.MaxEntries,
		AuditFilePath:       cfg.Audit.FilePath,
	}, log)
	if err != nil {
		log.WithError(err).Error("build http handler")
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("fundwatch API listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("http server failed")
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}
	log.Info("server stopped")
}

// buildStores selects the persistence backend. With a DSN configured the
// postgres store is used and migrations run on startup; otherwise everything
// lives in memory.
func buildStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (app.Stores, func(), error) {
	if cfg.Database.DSN == "" {
		log.Warn("no database DSN configured; using in-memory storage")
		return app.Stores{}, nil, nil
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.DSN)
	if err != nil {
		return app.Stores{}, nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	if err := migrations.Apply(ctx, db.DB); err != nil {
		db.Close()
		return app.Stores{}, nil, err
	}
	log.Info("database migrations applied")

	store := postgres.New(db)
	stores := app.Stores{
		Users:        store,
		Transactions: store,
		Reports:      store,
		Comments:     store,
	}
	return stores, func() { db.Close() }, nil
}
