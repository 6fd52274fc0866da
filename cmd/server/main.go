/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the teller settlement server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and environment (config.Load), configure zerolog
  2. Open the SQLite store
  3. Connect to Redis when REDIS_URL is set (locks + event publishing);
     otherwise fall back to in-process locks and log-only events
  4. Build the engine, scheduler and HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides HTTP_ADDR)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (cancels an in-flight run at its next step)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and database connections

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/warp/teller-settlement/api"
	"github.com/warp/teller-settlement/config"
	"github.com/warp/teller-settlement/locker"
	"github.com/warp/teller-settlement/logging"
	"github.com/warp/teller-settlement/notify"
	"github.com/warp/teller-settlement/settlement"
	"github.com/warp/teller-settlement/store/sqlite"
)

func main() {
	port := flag.Int("port", 0, "HTTP server port (overrides HTTP_ADDR)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.Log)

	if *port != 0 {
		cfg.Server.HTTPAddr = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}

	rates, err := cfg.Pay.Rates()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid base pay configuration")
	}

	if cfg.Server.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Server.DBPath), 0o755); err != nil {
			log.Fatal().Err(err).Str("path", cfg.Server.DBPath).Msg("failed to create data directory")
		}
	}
	store, err := sqlite.New(cfg.Server.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	rdb := connectRedis(cfg.Server.RedisURL)
	if rdb != nil {
		defer rdb.Close()
	}

	var (
		locks     settlement.Locker = locker.NewLocal()
		notifiers                   = notify.Fanout{notify.NewLogPublisher()}
	)
	if rdb != nil {
		locks = locker.NewRedis(rdb)
		notifiers = append(notifiers, notify.NewRedisPublisher(rdb, cfg.Server.NotifyChannel))
	}

	engine := settlement.NewEngine(store, notifiers, locks, settlement.Options{
		AllowMultipleReports: cfg.Server.AllowMultipleReports,
		Rates:                rates,
		DefaultConfig:        cfg.Settlement.Config(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := api.NewSettlementScheduler(engine)
	scheduler.Enabled = cfg.Server.SchedulerEnabled
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	handler := api.NewHandler(engine, scheduler)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AccessLog:      cfg.Server.AccessLog,
		Scenarios:      cfg.Server.DemoScenarios,
	})

	server := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Server.HTTPAddr).
			Str("db", cfg.Server.DBPath).
			Bool("redis", rdb != nil).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// connectRedis returns nil when url is empty or the server is unreachable;
// callers then run with in-process locks and no published events.
func connectRedis(url string) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn().Err(err).Msg("invalid REDIS_URL, continuing without redis")
		return nil
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		log.Warn().Err(err).Msg("redis unreachable, continuing without redis")
		return nil
	}
	return client
}
