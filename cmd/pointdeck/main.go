package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/internal/api"
	"github.com/pointdeck/pointdeck/internal/bridge"
	"github.com/pointdeck/pointdeck/internal/config"
	"github.com/pointdeck/pointdeck/internal/dbconfig"
	"github.com/pointdeck/pointdeck/internal/gateway"
	"github.com/pointdeck/pointdeck/internal/room"
	"github.com/pointdeck/pointdeck/internal/session"
	"github.com/pointdeck/pointdeck/internal/task"
	"github.com/pointdeck/pointdeck/internal/vote"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	db, err := setupDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	rooms := room.NewRepository(db)
	tasks := task.NewRepository(db)
	votes := vote.NewRepository(db)
	ledger := vote.NewLedger(votes, clock)

	hubs := session.NewRegistry(tasks, clock, session.RegistryConfig{
		IdleEviction:  cfg.Tuning.Hub.IdleEviction,
		JanitorPeriod: cfg.Tuning.Hub.JanitorPeriod,
	})

	connConfig := gateway.DefaultConnectionConfig()
	connConfig.WriteTimeout = cfg.Tuning.Gateway.WriteTimeout
	connConfig.ReadTimeout = cfg.Tuning.Gateway.ReadTimeout
	connConfig.PingInterval = cfg.Tuning.Gateway.PingInterval
	connConfig.MaxMessageSize = cfg.Tuning.Gateway.MaxMessageSize
	connConfig.SendBuffer = cfg.Tuning.Gateway.SendBuffer
	connectionManager := gateway.NewConnectionManager(connConfig)
	hubs.SetSubscriberCheck(connectionManager.HasSubscribers)

	engine := session.NewService(tasks, ledger, rooms, hubs, connectionManager, clock)

	go connectionManager.Start(ctx)
	go hubs.StartJanitor(ctx)

	mux := http.NewServeMux()
	api.NewHandler(engine).RegisterRoutes(mux)
	gateway.NewHandler(connectionManager, engine, rooms).RegisterRoutes(mux)
	bridge.NewHandler(bridge.NewReader(db), rooms).RegisterRoutes(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"OK","timestamp":%q}`, time.Now().UTC().Format(time.RFC3339))
	})

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: cors.AllowAll().Handler(mux),
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("pointdeck engine listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func setupDatabase() (*sql.DB, error) {
	dbCfg, err := dbconfig.NewConfigFromEnv()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("database", dbCfg.Database).
		Msg("connected to database")
	return db, nil
}
