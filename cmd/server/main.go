// Package main provides the Parlor server: a realtime chat and board
// game coordinator speaking JSON over websockets, with a REST surface
// for registration, administration, rooms, and uploads.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/parlorchat/parlor/internal/api"
	"github.com/parlorchat/parlor/internal/auth"
	"github.com/parlorchat/parlor/internal/config"
	"github.com/parlorchat/parlor/internal/content"
	"github.com/parlorchat/parlor/internal/game/tictactoe"
	"github.com/parlorchat/parlor/internal/observability"
	"github.com/parlorchat/parlor/internal/realtime"
	"github.com/parlorchat/parlor/internal/server"
	"github.com/parlorchat/parlor/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting parlor server", zap.String("addr", cfg.Server.Addr()))

	// Connect to PostgreSQL
	ctx := context.Background()
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Name),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	users := postgres.NewUserRepository(pool.DB())
	rooms := postgres.NewRoomRepository(pool.DB())

	if err := seedRooms(ctx, cfg.Content.SeedRooms, rooms, logger); err != nil {
		logger.Fatal("seeding rooms", zap.Error(err))
	}

	// Build services
	tokens := auth.NewTokenService(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)
	hub := realtime.NewHub(tictactoe.NewEngine(), logger)
	dispatcher := realtime.NewDispatcher(hub, tokens, cfg.Auth.HandshakeTimeout, logger)
	handler := api.NewHandler(users, rooms, tokens, tokens, dispatcher, cfg.Content, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: handler.Routes(),
		// WriteTimeout stays disabled so upgraded websocket
		// connections are not cut off mid-session.
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			for {
				time.Sleep(30 * time.Second)
				if err := pool.Health(ctx, 5*time.Second); err != nil {
					logger.Warn("database health check failed", zap.Error(err))
				}
			}
		},
		StopFn: func() {
			pool.Close()
		},
	})

	lifecycle.Add("http", &server.FuncService{
		StartFn: func() error {
			err := httpServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
		StopFn: func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
		},
	})

	logger.Info("parlor initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("addr", cfg.Server.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// seedRooms creates the default rooms from the seed file if they do
// not already exist. A missing seed file is not an error; the server
// simply starts with whatever rooms the database holds.
func seedRooms(ctx context.Context, path string, rooms *postgres.RoomRepository, logger *zap.Logger) error {
	if path == "" {
		return nil
	}

	seeds, err := content.LoadSeedRooms(path)
	if err != nil {
		logger.Warn("seed file not loaded", zap.String("path", path), zap.Error(err))
		return nil
	}

	created := 0
	for _, s := range seeds {
		ok, err := rooms.CreateWithID(ctx, s.ID, s.Name, s.Kind, "")
		if err != nil {
			return err
		}
		if ok {
			created++
		}
	}
	logger.Info("seed rooms applied",
		zap.Int("defined", len(seeds)),
		zap.Int("created", created),
	)
	return nil
}
