package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"gorm.io/gorm"

	"github.com/Tyrowin/roomchat/internal/coordinator"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/upload"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	cfg, err := server.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.Log)
	logger := logging.L()
	logger.Info().Str("port", cfg.Server.Port).Msg("starting RoomChat server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Message store: durable when the database answers the handshake.
	var (
		backend      store.Backend
		rooms        store.RoomRepository
		participants store.ParticipantRepository
	)
	gormStore, db := openDurable(cfg)
	if gormStore != nil {
		backend = gormStore
	}
	messages := store.NewFallback(backend, store.NewBuffer(cfg.Store.BufferSize), cfg.Store.OperationTimeout, logger)
	if messages.Handshake(ctx) == store.ModeDurable && db != nil {
		rooms = store.NewGormRoomRepository(db)
		participants = store.NewGormParticipantRepository(db)
	}

	storage, err := upload.NewStorage(ctx, cfg.Upload)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Upload.Backend).Msg("failed to initialize upload storage")
	}
	uploads := upload.NewService(storage, cfg.Upload)

	hub := server.NewHub(logger)
	coord := coordinator.New(hub, coordinator.Options{
		Store:        messages,
		Rooms:        rooms,
		Participants: participants,
		Files:        uploads,
		Seeds:        cfg.Rooms.Defaults,
		WriteTimeout: cfg.Store.OperationTimeout,
		Logger:       logger,
	})
	hub.Attach(coord)
	coord.Bootstrap(ctx)
	go hub.Run()

	deps := server.RouteDeps{
		Hub:     hub,
		Reader:  coord,
		Uploads: uploads,
		Logger:  logger,
	}
	if local, ok := storage.(*upload.LocalStorage); ok {
		deps.UploadDir = local.BasePath()
		deps.UploadPrefix = local.PublicPrefix()
	}
	httpServer := server.CreateServer(cfg.Server.Port, server.SetupRoutes(deps))

	go func() {
		if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	wait := gfshutdown.GracefulShutdown(ctx, shutdownTimeout, map[string]gfshutdown.Operation{
		"http-server": func(context.Context) error {
			return server.ShutdownServer(httpServer, shutdownTimeout)
		},
		"hub": func(context.Context) error {
			err := hub.Shutdown(shutdownTimeout)
			if db != nil {
				if sqlDB, dbErr := db.DB(); dbErr == nil {
					_ = sqlDB.Close()
				}
			}
			return err
		},
	})

	exitCode := <-wait
	logger.Info().Int("exit_code", exitCode).Msg("RoomChat server stopped")
	cancel()
	os.Exit(exitCode)
}

// openDurable connects the configured database. A failure is not fatal: the
// message store runs on its in-memory buffer instead.
func openDurable(cfg *server.AppConfig) (*store.GormStore, *gorm.DB) {
	if !cfg.Store.Enabled {
		return nil, nil
	}
	logger := logging.L()
	db, err := store.OpenDatabase(cfg.Store.Database, logger)
	if err != nil {
		logger.Warn().Err(err).Str("driver", cfg.Store.Database.Driver).Msg("database unavailable")
		return nil, nil
	}
	return store.NewGormStore(db, cfg.Store.BufferSize), db
}
