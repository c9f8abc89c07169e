package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nomanoma121/minecraft-discord-bot/internal/api"
	"github.com/nomanoma121/minecraft-discord-bot/internal/config"
	"github.com/nomanoma121/minecraft-discord-bot/internal/console"
	"github.com/nomanoma121/minecraft-discord-bot/internal/database"
	"github.com/nomanoma121/minecraft-discord-bot/internal/docker"
	"github.com/nomanoma121/minecraft-discord-bot/internal/lifecycle"
	"github.com/nomanoma121/minecraft-discord-bot/internal/logger"
	"github.com/nomanoma121/minecraft-discord-bot/internal/monitoring"
	"github.com/nomanoma121/minecraft-discord-bot/internal/services"
	"github.com/nomanoma121/minecraft-discord-bot/internal/storage"
	"github.com/nomanoma121/minecraft-discord-bot/internal/websocket"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, cfg.LogPretty)

	for _, dir := range []string{cfg.BackupPath, cfg.IconPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("path", dir).Msg("Failed to create data directory")
		}
	}

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database migrations")
	}

	dockerClient, err := docker.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Docker client")
	}
	defer dockerClient.Close()

	var con services.Console = console.NewExecConsole(dockerClient)
	if cfg.ConsoleMode == config.ConsoleRCON {
		con = console.NewRCONConsole(dockerClient, dockerClient, cfg.RCONHost, cfg.RCONPassword)
	}

	var mirror services.BackupMirror
	minioMirror, err := storage.NewMinioMirror(context.Background(), cfg.Minio)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize backup mirror")
	}
	if minioMirror != nil {
		mirror = minioMirror
	}

	hub := websocket.NewHub()
	go hub.Run()

	lock := lifecycle.New(cfg.LockTimeout, cfg.LockFile)
	eventService := services.NewEventService(db, hub)
	backupService := services.NewBackupService(cfg, dockerClient, con, lock, services.NewRetentionPolicy(cfg), mirror, eventService, hub)
	serverService := services.NewServerService(cfg, dockerClient, con, lock, backupService, eventService, hub)

	statUpdater := monitoring.NewStatUpdater(cfg.StatsInterval, dockerClient, serverService, eventService, hub)
	go statUpdater.Run()

	scheduler := monitoring.NewScheduler(cfg.AutoBackupCron, serverService, backupService, eventService)
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start backup scheduler")
	}

	router := api.NewRouter(cfg, hub, api.Services{
		Servers: serverService,
		Backups: backupService,
		Events:  eventService,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.ServerPort).Msg("Server starting")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ListenAndServe failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	statUpdater.Stop()
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	hub.Stop()

	log.Info().Msg("Server exiting")
}
