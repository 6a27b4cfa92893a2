package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/owesh74/Guftagu/internal/config"
	"github.com/owesh74/Guftagu/internal/database"
	"github.com/owesh74/Guftagu/internal/handler"
	"github.com/owesh74/Guftagu/internal/middleware"
	"github.com/owesh74/Guftagu/internal/repository"
	"github.com/owesh74/Guftagu/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	var log zerolog.Logger
	if cfg.IsProduction() {
		log = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}

	// Database
	db, err := database.NewPool(context.Background(), cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := database.RunMigrations(context.Background(), db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("migrations applied")

	// Room store and services
	groupRepo := repository.NewGroupRepository(db)
	admission := service.NewAdmissionService(groupRepo)
	hub := service.NewHub(groupRepo, log, cfg.SendBuffer)

	attachments, err := service.NewAttachmentService(cfg.UploadDir, cfg.PublicBaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init upload dir")
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
		BodyLimit:    service.MaxAttachmentSize + 1024*1024,
	})

	app.Use(recover.New())
	app.Use(middleware.Logger(log))
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.CORSOrigins}))

	// Health
	healthH := handler.NewHealthHandler(db, hub)
	app.Get("/health", healthH.Health)
	app.Get("/ready", healthH.Ready)

	// REST surface
	groupH := handler.NewGroupHandler(groupRepo, admission, log)
	uploadH := handler.NewUploadHandler(attachments, log)

	api := app.Group("/api")
	api.Post("/groups", middleware.RateLimit(10, time.Minute), groupH.Create)
	api.Get("/groups/:name", groupH.Snapshot)
	api.Post("/groups/:name/join", middleware.RateLimit(20, time.Minute), groupH.Join)
	api.Post("/upload", uploadH.Upload)

	// Stored attachments
	app.Static("/uploads", cfg.UploadDir)

	// WebSocket channel
	wsH := handler.NewWSHandler(hub, log)
	app.Get("/ws", wsH.Upgrade)

	// Retention sweep
	retentionCtx, stopRetention := context.WithCancel(context.Background())
	defer stopRetention()
	if cfg.RetentionDays > 0 {
		go runRetention(retentionCtx, groupRepo, cfg.RetentionDays, log)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("guftagu relay running")

	<-quit
	log.Info().Msg("shutting down...")
	_ = app.ShutdownWithTimeout(5 * time.Second)
	log.Info().Msg("server stopped")
}

func runRetention(ctx context.Context, repo *repository.GroupRepository, days int, log zerolog.Logger) {
	ticker := time.NewTicker(12 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := repo.DeleteMessagesOlderThan(ctx, days)
			if err != nil {
				log.Error().Err(err).Msg("retention sweep failed")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Int("days", days).Msg("retention sweep")
			}
		}
	}
}
