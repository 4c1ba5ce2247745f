package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"formbridge/internal/admin"
	"formbridge/internal/auth"
	"formbridge/internal/cache"
	"formbridge/internal/config"
	"formbridge/internal/engine"
	"formbridge/internal/instrument"
	"formbridge/internal/storage"
	"formbridge/internal/store"
)

const (
	shutdownTimeout = 10 * time.Second
	tokenPurgeEvery = time.Hour
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config (.env first so it can feed viper's env overlay)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger := instrument.NewLogger(cfg.Log)
	logger.Info().
		Int("port", cfg.Server.Port).
		Str("db_driver", cfg.Database.Driver).
		Str("storage_driver", cfg.Storage.Driver).
		Msg("config loaded")

	// 2. Connect to database and bootstrap system tables
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := db.Bootstrap(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap system tables")
	}
	logger.Info().Msg("system tables ready")

	// 3. File storage
	files, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise file storage")
	}

	// 4. Pipeline components
	metrics := instrument.NewMetrics()
	webhooks := store.NewWebhookRepo(db)
	content := store.NewContentRepo(db)
	users := store.NewUserRepo(db)

	importerOpts := []engine.ImporterOption{
		engine.WithTimeout(cfg.Importer.Timeout),
		engine.WithMaxSize(cfg.Storage.MaxFileSize),
		engine.WithTempDir(cfg.Importer.TempDir),
		engine.WithPrivateNetworks(cfg.Importer.AllowPrivateNetworks),
		engine.WithImportMetrics(metrics),
	}
	if cfg.Redis.Address != "" {
		client, err := cache.NewClient(cfg.Redis)
		if err != nil {
			// the index is an optimisation; imports still dedupe through the database
			logger.Warn().Err(err).Str("address", cfg.Redis.Address).Msg("redis unavailable, attachment index disabled")
		} else {
			defer client.Close()
			importerOpts = append(importerOpts, engine.WithAttachmentIndex(cache.NewAttachmentIndex(client, cfg.Redis.TTL)))
			logger.Info().Str("address", cfg.Redis.Address).Msg("attachment index enabled")
		}
	}
	importer := engine.NewImporter(content, files, importerOpts...)
	processor := engine.NewProcessor(content, importer, engine.NewCategoryResolver(content, metrics))

	// 5. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler,
		BodyLimit:             cfg.Server.BodyLimit,
		DisableStartupMessage: true,
	})
	app.Use(instrument.Middleware(logger))
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 6. Health check and metrics
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if cfg.Metrics.Enabled {
		app.Get("/metrics", metrics.Handler())
	}

	// 7. Auth routes (no auth required)
	auth.RegisterAuthRoutes(app, auth.NewAuthHandler(users, cfg.Auth.JWTSecret))

	// 8. Admin routes (auth + admin + csrf)
	media := engine.NewMediaHandler(content, files)
	adminHandler := admin.NewHandler(webhooks, media, cfg.Server.PublicURL)
	admin.RegisterAdminRoutes(app, adminHandler,
		auth.AuthMiddleware(cfg.Auth.JWTSecret), auth.RequireAdmin(), auth.CSRF())

	// 9. Public media and webhook delivery routes
	engine.RegisterMediaRoutes(app, media)
	engine.RegisterWebhookRoutes(app, engine.NewWebhookHandler(webhooks, processor, metrics))

	// 10. Purge expired refresh tokens in the background
	go purgeRefreshTokens(ctx, users, logger)

	// 11. Start server, stop on SIGINT/SIGTERM
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info().Str("addr", addr).Str("public_url", cfg.Server.PublicURL).Msg("starting server")
		if err := app.Listen(addr); err != nil {
			logger.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func purgeRefreshTokens(ctx context.Context, users *store.UserRepo, logger zerolog.Logger) {
	ticker := time.NewTicker(tokenPurgeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := users.PurgeExpiredTokens(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("purge refresh tokens")
				continue
			}
			if n > 0 {
				logger.Debug().Int64("count", n).Msg("purged expired refresh tokens")
			}
		}
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
	}

	if code >= fiber.StatusInternalServerError {
		zerolog.Ctx(c.UserContext()).Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
		return c.Status(code).JSON(engine.ErrorResponse{
			Error: &engine.AppError{
				Code:    "INTERNAL_ERROR",
				Message: "Internal server error",
			},
		})
	}

	return c.Status(code).JSON(engine.ErrorResponse{
		Error: &engine.AppError{
			Code:    "REQUEST_FAILED",
			Message: fiberErr.Message,
		},
	})
}
