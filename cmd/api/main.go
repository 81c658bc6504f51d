package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"flexiID/internal/api"
	"flexiID/internal/auth"
	"flexiID/internal/card"
	"flexiID/internal/config"
	"flexiID/internal/database"
	"flexiID/internal/storage"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database, logger)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	logger.Info("database ready",
		slog.String("host", cfg.Database.Host),
		slog.String("db", cfg.Database.Name),
	)

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Warn("redis unavailable at startup, login rate limit fails open", slog.Any("error", err))
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer asynqClient.Close()

	authService, err := auth.NewAuthServiceFromFiles(cfg.Auth.PrivateKeyPath, cfg.Auth.PublicKeyPath, cfg.Auth.AccessTokenTTL)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	renderer, err := card.NewRenderer(cfg.Card.Renderer, cfg.Card.BrowserTimeout, logger)
	if err != nil {
		log.Fatalf("init card renderer: %v", err)
	}
	cards := card.NewService(db, storageClient, renderer, logger)

	router := api.NewRouter(cfg, logger)
	api.RegisterRoutes(router, api.Deps{
		DB:             db,
		Redis:          redisClient,
		AuthService:    authService,
		Storage:        storageClient,
		Cards:          cards,
		Enqueuer:       asynqClient,
		Scanner:        api.NewClamdScanner(cfg.Upload.ClamdAddr),
		Logger:         logger,
		AllowedOrigins: cfg.API.Origins(),
		MaxUploadBytes: cfg.Upload.MaxBytes,
		LoginRateLimit: cfg.Auth.LoginRateLimitPerHour,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	logger.Info("api listening",
		slog.String("addr", server.Addr),
		slog.String("renderer", renderer.Name()),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("api shutdown failed", slog.Any("error", err))
		return
	}
	logger.Info("api stopped")
}
