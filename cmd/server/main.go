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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hacknation/campus-lost-found/internal/handlers"
	"github.com/hacknation/campus-lost-found/internal/matching"
	"github.com/hacknation/campus-lost-found/internal/services"
	"github.com/hacknation/campus-lost-found/internal/storage"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	config, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", config.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("host", config.Host).
		Str("port", config.Port).
		Msg("Starting lost item matcher")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("Initializing Postgres storage...")
	itemStorage, err := storage.NewPostgresStorage(
		config.DBHost,
		config.DBPort,
		config.DBUser,
		config.DBPassword,
		config.DBName,
		config.DBSSLMode,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Postgres storage")
	}
	defer itemStorage.Close()
	log.Info().Msg("Postgres storage initialized")

	log.Info().Msg("Initializing MinIO storage...")
	minioStorage, err := storage.NewMinIOStorage(storage.MinIOConfig{
		Endpoint:       config.MinIOEndpoint,
		PublicEndpoint: config.MinIOPublicEndpoint,
		AccessKey:      config.MinIOAccessKey,
		SecretKey:      config.MinIOSecretKey,
		BucketName:     config.ImageBucket,
		UseSSL:         config.MinIOUseSSL,
		Region:         config.MinIORegion,
		URLMode:        config.ImageURLMode,
		URLTTL:         config.ImageURLTTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MinIO storage")
	}

	visionService := services.NewVisionService(config.VisionAPIKey, config.VisionAPIEndpoint, config.VisionTimeout)
	if !visionService.Enabled() {
		log.Warn().Msg("Vision API key not configured - matching will use metadata only")
	}

	log.Info().Msg("Initializing RabbitMQ publisher...")
	rabbitMQPublisher, err := services.NewRabbitMQPublisher(config.RabbitMQURL, config.RabbitMQExchange)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize RabbitMQ publisher")
	}
	defer rabbitMQPublisher.Close()

	deps := matching.Dependencies{
		Store:    itemStorage,
		Images:   minioStorage,
		Vision:   visionService,
		Notifier: rabbitMQPublisher,
	}

	checks := []handlers.HealthCheck{
		{Name: "postgres", Checker: itemStorage},
		{Name: "storage", Checker: minioStorage},
		{Name: "rabbitmq", Checker: rabbitMQPublisher},
		{Name: "vision", Checker: visionService, Optional: true},
	}

	if config.RedisAddr != "" {
		redisClient, err := services.NewRedisClient(ctx, config.RedisAddr, config.RedisPassword, config.RedisDB)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable - annotation cache disabled")
		} else {
			defer redisClient.Close()
			cache := services.NewRedisAnnotationCache(redisClient, config.AnnotationCacheTTL)
			deps.Cache = cache
			checks = append(checks, handlers.HealthCheck{Name: "redis", Checker: cache, Optional: true})
			log.Info().Dur("ttl", config.AnnotationCacheTTL).Msg("Annotation cache enabled")
		}
	}

	engine := matching.NewEngine(deps, config.engineConfig())

	log.Info().Msg("Initializing RabbitMQ consumer...")
	rabbitMQConsumer, err := services.NewRabbitMQConsumer(
		config.RabbitMQURL,
		config.RabbitMQExchange,
		config.RabbitMQTriggerQueue,
		engine,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize RabbitMQ consumer")
	}
	defer rabbitMQConsumer.Close()

	if err := rabbitMQConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start RabbitMQ consumer")
	}

	handler := handlers.NewHandler(engine, itemStorage, checks...)
	router := handlers.NewRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", config.Host, config.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // a run scores the whole pool before responding
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("address", srv.Addr).
			Msg("Server starting...")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited gracefully")
}
