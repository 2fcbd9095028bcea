package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SAP-F-2025/article-service/internal/cli"
	"github.com/SAP-F-2025/article-service/internal/config"
	"github.com/SAP-F-2025/article-service/internal/crypto"
	"github.com/SAP-F-2025/article-service/internal/events"
	"github.com/SAP-F-2025/article-service/internal/repositories/casdoor"
	"github.com/SAP-F-2025/article-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/article-service/internal/services"
	"github.com/SAP-F-2025/article-service/internal/utils"
	"github.com/SAP-F-2025/article-service/internal/validator"
	"github.com/SAP-F-2025/article-service/pkg"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 2
	}

	// Initialize logger
	logger, logCloser, err := utils.NewLogger(utils.LoggerConfig{
		Level: cfg.LogLevel,
		JSON:  cfg.IsProduction(),
		File:  cfg.LogFile,
	})
	if err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return 1
	}
	defer logCloser.Close()

	// Initialize database
	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		return 1
	}

	// Initialize Redis (if configured)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = pkg.NewRedisClient(cfg)
		if err != nil {
			logger.Warn("Redis unavailable, running without cache", "error", err)
			redisClient = nil
		}
	}

	// Initialize repositories
	repoManager := postgres.NewRepositoryManager(postgres.RepositoryConfig{
		DB:               db,
		RedisClient:      redisClient,
		IdentityProvider: cfg.IdentityProvider,
		CasdoorConfig: casdoor.CasdoorConfig{
			Endpoint:         cfg.Casdoor.Endpoint,
			ClientID:         cfg.Casdoor.ClientID,
			ClientSecret:     cfg.Casdoor.ClientSecret,
			Certificate:      cfg.Casdoor.Cert,
			OrganizationName: cfg.Casdoor.Organization,
			ApplicationName:  cfg.Casdoor.Application,
		},
	})
	if err := repoManager.Initialize(); err != nil {
		logger.Error("Failed to initialize repositories", "error", err)
		return 1
	}
	defer func() {
		if err := repoManager.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to close repositories", "error", err)
		}
	}()

	// Load the encryption key into locked memory
	keys, err := loadKey(cfg)
	if err != nil {
		logger.Error("Failed to load encryption key", "error", err)
		return 1
	}
	defer keys.Destroy()

	// Initialize event publisher
	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize event publisher", "error", err)
		return 1
	}

	// Initialize services
	serviceManager := services.NewServiceManager(
		repoManager.GetRepository(),
		keys,
		publisher,
		logger,
		validator.New(),
		services.ServiceManagerConfig{BackupMaxBytes: cfg.BackupMaxBytes},
	)
	if err := serviceManager.Initialize(context.Background()); err != nil {
		logger.Error("Failed to initialize services", "error", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := serviceManager.Shutdown(ctx); err != nil {
			logger.Error("Failed to shutdown services", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(&cli.App{Services: serviceManager, Logger: logger})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func loadKey(cfg *config.Config) (*crypto.LockedKeyProvider, error) {
	if cfg.EncryptionKeyFile != "" {
		return crypto.KeyProviderFromFile(cfg.EncryptionKeyFile)
	}
	return crypto.KeyProviderFromBase64(cfg.EncryptionKey)
}

func newPublisher(cfg *config.Config, logger *slog.Logger) (events.EventPublisher, error) {
	if len(cfg.Kafka.Brokers) > 0 {
		return events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	}
	publisher, _ := events.NewGoChannelPublisher(cfg.Kafka.Topic, logger)
	return publisher, nil
}
