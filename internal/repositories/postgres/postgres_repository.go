package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/article-service/internal/cache"
	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
	"github.com/SAP-F-2025/article-service/internal/repositories/casdoor"
)

// Identity providers understood by RepositoryConfig
const (
	IdentityProviderDatabase = "database"
	IdentityProviderCasdoor  = "casdoor"
)

// PostgreSQLRepository implements the main Repository interface
type PostgreSQLRepository struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cacheManager *cache.CacheManager

	article     repositories.ArticleRepository
	group       repositories.GroupRepository
	membership  repositories.MembershipRepository
	user        repositories.UserRepository
	invitation  repositories.InvitationRepository
	helpRequest repositories.HelpRequestRepository
}

// RepositoryConfig holds configuration for repository initialization
type RepositoryConfig struct {
	DB               *gorm.DB
	RedisClient      *redis.Client
	IdentityProvider string
	CasdoorConfig    casdoor.CasdoorConfig
}

// NewPostgreSQLRepository creates a new repository with all sub-repositories
func NewPostgreSQLRepository(config RepositoryConfig) repositories.Repository {
	cacheManager := cache.NewCacheManager(config.RedisClient)

	repo := &PostgreSQLRepository{
		db:           config.DB,
		redisClient:  config.RedisClient,
		cacheManager: cacheManager,
	}

	repo.article = NewArticlePostgreSQL(config.DB)
	repo.group = NewGroupPostgreSQL(config.DB, cacheManager)
	repo.membership = NewMembershipPostgreSQL(config.DB, cacheManager)
	repo.invitation = NewInvitationPostgreSQL(config.DB)
	repo.helpRequest = NewHelpRequestPostgreSQL(config.DB)

	if config.IdentityProvider == IdentityProviderCasdoor {
		repo.user = casdoor.NewUserCasdoor(config.CasdoorConfig, cacheManager)
	} else {
		repo.user = NewUserPostgreSQL(config.DB, cacheManager)
	}

	return repo
}

func (r *PostgreSQLRepository) Article() repositories.ArticleRepository {
	return r.article
}

func (r *PostgreSQLRepository) Group() repositories.GroupRepository {
	return r.group
}

func (r *PostgreSQLRepository) Membership() repositories.MembershipRepository {
	return r.membership
}

// User returns the identity directory
func (r *PostgreSQLRepository) User() repositories.UserRepository {
	return r.user
}

func (r *PostgreSQLRepository) Invitation() repositories.InvitationRepository {
	return r.invitation
}

func (r *PostgreSQLRepository) HelpRequest() repositories.HelpRequestRepository {
	return r.helpRequest
}

// WithTransaction executes fn within a database transaction. Caches are
// flushed once the transaction commits, since fn may have touched many
// groups and rolled back writes never reach the cache.
func (r *PostgreSQLRepository) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if err := r.db.WithContext(ctx).Transaction(fn); err != nil {
		return err
	}
	cache.InvalidateAll(ctx, r.cacheManager)
	return nil
}

// Ping checks the health of database and cache connections
func (r *PostgreSQLRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if r.redisClient != nil {
		if err := r.cacheManager.HealthCheck(ctx); err != nil {
			return fmt.Errorf("cache ping failed: %w", err)
		}
	}

	return nil
}

// Close closes all connections
func (r *PostgreSQLRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	if r.redisClient != nil {
		if err := r.redisClient.Close(); err != nil {
			return fmt.Errorf("failed to close Redis: %w", err)
		}
	}

	return nil
}

// AutoMigrate creates or updates every table the service owns
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.EncryptedArticle{},
		&models.ArticleGroup{},
		&models.GroupMembership{},
		&models.GroupArticleLink{},
		&models.User{},
		&models.UserRoleAssignment{},
		&models.InvitationCode{},
		&models.HelpRequest{},
	)
}

// RepositoryManager implements the RepositoryManager interface
type RepositoryManager struct {
	config RepositoryConfig
	repo   repositories.Repository
}

func NewRepositoryManager(config RepositoryConfig) repositories.RepositoryManager {
	return &RepositoryManager{
		config: config,
	}
}

// Initialize checks connectivity, runs migrations and builds the repository
func (rm *RepositoryManager) Initialize() error {
	if rm.config.DB == nil {
		return fmt.Errorf("database connection is required")
	}

	sqlDB, err := rm.config.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}

	if rm.config.RedisClient != nil {
		if _, err := rm.config.RedisClient.Ping(ctx).Result(); err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
	}

	if err := AutoMigrate(rm.config.DB); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	rm.repo = NewPostgreSQLRepository(rm.config)

	return nil
}

func (rm *RepositoryManager) GetRepository() repositories.Repository {
	return rm.repo
}

// HealthCheck checks the health of all repository connections
func (rm *RepositoryManager) HealthCheck(ctx context.Context) error {
	if rm.repo == nil {
		return fmt.Errorf("repository not initialized")
	}

	return rm.repo.Ping(ctx)
}

// Shutdown gracefully shuts down all repository connections
func (rm *RepositoryManager) Shutdown(ctx context.Context) error {
	if rm.repo == nil {
		return nil
	}

	return rm.repo.Close()
}
