package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/SAP-F-2025/article-service/internal/crypto"
	"github.com/SAP-F-2025/article-service/internal/events"
	"github.com/SAP-F-2025/article-service/internal/repositories"
	"github.com/SAP-F-2025/article-service/internal/validator"
)

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	// BackupMaxBytes caps the size of a backup blob accepted by restore
	BackupMaxBytes int64
}

// ServiceManager owns every service and their shared collaborators
type ServiceManager interface {
	Access() AccessControlService
	Membership() MembershipService
	Group() GroupService
	Article() ArticleService
	Backup() BackupService
	UserRole() UserRoleService
	HelpRequest() HelpRequestService
	ImportExport() ImportExportService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// serviceManager implements ServiceManager interface
type serviceManager struct {
	// Dependencies
	repo      repositories.Repository
	keys      crypto.KeyProvider
	publisher events.EventPublisher
	logger    *slog.Logger
	validator *validator.Validator
	config    ServiceManagerConfig

	locks *LockManager

	// Service instances
	accessService       AccessControlService
	membershipService   MembershipService
	groupService        GroupService
	articleService      ArticleService
	backupService       BackupService
	userRoleService     UserRoleService
	helpRequestService  HelpRequestService
	importExportService ImportExportService

	// Lifecycle management
	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(repo repositories.Repository, keys crypto.KeyProvider, publisher events.EventPublisher, logger *slog.Logger, validator *validator.Validator, config ServiceManagerConfig) ServiceManager {
	return &serviceManager{
		repo:      repo,
		keys:      keys,
		publisher: publisher,
		logger:    logger,
		validator: validator,
		config:    config,
	}
}

// Initialize sets up all services and their dependencies
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger.Info("Initializing service manager")

	if err := sm.initializeServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	sm.initialized = true
	sm.logger.Info("Service manager initialized successfully")

	return nil
}

func (sm *serviceManager) initializeServices() error {
	if sm.keys == nil {
		return fmt.Errorf("an encryption key provider is required")
	}
	// The key must be usable before anything is encrypted with it
	if _, err := crypto.KeyFingerprint(sm.keys); err != nil {
		return fmt.Errorf("encryption key unusable: %w", err)
	}

	sm.locks = NewLockManager()
	codec := crypto.NewCodec(sm.keys)

	sm.accessService = NewAccessControlService(sm.repo, sm.logger)
	sm.membershipService = NewMembershipService(sm.repo, sm.accessService, sm.locks, sm.publisher, sm.logger, sm.validator)
	sm.groupService = NewGroupService(sm.repo, sm.accessService, sm.locks, sm.publisher, sm.logger, sm.validator)
	sm.articleService = NewArticleService(sm.repo, codec, sm.accessService, sm.locks, sm.publisher, sm.logger, sm.validator)

	backupService, err := NewBackupService(sm.repo, sm.keys, sm.accessService, sm.locks, sm.publisher, sm.logger, sm.config.BackupMaxBytes)
	if err != nil {
		return err
	}
	sm.backupService = backupService

	sm.userRoleService = NewUserRoleService(sm.repo, sm.accessService, sm.locks, sm.publisher, sm.logger)
	sm.helpRequestService = NewHelpRequestService(sm.repo, sm.logger, sm.validator)
	sm.importExportService = NewImportExportService(sm.articleService, sm.logger)

	sm.logger.Info("Services initialized")
	return nil
}

// Service getters

func (sm *serviceManager) Access() AccessControlService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.accessService
}

func (sm *serviceManager) Membership() MembershipService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.membershipService
}

func (sm *serviceManager) Group() GroupService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.groupService
}

func (sm *serviceManager) Article() ArticleService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.articleService
}

func (sm *serviceManager) Backup() BackupService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.backupService
}

func (sm *serviceManager) UserRole() UserRoleService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.userRoleService
}

func (sm *serviceManager) HelpRequest() HelpRequestService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.helpRequestService
}

func (sm *serviceManager) ImportExport() ImportExportService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.mustBeInitialized()
	return sm.importExportService
}

func (sm *serviceManager) mustBeInitialized() {
	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.shutdown {
		panic("service manager is shut down")
	}
}

// Health and lifecycle
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}

	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	if err := sm.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}
	if _, err := crypto.KeyFingerprint(sm.keys); err != nil {
		return fmt.Errorf("encryption key unusable: %w", err)
	}

	return nil
}

// Shutdown closes the event publisher. The repository is owned and closed
// by whoever created it.
func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	if sm.publisher != nil {
		if err := sm.publisher.Close(); err != nil {
			sm.logger.Error("Failed to close event publisher", "error", err)
		}
	}

	sm.shutdown = true
	sm.logger.Info("Service manager shut down completed")

	return nil
}
