package repositories

import (
	"context"

	"gorm.io/gorm"
)

// Repository aggregates every repository the knowledge base needs
type Repository interface {
	// Article domain
	Article() ArticleRepository

	// Groups and their membership
	Group() GroupRepository
	Membership() MembershipRepository

	// Identity directory (read mostly)
	User() UserRepository
	Invitation() InvitationRepository

	HelpRequest() HelpRequestRepository

	// WithTransaction runs fn in a single database transaction. Every
	// repository call made inside fn must pass the tx it receives.
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager interface for managing repository lifecycle
type RepositoryManager interface {
	// Initialize runs migrations and checks connectivity
	Initialize() error

	GetRepository() Repository

	HealthCheck(ctx context.Context) error

	Shutdown(ctx context.Context) error
}
