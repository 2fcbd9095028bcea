package repositories

import (
	"context"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/article-service/internal/models"
)

// UserFilters defines filters for user queries
type UserFilters struct {
	Query  string // Search query for name or username
	Role   *models.Role
	Limit  int
	Offset int
}

// UserRepository is the identity directory. Implementations backed by an
// external directory ignore tx.
type UserRepository interface {
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.User, error)
	GetByUsername(ctx context.Context, tx *gorm.DB, username string) (*models.User, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []string) ([]*models.User, error)
	List(ctx context.Context, tx *gorm.DB, filters UserFilters) ([]*models.User, int64, error)

	ExistsByID(ctx context.Context, tx *gorm.DB, id string) (bool, error)
	HasRole(ctx context.Context, tx *gorm.DB, id string, role models.Role) (bool, error)
	CountWithRole(ctx context.Context, tx *gorm.DB, role models.Role) (int64, error)

	// Platform role changes
	AddRole(ctx context.Context, tx *gorm.DB, id string, role models.Role) error
	RemoveRole(ctx context.Context, tx *gorm.DB, id string, role models.Role) error
}
