package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
)

type InvitationPostgreSQL struct {
	db *gorm.DB
}

func NewInvitationPostgreSQL(db *gorm.DB) repositories.InvitationRepository {
	return &InvitationPostgreSQL{db: db}
}

func (i *InvitationPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	return pickDB(i.db, tx)
}

func (i *InvitationPostgreSQL) Create(ctx context.Context, tx *gorm.DB, code *models.InvitationCode) error {
	if err := i.getDB(tx).WithContext(ctx).Create(code).Error; err != nil {
		return handleDBError(err, "create invitation code")
	}
	return nil
}

func (i *InvitationPostgreSQL) GetByCode(ctx context.Context, tx *gorm.DB, code string) (*models.InvitationCode, error) {
	var invitation models.InvitationCode
	if err := i.getDB(tx).WithContext(ctx).Where("code = ?", code).First(&invitation).Error; err != nil {
		return nil, handleDBError(err, "get invitation code")
	}
	return &invitation, nil
}

// MarkUsed is a conditional update, so two concurrent redemptions of the
// same code cannot both succeed.
func (i *InvitationPostgreSQL) MarkUsed(ctx context.Context, tx *gorm.DB, code string, userID string) (bool, error) {
	now := time.Now().UTC()
	result := i.getDB(tx).WithContext(ctx).
		Model(&models.InvitationCode{}).
		Where("code = ? AND used = ?", code, false).
		Updates(map[string]interface{}{
			"used":    true,
			"used_by": userID,
			"used_at": now,
		})
	if result.Error != nil {
		return false, handleDBError(result.Error, "mark invitation used")
	}
	return result.RowsAffected == 1, nil
}
