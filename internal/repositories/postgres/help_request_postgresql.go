package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
)

type HelpRequestPostgreSQL struct {
	db *gorm.DB
}

func NewHelpRequestPostgreSQL(db *gorm.DB) repositories.HelpRequestRepository {
	return &HelpRequestPostgreSQL{db: db}
}

func (h *HelpRequestPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	return pickDB(h.db, tx)
}

func (h *HelpRequestPostgreSQL) Create(ctx context.Context, tx *gorm.DB, request *models.HelpRequest) error {
	if err := h.getDB(tx).WithContext(ctx).Create(request).Error; err != nil {
		return handleDBError(err, "create help request")
	}
	return nil
}

func (h *HelpRequestPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.HelpRequestFilters) ([]*models.HelpRequest, int64, error) {
	if filters.Limit <= 0 {
		filters.Limit = 10
	}
	if filters.Limit > 100 {
		filters.Limit = 100
	}

	query := h.getDB(tx).WithContext(ctx).Model(&models.HelpRequest{})
	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, handleDBError(err, "count help requests")
	}

	var requests []*models.HelpRequest
	if err := query.Order("created_at DESC, id DESC").
		Limit(filters.Limit).
		Offset(filters.Offset).
		Find(&requests).Error; err != nil {
		return nil, 0, handleDBError(err, "list help requests")
	}
	return requests, total, nil
}
