package postgres

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/article-service/internal/cache"
	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
)

// GroupPostgreSQL implements the GroupRepository interface. Reads outside a
// transaction go through the group cache.
type GroupPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewGroupPostgreSQL(db *gorm.DB, cacheManager *cache.CacheManager) repositories.GroupRepository {
	return &GroupPostgreSQL{db: db, cacheManager: cacheManager}
}

func (g *GroupPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	return pickDB(g.db, tx)
}

func (g *GroupPostgreSQL) Create(ctx context.Context, tx *gorm.DB, group *models.ArticleGroup) error {
	if err := g.getDB(tx).WithContext(ctx).Create(group).Error; err != nil {
		return handleDBError(err, "create group")
	}
	cache.InvalidateGroupCache(ctx, g.cacheManager, group.ID)
	return nil
}

func (g *GroupPostgreSQL) Update(ctx context.Context, tx *gorm.DB, group *models.ArticleGroup) error {
	result := g.getDB(tx).WithContext(ctx).
		Model(&models.ArticleGroup{}).
		Where("id = ?", int64(group.ID)).
		Select("name", "is_protected").
		Updates(group)
	if result.Error != nil {
		return handleDBError(result.Error, "update group")
	}
	if result.RowsAffected == 0 {
		return handleDBError(gorm.ErrRecordNotFound, "update group")
	}
	cache.InvalidateGroupCache(ctx, g.cacheManager, group.ID)
	return nil
}

func (g *GroupPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id models.GroupID) error {
	result := g.getDB(tx).WithContext(ctx).Delete(&models.ArticleGroup{}, int64(id))
	if result.Error != nil {
		return handleDBError(result.Error, "delete group")
	}
	if result.RowsAffected == 0 {
		return handleDBError(gorm.ErrRecordNotFound, "delete group")
	}
	cache.InvalidateGroupCache(ctx, g.cacheManager, id)
	return nil
}

func (g *GroupPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id models.GroupID) (*models.ArticleGroup, error) {
	if tx != nil {
		return g.fetch(ctx, tx, id)
	}

	var group models.ArticleGroup
	err := g.cacheManager.Group.CacheOrExecute(ctx, cache.GroupKey(id), &group, cache.GroupCacheConfig.TTL, func() (interface{}, error) {
		return g.fetch(ctx, nil, id)
	})
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// fetch reads the group row. Inside a postgres transaction the row is
// locked so group checks and the mutation they guard see the same state.
func (g *GroupPostgreSQL) fetch(ctx context.Context, tx *gorm.DB, id models.GroupID) (*models.ArticleGroup, error) {
	db := g.getDB(tx).WithContext(ctx)
	if tx != nil && isPostgres(db) {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var group models.ArticleGroup
	if err := db.First(&group, int64(id)).Error; err != nil {
		return nil, handleDBError(err, "get group by id")
	}
	return &group, nil
}

func (g *GroupPostgreSQL) Exists(ctx context.Context, tx *gorm.DB, id models.GroupID) (bool, error) {
	var count int64
	if err := g.getDB(tx).WithContext(ctx).
		Model(&models.ArticleGroup{}).
		Where("id = ?", int64(id)).
		Count(&count).Error; err != nil {
		return false, handleDBError(err, "check group exists")
	}
	return count > 0, nil
}

func (g *GroupPostgreSQL) List(ctx context.Context, tx *gorm.DB, ids []models.GroupID) ([]*models.ArticleGroup, error) {
	query := g.getDB(tx).WithContext(ctx).Model(&models.ArticleGroup{})
	if len(ids) > 0 {
		query = query.Where("id IN ?", groupIDsToInt64(ids))
	}

	var groups []*models.ArticleGroup
	if err := query.Order("id").Find(&groups).Error; err != nil {
		return nil, handleDBError(err, "list groups")
	}
	return groups, nil
}

func (g *GroupPostgreSQL) DeleteAll(ctx context.Context, tx *gorm.DB) error {
	if err := g.getDB(tx).WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.ArticleGroup{}).Error; err != nil {
		return handleDBError(err, "delete all groups")
	}
	cache.InvalidateAll(ctx, g.cacheManager)
	return nil
}

// SyncIDSequence is needed on postgres after rows were inserted with
// explicit ids. SQLite derives the next rowid from the table itself.
func (g *GroupPostgreSQL) SyncIDSequence(ctx context.Context, tx *gorm.DB) error {
	db := g.getDB(tx).WithContext(ctx)
	if !isPostgres(db) {
		return nil
	}
	err := db.Exec(`SELECT setval(pg_get_serial_sequence('article_groups', 'id'), COALESCE((SELECT MAX(id) FROM article_groups), 0) + 1, false)`).Error
	return handleDBError(err, "sync group id sequence")
}
