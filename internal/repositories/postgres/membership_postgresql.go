package postgres

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/article-service/internal/cache"
	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
)

// MembershipPostgreSQL implements the MembershipRepository interface
type MembershipPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewMembershipPostgreSQL(db *gorm.DB, cacheManager *cache.CacheManager) repositories.MembershipRepository {
	return &MembershipPostgreSQL{db: db, cacheManager: cacheManager}
}

func (m *MembershipPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	return pickDB(m.db, tx)
}

// Add inserts a membership. The group must exist.
func (m *MembershipPostgreSQL) Add(ctx context.Context, tx *gorm.DB, membership *models.GroupMembership) error {
	db := m.getDB(tx).WithContext(ctx)

	var count int64
	if err := db.Model(&models.ArticleGroup{}).Where("id = ?", int64(membership.GroupID)).Count(&count).Error; err != nil {
		return handleDBError(err, "check group exists")
	}
	if count == 0 {
		return handleDBError(gorm.ErrRecordNotFound, "add member")
	}

	if err := db.Create(membership).Error; err != nil {
		return handleDBError(err, "add member")
	}
	cache.InvalidateMembershipCache(ctx, m.cacheManager, membership.GroupID, membership.UserID)
	return nil
}

func (m *MembershipPostgreSQL) Remove(ctx context.Context, tx *gorm.DB, groupID models.GroupID, userID string) error {
	result := m.getDB(tx).WithContext(ctx).
		Where("group_id = ? AND user_id = ?", int64(groupID), userID).
		Delete(&models.GroupMembership{})
	if result.Error != nil {
		return handleDBError(result.Error, "remove member")
	}
	if result.RowsAffected == 0 {
		return handleDBError(gorm.ErrRecordNotFound, "remove member")
	}
	cache.InvalidateMembershipCache(ctx, m.cacheManager, groupID, userID)
	return nil
}

func (m *MembershipPostgreSQL) SetAdmin(ctx context.Context, tx *gorm.DB, groupID models.GroupID, userID string, isAdmin bool) error {
	result := m.getDB(tx).WithContext(ctx).
		Model(&models.GroupMembership{}).
		Where("group_id = ? AND user_id = ?", int64(groupID), userID).
		Update("is_admin", isAdmin)
	if result.Error != nil {
		return handleDBError(result.Error, "set group admin")
	}
	if result.RowsAffected == 0 {
		return handleDBError(gorm.ErrRecordNotFound, "set group admin")
	}
	cache.InvalidateMembershipCache(ctx, m.cacheManager, groupID, userID)
	return nil
}

func (m *MembershipPostgreSQL) Get(ctx context.Context, tx *gorm.DB, groupID models.GroupID, userID string) (*models.GroupMembership, error) {
	var membership models.GroupMembership
	if err := m.getDB(tx).WithContext(ctx).
		Where("group_id = ? AND user_id = ?", int64(groupID), userID).
		First(&membership).Error; err != nil {
		return nil, handleDBError(err, "get membership")
	}
	return &membership, nil
}

func (m *MembershipPostgreSQL) ListByGroup(ctx context.Context, tx *gorm.DB, groupID models.GroupID) ([]models.GroupMembership, error) {
	if tx != nil {
		return m.listByGroup(ctx, tx, groupID)
	}

	var members []models.GroupMembership
	err := m.cacheManager.Membership.CacheOrExecute(ctx, cache.GroupMembersKey(groupID), &members, cache.MembershipCacheConfig.TTL, func() (interface{}, error) {
		return m.listByGroup(ctx, nil, groupID)
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (m *MembershipPostgreSQL) listByGroup(ctx context.Context, tx *gorm.DB, groupID models.GroupID) ([]models.GroupMembership, error) {
	db := m.getDB(tx).WithContext(ctx)
	if tx != nil && isPostgres(db) {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	members := []models.GroupMembership{}
	if err := db.Where("group_id = ?", int64(groupID)).Order("user_id").Find(&members).Error; err != nil {
		return nil, handleDBError(err, "list group members")
	}
	return members, nil
}

func (m *MembershipPostgreSQL) ListByGroups(ctx context.Context, tx *gorm.DB, groups []models.GroupID) ([]models.GroupMembership, error) {
	query := m.getDB(tx).WithContext(ctx).Model(&models.GroupMembership{})
	if len(groups) > 0 {
		query = query.Where("group_id IN ?", groupIDsToInt64(groups))
	}

	members := []models.GroupMembership{}
	if err := query.Order("group_id, user_id").Find(&members).Error; err != nil {
		return nil, handleDBError(err, "list memberships")
	}
	return members, nil
}

func (m *MembershipPostgreSQL) GroupsForUser(ctx context.Context, tx *gorm.DB, userID string) ([]models.GroupID, error) {
	fetch := func() (interface{}, error) {
		groups := []models.GroupID{}
		if err := m.getDB(tx).WithContext(ctx).
			Model(&models.GroupMembership{}).
			Where("user_id = ?", userID).
			Order("group_id").
			Pluck("group_id", &groups).Error; err != nil {
			return nil, handleDBError(err, "get groups for user")
		}
		return groups, nil
	}

	if tx != nil {
		v, err := fetch()
		if err != nil {
			return nil, err
		}
		return v.([]models.GroupID), nil
	}

	var groups []models.GroupID
	if err := m.cacheManager.Membership.CacheOrExecute(ctx, cache.UserGroupsKey(userID), &groups, cache.MembershipCacheConfig.TTL, fetch); err != nil {
		return nil, err
	}
	return groups, nil
}

func (m *MembershipPostgreSQL) DeleteByGroup(ctx context.Context, tx *gorm.DB, groupID models.GroupID) error {
	if err := m.getDB(tx).WithContext(ctx).
		Where("group_id = ?", int64(groupID)).
		Delete(&models.GroupMembership{}).Error; err != nil {
		return handleDBError(err, "delete group members")
	}
	cache.InvalidateGroupCache(ctx, m.cacheManager, groupID)
	return nil
}

func (m *MembershipPostgreSQL) DeleteAll(ctx context.Context, tx *gorm.DB) error {
	if err := m.getDB(tx).WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.GroupMembership{}).Error; err != nil {
		return handleDBError(err, "delete all memberships")
	}
	cache.InvalidateAll(ctx, m.cacheManager)
	return nil
}
