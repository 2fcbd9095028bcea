package postgres

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/article-service/internal/cache"
	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
)

// UserPostgreSQL is the database backed identity directory. Users live in
// the users table and their platform roles in user_roles.
type UserPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewUserPostgreSQL(db *gorm.DB, cacheManager *cache.CacheManager) repositories.UserRepository {
	return &UserPostgreSQL{db: db, cacheManager: cacheManager}
}

func (u *UserPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	return pickDB(u.db, tx)
}

// ===== READ OPERATIONS =====

func (u *UserPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.User, error) {
	if tx != nil {
		return u.fetchByID(ctx, tx, id)
	}

	var user models.User
	err := u.cacheManager.User.CacheOrExecute(ctx, cache.UserKey(id), &user, cache.UserCacheConfig.TTL, func() (interface{}, error) {
		return u.fetchByID(ctx, nil, id)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (u *UserPostgreSQL) fetchByID(ctx context.Context, tx *gorm.DB, id string) (*models.User, error) {
	var user models.User
	if err := u.getDB(tx).WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, handleDBError(err, "get user by id")
	}
	if err := u.loadRoles(ctx, tx, []*models.User{&user}); err != nil {
		return nil, err
	}
	return &user, nil
}

func (u *UserPostgreSQL) GetByUsername(ctx context.Context, tx *gorm.DB, username string) (*models.User, error) {
	var user models.User
	if err := u.getDB(tx).WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, handleDBError(err, "get user by username")
	}
	if err := u.loadRoles(ctx, tx, []*models.User{&user}); err != nil {
		return nil, err
	}
	return &user, nil
}

func (u *UserPostgreSQL) GetByIDs(ctx context.Context, tx *gorm.DB, ids []string) ([]*models.User, error) {
	if len(ids) == 0 {
		return []*models.User{}, nil
	}

	var users []*models.User
	if err := u.getDB(tx).WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&users).Error; err != nil {
		return nil, handleDBError(err, "get users by ids")
	}
	if err := u.loadRoles(ctx, tx, users); err != nil {
		return nil, err
	}
	return users, nil
}

func (u *UserPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.UserFilters) ([]*models.User, int64, error) {
	if filters.Limit <= 0 {
		filters.Limit = 10
	}
	if filters.Limit > 100 {
		filters.Limit = 100
	}

	db := u.getDB(tx).WithContext(ctx)
	query := db.Model(&models.User{})
	if filters.Query != "" {
		like := "%" + filters.Query + "%"
		query = query.Where("username LIKE ? OR full_name LIKE ?", like, like)
	}
	if filters.Role != nil {
		withRole := db.Session(&gorm.Session{NewDB: true}).
			Model(&models.UserRoleAssignment{}).
			Select("user_id").
			Where("role = ?", string(*filters.Role))
		query = query.Where("id IN (?)", withRole)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, handleDBError(err, "count users")
	}

	var users []*models.User
	if err := query.Order("username").Limit(filters.Limit).Offset(filters.Offset).Find(&users).Error; err != nil {
		return nil, 0, handleDBError(err, "list users")
	}
	if err := u.loadRoles(ctx, tx, users); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// loadRoles fills the role set of every user in one query
func (u *UserPostgreSQL) loadRoles(ctx context.Context, tx *gorm.DB, users []*models.User) error {
	if len(users) == 0 {
		return nil
	}
	byID := make(map[string]*models.User, len(users))
	ids := make([]string, 0, len(users))
	for _, user := range users {
		byID[user.ID] = user
		ids = append(ids, user.ID)
	}

	var rows []models.UserRoleAssignment
	if err := u.getDB(tx).WithContext(ctx).Where("user_id IN ?", ids).Find(&rows).Error; err != nil {
		return handleDBError(err, "load user roles")
	}
	for _, row := range rows {
		if user, ok := byID[row.UserID]; ok {
			user.Roles = user.Roles.Add(row.Role)
		}
	}
	return nil
}

// ===== CHECKS =====

func (u *UserPostgreSQL) ExistsByID(ctx context.Context, tx *gorm.DB, id string) (bool, error) {
	var count int64
	if err := u.getDB(tx).WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, handleDBError(err, "check user exists")
	}
	return count > 0, nil
}

func (u *UserPostgreSQL) HasRole(ctx context.Context, tx *gorm.DB, id string, role models.Role) (bool, error) {
	var count int64
	if err := u.getDB(tx).WithContext(ctx).
		Model(&models.UserRoleAssignment{}).
		Where("user_id = ? AND role = ?", id, string(role)).
		Count(&count).Error; err != nil {
		return false, handleDBError(err, "check user role")
	}
	return count > 0, nil
}

func (u *UserPostgreSQL) CountWithRole(ctx context.Context, tx *gorm.DB, role models.Role) (int64, error) {
	db := u.getDB(tx).WithContext(ctx)
	if tx != nil && isPostgres(db) {
		// Lock the holders so two concurrent removals cannot both see a spare admin
		var holders []models.UserRoleAssignment
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("role = ?", string(role)).
			Find(&holders).Error; err != nil {
			return 0, handleDBError(err, "lock role holders")
		}
		return int64(len(holders)), nil
	}

	var count int64
	if err := db.Model(&models.UserRoleAssignment{}).Where("role = ?", string(role)).Count(&count).Error; err != nil {
		return 0, handleDBError(err, "count users with role")
	}
	return count, nil
}

// ===== ROLE CHANGES =====

func (u *UserPostgreSQL) AddRole(ctx context.Context, tx *gorm.DB, id string, role models.Role) error {
	exists, err := u.ExistsByID(ctx, tx, id)
	if err != nil {
		return err
	}
	if !exists {
		return handleDBError(gorm.ErrRecordNotFound, "add role")
	}

	if err := u.getDB(tx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.UserRoleAssignment{UserID: id, Role: role}).Error; err != nil {
		return handleDBError(err, "add role")
	}
	cache.SafeDelete(ctx, u.cacheManager.User, cache.UserKey(id))
	return nil
}

func (u *UserPostgreSQL) RemoveRole(ctx context.Context, tx *gorm.DB, id string, role models.Role) error {
	result := u.getDB(tx).WithContext(ctx).
		Where("user_id = ? AND role = ?", id, string(role)).
		Delete(&models.UserRoleAssignment{})
	if result.Error != nil {
		return handleDBError(result.Error, "remove role")
	}
	if result.RowsAffected == 0 {
		return handleDBError(gorm.ErrRecordNotFound, "remove role")
	}
	cache.SafeDelete(ctx, u.cacheManager.User, cache.UserKey(id))
	return nil
}
