package casdoor

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/article-service/internal/cache"
	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
)

// CasdoorConfig holds the configuration for Casdoor connection
type CasdoorConfig struct {
	Endpoint         string
	ClientID         string
	ClientSecret     string
	Certificate      string
	OrganizationName string
	ApplicationName  string
}

// UserCasdoor reads users and platform roles from a Casdoor organization.
// The directory is external, so the tx argument of every method is ignored.
type UserCasdoor struct {
	client       *casdoorsdk.Client
	cacheManager *cache.CacheManager
	config       CasdoorConfig
}

func NewUserCasdoor(config CasdoorConfig, cacheManager *cache.CacheManager) repositories.UserRepository {
	client := casdoorsdk.NewClient(
		config.Endpoint,
		config.ClientID,
		config.ClientSecret,
		config.Certificate,
		config.OrganizationName,
		config.ApplicationName,
	)

	return &UserCasdoor{
		client:       client,
		cacheManager: cacheManager,
		config:       config,
	}
}

// ===== CONVERSION METHODS =====

func (u *UserCasdoor) convertCasdoorUserToModel(casdoorUser *casdoorsdk.User) *models.User {
	if casdoorUser == nil {
		return nil
	}

	var createdAt, updatedAt time.Time
	if casdoorUser.CreatedTime != "" {
		createdAt, _ = time.Parse(time.RFC3339, casdoorUser.CreatedTime)
	}
	if casdoorUser.UpdatedTime != "" {
		updatedAt, _ = time.Parse(time.RFC3339, casdoorUser.UpdatedTime)
	}

	return &models.User{
		ID:        casdoorUser.Id,
		Username:  casdoorUser.Name,
		FullName:  casdoorUser.DisplayName,
		Email:     casdoorUser.Email,
		Roles:     convertCasdoorRoles(casdoorUser),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}

// convertCasdoorRoles maps every Casdoor role the user holds. Unlike a
// primary-role model, all matching roles are kept.
func convertCasdoorRoles(casdoorUser *casdoorsdk.User) models.RoleSet {
	var set models.RoleSet
	for _, role := range casdoorUser.Roles {
		if role == nil {
			continue
		}
		if mapped, ok := mapCasdoorRole(role.Name); ok {
			set = set.Add(mapped)
		}
	}
	if casdoorUser.IsAdmin {
		set = set.Add(models.RoleAdmin)
	}
	return set
}

func mapCasdoorRole(name string) (models.Role, bool) {
	switch strings.ToLower(name) {
	case "student":
		return models.RoleStudent, true
	case "teacher", "instructor":
		return models.RoleInstructor, true
	case "admin", "administrator":
		return models.RoleAdmin, true
	default:
		return "", false
	}
}

// casdoorRoleName is the role object a platform role is stored under
func casdoorRoleName(role models.Role) string {
	return strings.ToLower(string(role))
}

// ===== READ OPERATIONS =====

func (u *UserCasdoor) GetByID(ctx context.Context, _ *gorm.DB, id string) (*models.User, error) {
	var user models.User
	err := u.cacheManager.User.CacheOrExecute(ctx, cache.UserKey(id), &user, cache.UserCacheConfig.TTL, func() (interface{}, error) {
		casdoorUser, err := u.client.GetUserByUserId(id)
		if err != nil {
			return nil, fmt.Errorf("failed to get user from Casdoor: %w", err)
		}
		if casdoorUser == nil {
			return nil, fmt.Errorf("user %s: %w", id, repositories.ErrNotFound)
		}
		return u.convertCasdoorUserToModel(casdoorUser), nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (u *UserCasdoor) GetByUsername(ctx context.Context, _ *gorm.DB, username string) (*models.User, error) {
	casdoorUser, err := u.client.GetUser(username)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by name from Casdoor: %w", err)
	}
	if casdoorUser == nil {
		return nil, fmt.Errorf("user %s: %w", username, repositories.ErrNotFound)
	}
	return u.convertCasdoorUserToModel(casdoorUser), nil
}

// GetByIDs skips users that cannot be fetched
func (u *UserCasdoor) GetByIDs(ctx context.Context, tx *gorm.DB, ids []string) ([]*models.User, error) {
	users := make([]*models.User, 0, len(ids))
	for _, id := range ids {
		user, err := u.GetByID(ctx, tx, id)
		if err == nil && user != nil {
			users = append(users, user)
		}
	}
	return users, nil
}

func (u *UserCasdoor) List(ctx context.Context, _ *gorm.DB, filters repositories.UserFilters) ([]*models.User, int64, error) {
	if filters.Limit <= 0 {
		filters.Limit = 10
	}
	if filters.Limit > 100 {
		filters.Limit = 100
	}

	// Casdoor pages are 1-indexed
	page := (filters.Offset / filters.Limit) + 1

	queryMap := make(map[string]string)
	if filters.Query != "" {
		queryMap["field"] = "name"
		queryMap["value"] = filters.Query
	}

	casdoorUsers, count, err := u.client.GetPaginationUsers(page, filters.Limit, queryMap)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get users from Casdoor: %w", err)
	}

	users := make([]*models.User, 0, len(casdoorUsers))
	for _, casdoorUser := range casdoorUsers {
		user := u.convertCasdoorUserToModel(casdoorUser)
		if user == nil {
			continue
		}
		if filters.Role != nil && !user.HasRole(*filters.Role) {
			continue
		}
		users = append(users, user)
	}

	total := int64(count)
	if filters.Role != nil {
		total = int64(len(users))
	}
	return users, total, nil
}

// ===== CHECKS =====

func (u *UserCasdoor) ExistsByID(ctx context.Context, tx *gorm.DB, id string) (bool, error) {
	_, err := u.GetByID(ctx, tx, id)
	if repositories.IsNotFoundError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (u *UserCasdoor) HasRole(ctx context.Context, tx *gorm.DB, id string, role models.Role) (bool, error) {
	user, err := u.GetByID(ctx, tx, id)
	if err != nil {
		return false, err
	}
	return user.HasRole(role), nil
}

func (u *UserCasdoor) CountWithRole(_ context.Context, _ *gorm.DB, role models.Role) (int64, error) {
	casdoorRole, err := u.client.GetRole(casdoorRoleName(role))
	if err != nil {
		return 0, fmt.Errorf("failed to get role from Casdoor: %w", err)
	}
	if casdoorRole == nil {
		return 0, nil
	}
	return int64(len(casdoorRole.Users)), nil
}

// ===== ROLE CHANGES =====

func (u *UserCasdoor) AddRole(ctx context.Context, _ *gorm.DB, id string, role models.Role) error {
	return u.updateRoleUsers(ctx, id, role, func(users []string, member string) []string {
		if slices.Contains(users, member) {
			return users
		}
		return append(users, member)
	})
}

func (u *UserCasdoor) RemoveRole(ctx context.Context, _ *gorm.DB, id string, role models.Role) error {
	return u.updateRoleUsers(ctx, id, role, func(users []string, member string) []string {
		return slices.DeleteFunc(users, func(s string) bool { return s == member })
	})
}

// updateRoleUsers rewrites the user list of a Casdoor role. Casdoor refers
// to role members as "owner/name".
func (u *UserCasdoor) updateRoleUsers(ctx context.Context, id string, role models.Role, edit func(users []string, member string) []string) error {
	casdoorUser, err := u.client.GetUserByUserId(id)
	if err != nil {
		return fmt.Errorf("failed to get user from Casdoor: %w", err)
	}
	if casdoorUser == nil {
		return fmt.Errorf("user %s: %w", id, repositories.ErrNotFound)
	}

	casdoorRole, err := u.client.GetRole(casdoorRoleName(role))
	if err != nil {
		return fmt.Errorf("failed to get role from Casdoor: %w", err)
	}
	if casdoorRole == nil {
		return fmt.Errorf("role %s: %w", role, repositories.ErrNotFound)
	}

	member := casdoorUser.Owner + "/" + casdoorUser.Name
	casdoorRole.Users = edit(casdoorRole.Users, member)
	if _, err := u.client.UpdateRole(casdoorRole); err != nil {
		return fmt.Errorf("failed to update role in Casdoor: %w", err)
	}

	cache.SafeDelete(ctx, u.cacheManager.User, cache.UserKey(id))
	return nil
}
