package services

import (
	"context"
	"io"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
)

// ===== REQUEST/RESPONSE DTOs =====

type CreateArticleRequest = models.ArticleCreateRequest
type UpdateArticleRequest = models.ArticleUpdateRequest
type CreateGroupRequest = models.GroupCreateRequest
type UpdateGroupRequest = models.GroupUpdateRequest

// ArticlePermissions is what a user may do with one article
type ArticlePermissions struct {
	CanView   bool `json:"can_view"`
	CanEdit   bool `json:"can_edit"`
	CanDelete bool `json:"can_delete"`
}

type HelpRequestListResponse struct {
	Requests []*models.HelpRequest `json:"requests"`
	Total    int64                 `json:"total"`
}

type UserListResponse struct {
	Users []*models.User `json:"users"`
	Total int64          `json:"total"`
}

// ===== SERVICE INTERFACES =====

// AccessControlService holds the read-only authorization and invariant
// checks. Every check takes an optional tx so a mutation can re-run it
// inside its own transaction.
type AccessControlService interface {
	CanView(ctx context.Context, tx *gorm.DB, user *models.User, articleID models.ArticleID) (bool, error)
	CanEditOrDelete(ctx context.Context, tx *gorm.DB, user *models.User, articleID models.ArticleID) (ArticlePermissions, error)
	CanManageGroup(ctx context.Context, tx *gorm.DB, user *models.User, groupID models.GroupID) (bool, error)

	CanRemoveAdminFlag(ctx context.Context, tx *gorm.DB, groupID models.GroupID, userID string) error
	CanRemoveMember(ctx context.Context, tx *gorm.DB, groupID models.GroupID, userID string) error
	CanDeleteGroup(ctx context.Context, tx *gorm.DB, groupID models.GroupID) error
	CanDetachArticleFromGroup(ctx context.Context, tx *gorm.DB, articleID models.ArticleID, groupID models.GroupID) error
	CanRemovePlatformAdmin(ctx context.Context, tx *gorm.DB, userID string) error

	// Visibility returns a snapshot for filtering many articles at once
	Visibility(ctx context.Context, tx *gorm.DB, user *models.User) (*Visibility, error)
}

type MembershipService interface {
	AddMember(ctx context.Context, actor *models.User, groupID models.GroupID, userID string, isAdmin bool) error
	RemoveMember(ctx context.Context, actor *models.User, groupID models.GroupID, userID string) error
	SetAdmin(ctx context.Context, actor *models.User, groupID models.GroupID, userID string, isAdmin bool) error
	Members(ctx context.Context, groupID models.GroupID) ([]models.GroupMembership, error)
	GroupsFor(ctx context.Context, userID string) ([]models.GroupID, error)
}

type GroupService interface {
	CreateGroup(ctx context.Context, actor *models.User, req *CreateGroupRequest) (*models.GroupDetails, error)
	UpdateGroup(ctx context.Context, actor *models.User, id models.GroupID, req *UpdateGroupRequest) (*models.ArticleGroup, error)
	DeleteGroup(ctx context.Context, actor *models.User, id models.GroupID) error
	GetGroup(ctx context.Context, id models.GroupID) (*models.GroupDetails, error)
	ListGroups(ctx context.Context) ([]*models.GroupDetails, error)
}

type ArticleService interface {
	Create(ctx context.Context, actor *models.User, req *CreateArticleRequest) (*models.HelpArticle, error)
	Update(ctx context.Context, actor *models.User, id models.ArticleID, req *UpdateArticleRequest) (*models.HelpArticle, error)
	Delete(ctx context.Context, actor *models.User, id models.ArticleID) error
	Get(ctx context.Context, actor *models.User, id models.ArticleID) (*models.HelpArticle, error)
	ListVisibleTo(ctx context.Context, actor *models.User) ([]*models.HelpArticle, error)
	ListByGroups(ctx context.Context, actor *models.User, groupIDs []models.GroupID) ([]*models.HelpArticle, error)
	Search(ctx context.Context, actor *models.User, filters models.ArticleFilters) ([]*models.HelpArticle, error)
	AttachToGroup(ctx context.Context, actor *models.User, articleID models.ArticleID, groupID models.GroupID) error
	DetachFromGroup(ctx context.Context, actor *models.User, articleID models.ArticleID, groupID models.GroupID) error
}

type BackupService interface {
	Backup(ctx context.Context, actor *models.User, groupFilter []models.GroupID) ([]byte, error)
	Restore(ctx context.Context, actor *models.User, blob []byte, mode models.RestoreMode) (*models.RestoreReport, error)
	BackupToFile(ctx context.Context, actor *models.User, groupFilter []models.GroupID, path string) error
	RestoreFromFile(ctx context.Context, actor *models.User, path string, mode models.RestoreMode) (*models.RestoreReport, error)
	// Inspect decodes and validates a blob without touching the store
	Inspect(blob []byte) (*models.BackupEnvelope, *models.BackupData, error)
	InspectFile(path string) (*models.BackupEnvelope, *models.BackupData, error)
}

type UserRoleService interface {
	RemoveRole(ctx context.Context, actor *models.User, userID string, role models.Role) error
	RedeemInvitation(ctx context.Context, userID string, code string) (models.RoleSet, error)
	// CurrentUser loads the user and their role set from the identity
	// directory, by id or by username
	CurrentUser(ctx context.Context, ref string) (*models.User, error)
	ListUsers(ctx context.Context, actor *models.User, filters repositories.UserFilters) (*UserListResponse, error)
}

type HelpRequestService interface {
	SendHelpRequest(ctx context.Context, actor *models.User, req *models.HelpRequestCreateRequest) (*models.HelpRequest, error)
	ListHelpRequests(ctx context.Context, actor *models.User, filters repositories.HelpRequestFilters) (*HelpRequestListResponse, error)
}

type ImportExportService interface {
	ExportCatalog(ctx context.Context, actor *models.User, w io.Writer) error
}
