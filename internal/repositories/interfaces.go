package repositories

import (
	"context"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/article-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type HelpRequestFilters struct {
	UserID *string `json:"user_id"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// ===== ARTICLE REPOSITORY =====

// ArticleRepository stores encrypted article rows and their group links.
// It never sees plaintext.
type ArticleRepository interface {
	Create(ctx context.Context, tx *gorm.DB, article *models.EncryptedArticle) error
	Update(ctx context.Context, tx *gorm.DB, article *models.EncryptedArticle) error
	// Delete removes the row and every link that references it
	Delete(ctx context.Context, tx *gorm.DB, id models.ArticleID) error
	GetByID(ctx context.Context, tx *gorm.DB, id models.ArticleID) (*models.EncryptedArticle, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []models.ArticleID) ([]*models.EncryptedArticle, error)
	Exists(ctx context.Context, tx *gorm.DB, id models.ArticleID) (bool, error)
	List(ctx context.Context, tx *gorm.DB) ([]*models.EncryptedArticle, error)
	DeleteAll(ctx context.Context, tx *gorm.DB) error

	// Links
	ReplaceLinks(ctx context.Context, tx *gorm.DB, id models.ArticleID, groups []models.GroupID) error
	GroupsForArticle(ctx context.Context, tx *gorm.DB, id models.ArticleID) ([]models.GroupID, error)
	GroupsForArticles(ctx context.Context, tx *gorm.DB, ids []models.ArticleID) (map[models.ArticleID][]models.GroupID, error)
	ArticleIDsForGroups(ctx context.Context, tx *gorm.DB, groups []models.GroupID) ([]models.ArticleID, error)
	// ExclusiveArticles lists articles whose only link is to groupID
	ExclusiveArticles(ctx context.Context, tx *gorm.DB, groupID models.GroupID) ([]models.ArticleID, error)
	// LinksForGroups returns links of the given groups, or every link when groups is empty
	LinksForGroups(ctx context.Context, tx *gorm.DB, groups []models.GroupID) ([]models.GroupArticleLink, error)
	InsertLink(ctx context.Context, tx *gorm.DB, link *models.GroupArticleLink) error
	DeleteLink(ctx context.Context, tx *gorm.DB, groupID models.GroupID, id models.ArticleID) error
	DeleteLinksByGroup(ctx context.Context, tx *gorm.DB, groupID models.GroupID) error
	DeleteAllLinks(ctx context.Context, tx *gorm.DB) error
}

// ===== GROUP REPOSITORIES =====

type GroupRepository interface {
	Create(ctx context.Context, tx *gorm.DB, group *models.ArticleGroup) error
	Update(ctx context.Context, tx *gorm.DB, group *models.ArticleGroup) error
	Delete(ctx context.Context, tx *gorm.DB, id models.GroupID) error
	GetByID(ctx context.Context, tx *gorm.DB, id models.GroupID) (*models.ArticleGroup, error)
	Exists(ctx context.Context, tx *gorm.DB, id models.GroupID) (bool, error)
	// List returns the given groups, or every group when ids is empty
	List(ctx context.Context, tx *gorm.DB, ids []models.GroupID) ([]*models.ArticleGroup, error)
	DeleteAll(ctx context.Context, tx *gorm.DB) error
	// SyncIDSequence moves the id sequence past restored explicit ids
	SyncIDSequence(ctx context.Context, tx *gorm.DB) error
}

// MembershipRepository is the plain CRUD surface over group membership.
// Policy such as last-admin protection lives in the services layer.
type MembershipRepository interface {
	Add(ctx context.Context, tx *gorm.DB, membership *models.GroupMembership) error
	Remove(ctx context.Context, tx *gorm.DB, groupID models.GroupID, userID string) error
	SetAdmin(ctx context.Context, tx *gorm.DB, groupID models.GroupID, userID string, isAdmin bool) error
	Get(ctx context.Context, tx *gorm.DB, groupID models.GroupID, userID string) (*models.GroupMembership, error)
	ListByGroup(ctx context.Context, tx *gorm.DB, groupID models.GroupID) ([]models.GroupMembership, error)
	// ListByGroups returns memberships of the given groups, or all when groups is empty
	ListByGroups(ctx context.Context, tx *gorm.DB, groups []models.GroupID) ([]models.GroupMembership, error)
	GroupsForUser(ctx context.Context, tx *gorm.DB, userID string) ([]models.GroupID, error)
	DeleteByGroup(ctx context.Context, tx *gorm.DB, groupID models.GroupID) error
	DeleteAll(ctx context.Context, tx *gorm.DB) error
}

// ===== SUPPORTING REPOSITORIES =====

type InvitationRepository interface {
	Create(ctx context.Context, tx *gorm.DB, code *models.InvitationCode) error
	GetByCode(ctx context.Context, tx *gorm.DB, code string) (*models.InvitationCode, error)
	// MarkUsed flips the used flag only if it is still unset and reports
	// whether this call did it
	MarkUsed(ctx context.Context, tx *gorm.DB, code string, userID string) (bool, error)
}

type HelpRequestRepository interface {
	Create(ctx context.Context, tx *gorm.DB, request *models.HelpRequest) error
	List(ctx context.Context, tx *gorm.DB, filters HelpRequestFilters) ([]*models.HelpRequest, int64, error)
}
