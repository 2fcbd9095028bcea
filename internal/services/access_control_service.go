package services

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
)

type accessControlService struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewAccessControlService(repo repositories.Repository, logger *slog.Logger) AccessControlService {
	return &accessControlService{
		repo:   repo,
		logger: logger,
	}
}

// Visibility is the group and membership state one user's read access
// depends on.
type Visibility struct {
	groups   map[models.GroupID]*models.ArticleGroup
	memberOf map[models.GroupID]bool
}

// Visible reports whether an article linked to articleGroups can be seen.
// An article with no groups is visible to nobody.
func (v *Visibility) Visible(articleGroups []models.GroupID) bool {
	for _, id := range articleGroups {
		g, ok := v.groups[id]
		if !ok {
			continue
		}
		if !g.Protected || v.memberOf[id] {
			return true
		}
	}
	return false
}

func (v *Visibility) IsMember(id models.GroupID) bool {
	return v.memberOf[id]
}

func (s *accessControlService) Visibility(ctx context.Context, tx *gorm.DB, user *models.User) (*Visibility, error) {
	groups, err := s.repo.Group().List(ctx, tx, nil)
	if err != nil {
		return nil, persistenceError("load groups", err)
	}

	v := &Visibility{
		groups:   make(map[models.GroupID]*models.ArticleGroup, len(groups)),
		memberOf: make(map[models.GroupID]bool),
	}
	for _, g := range groups {
		v.groups[g.ID] = g
	}

	if user != nil {
		memberOf, err := s.repo.Membership().GroupsForUser(ctx, tx, user.ID)
		if err != nil {
			return nil, persistenceError("load memberships", err)
		}
		for _, id := range memberOf {
			v.memberOf[id] = true
		}
	}
	return v, nil
}

func (s *accessControlService) CanView(ctx context.Context, tx *gorm.DB, user *models.User, articleID models.ArticleID) (bool, error) {
	articleGroups, err := s.articleGroups(ctx, tx, articleID)
	if err != nil {
		return false, err
	}
	if len(articleGroups) == 0 {
		return false, nil
	}

	groups, err := s.repo.Group().List(ctx, tx, articleGroups)
	if err != nil {
		return false, persistenceError("load article groups", err)
	}

	var memberOf map[models.GroupID]bool
	for _, g := range groups {
		if !g.Protected {
			return true, nil
		}
		if user == nil {
			continue
		}
		if memberOf == nil {
			ids, err := s.repo.Membership().GroupsForUser(ctx, tx, user.ID)
			if err != nil {
				return false, persistenceError("load memberships", err)
			}
			memberOf = make(map[models.GroupID]bool, len(ids))
			for _, id := range ids {
				memberOf[id] = true
			}
		}
		if memberOf[g.ID] {
			return true, nil
		}
	}
	return false, nil
}

// CanEditOrDelete grants delete to platform admins, and edit plus delete to
// instructors who administer any group containing the article.
func (s *accessControlService) CanEditOrDelete(ctx context.Context, tx *gorm.DB, user *models.User, articleID models.ArticleID) (ArticlePermissions, error) {
	var perms ArticlePermissions

	canView, err := s.CanView(ctx, tx, user, articleID)
	if err != nil {
		return perms, err
	}
	perms.CanView = canView

	if user == nil {
		return perms, nil
	}
	if user.IsPlatformAdmin() {
		perms.CanDelete = true
	}
	if !user.IsInstructor() {
		return perms, nil
	}

	articleGroups, err := s.articleGroups(ctx, tx, articleID)
	if err != nil {
		return perms, err
	}
	for _, groupID := range articleGroups {
		admin, err := s.isGroupAdmin(ctx, tx, groupID, user.ID)
		if err != nil {
			return perms, err
		}
		if admin {
			perms.CanEdit = true
			perms.CanDelete = true
			break
		}
	}
	return perms, nil
}

// CanManageGroup reports whether user may change the group's settings,
// members or links.
func (s *accessControlService) CanManageGroup(ctx context.Context, tx *gorm.DB, user *models.User, groupID models.GroupID) (bool, error) {
	if _, err := s.group(ctx, tx, groupID); err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}
	if user.IsPlatformAdmin() {
		return true, nil
	}
	return s.isGroupAdmin(ctx, tx, groupID, user.ID)
}

// CanRemoveAdminFlag rejects the change if it leaves a protected group with
// members but no admin.
func (s *accessControlService) CanRemoveAdminFlag(ctx context.Context, tx *gorm.DB, groupID models.GroupID, userID string) error {
	return s.checkAdminsAfter(ctx, tx, groupID, userID, false)
}

// CanRemoveMember is CanRemoveAdminFlag for a member leaving the group. The
// last member of a group may always leave.
func (s *accessControlService) CanRemoveMember(ctx context.Context, tx *gorm.DB, groupID models.GroupID, userID string) error {
	return s.checkAdminsAfter(ctx, tx, groupID, userID, true)
}

func (s *accessControlService) checkAdminsAfter(ctx context.Context, tx *gorm.DB, groupID models.GroupID, userID string, removeMember bool) error {
	group, err := s.group(ctx, tx, groupID)
	if err != nil {
		return err
	}
	if !group.Protected {
		return nil
	}

	members, err := s.repo.Membership().ListByGroup(ctx, tx, groupID)
	if err != nil {
		return persistenceError("list members", err)
	}

	remainingMembers, remainingAdmins := 0, 0
	targetIsAdmin := false
	for _, m := range members {
		if m.UserID == userID {
			targetIsAdmin = m.IsAdmin
			if !removeMember {
				remainingMembers++
			}
			continue
		}
		remainingMembers++
		if m.IsAdmin {
			remainingAdmins++
		}
	}

	if !targetIsAdmin && !removeMember {
		return nil
	}
	if remainingMembers > 0 && remainingAdmins == 0 {
		return &LastAdminViolation{GroupID: groupID, UserID: userID}
	}
	return nil
}

// CanDeleteGroup lists every article that only this group holds
func (s *accessControlService) CanDeleteGroup(ctx context.Context, tx *gorm.DB, groupID models.GroupID) error {
	if _, err := s.group(ctx, tx, groupID); err != nil {
		return err
	}

	exclusive, err := s.repo.Article().ExclusiveArticles(ctx, tx, groupID)
	if err != nil {
		return persistenceError("find exclusive articles", err)
	}
	if len(exclusive) > 0 {
		return &OrphanArticleViolation{GroupID: groupID, ArticleIDs: exclusive}
	}
	return nil
}

func (s *accessControlService) CanDetachArticleFromGroup(ctx context.Context, tx *gorm.DB, articleID models.ArticleID, groupID models.GroupID) error {
	articleGroups, err := s.articleGroups(ctx, tx, articleID)
	if err != nil {
		return err
	}

	linked := false
	for _, g := range articleGroups {
		if g == groupID {
			linked = true
			break
		}
	}
	if !linked {
		return fmt.Errorf("article %s, group %s: %w", articleID, groupID, ErrLinkNotFound)
	}
	if len(articleGroups) == 1 {
		return &OrphanArticleViolation{GroupID: groupID, ArticleIDs: []models.ArticleID{articleID}}
	}
	return nil
}

func (s *accessControlService) CanRemovePlatformAdmin(ctx context.Context, tx *gorm.DB, userID string) error {
	isAdmin, err := s.repo.User().HasRole(ctx, tx, userID, models.RoleAdmin)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrUserNotFound
		}
		return persistenceError("check platform role", err)
	}
	if !isAdmin {
		return nil
	}

	count, err := s.repo.User().CountWithRole(ctx, tx, models.RoleAdmin)
	if err != nil {
		return persistenceError("count platform admins", err)
	}
	if count <= 1 {
		return &LastAdminViolation{UserID: userID}
	}
	return nil
}

// ===== HELPERS =====

func (s *accessControlService) group(ctx context.Context, tx *gorm.DB, groupID models.GroupID) (*models.ArticleGroup, error) {
	group, err := s.repo.Group().GetByID(ctx, tx, groupID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrGroupNotFound
		}
		return nil, persistenceError("get group", err)
	}
	return group, nil
}

func (s *accessControlService) articleGroups(ctx context.Context, tx *gorm.DB, articleID models.ArticleID) ([]models.GroupID, error) {
	exists, err := s.repo.Article().Exists(ctx, tx, articleID)
	if err != nil {
		return nil, persistenceError("check article", err)
	}
	if !exists {
		return nil, ErrArticleNotFound
	}

	groups, err := s.repo.Article().GroupsForArticle(ctx, tx, articleID)
	if err != nil {
		return nil, persistenceError("load article links", err)
	}
	return groups, nil
}

func (s *accessControlService) isGroupAdmin(ctx context.Context, tx *gorm.DB, groupID models.GroupID, userID string) (bool, error) {
	m, err := s.repo.Membership().Get(ctx, tx, groupID, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, nil
		}
		return false, persistenceError("get membership", err)
	}
	return m.IsAdmin, nil
}
