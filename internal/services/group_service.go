package services

import (
	"context"
	"log/slog"
	"strings"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/article-service/internal/events"
	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
	"github.com/SAP-F-2025/article-service/internal/validator"
)

type groupService struct {
	repo      repositories.Repository
	access    AccessControlService
	locks     *LockManager
	publisher events.EventPublisher
	logger    *slog.Logger
	validator *validator.Validator
}

func NewGroupService(repo repositories.Repository, access AccessControlService, locks *LockManager, publisher events.EventPublisher, logger *slog.Logger, validator *validator.Validator) GroupService {
	return &groupService{
		repo:      repo,
		access:    access,
		locks:     locks,
		publisher: publisher,
		logger:    logger,
		validator: validator,
	}
}

// CreateGroup creates a group with its initial members and article links.
// Without explicit members the creator becomes the group admin.
func (s *groupService) CreateGroup(ctx context.Context, actor *models.User, req *CreateGroupRequest) (*models.GroupDetails, error) {
	s.logger.Info("Creating group", "actor_id", actorID(actor), "protected", req.Protected)

	if err := requireRole(actor, "group", "create", models.RoleInstructor, models.RoleAdmin); err != nil {
		return nil, err
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	members, err := initialMembers(actor, req)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock()
	defer unlock()

	group := &models.ArticleGroup{
		Name:      strings.TrimSpace(req.Name),
		Protected: req.Protected,
	}
	articles := models.ArticleIDSet(req.Articles)

	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		for _, id := range articles {
			perms, err := s.access.CanEditOrDelete(ctx, tx, actor, id)
			if err != nil {
				return err
			}
			if !perms.CanEdit && !actor.IsPlatformAdmin() {
				return NewPermissionError(actor.ID, id, "article", "link", "requires edit right on the article")
			}
		}

		if err := s.repo.Group().Create(ctx, tx, group); err != nil {
			return persistenceError("create group", err)
		}

		for i := range members {
			exists, err := s.repo.User().ExistsByID(ctx, tx, members[i].UserID)
			if err != nil {
				return persistenceError("check user", err)
			}
			if !exists {
				return ErrUserNotFound
			}
			members[i].GroupID = group.ID
			if err := s.repo.Membership().Add(ctx, tx, &members[i]); err != nil {
				return persistenceError("add member", err)
			}
		}

		for _, id := range articles {
			if err := s.repo.Article().InsertLink(ctx, tx, &models.GroupArticleLink{GroupID: group.ID, ArticleID: id}); err != nil {
				return persistenceError("link article", err)
			}
		}
		return nil
	})
	if err != nil {
		logFailure(s.logger, "Failed to create group", err, "name", group.Name)
		return nil, err
	}

	publishEvent(ctx, s.publisher, s.logger, events.GroupCreated, actor, map[string]interface{}{
		"group_id":  group.ID.String(),
		"protected": group.Protected,
	})
	s.logger.Info("Group created successfully", "group_id", group.ID)

	if err := fillUsernames(ctx, s.repo, members); err != nil {
		s.logger.Warn("Failed to load member usernames", "group_id", group.ID, "error", err)
	}
	return &models.GroupDetails{
		ArticleGroup: *group,
		Members:      members,
		ArticleCount: int64(len(articles)),
	}, nil
}

// UpdateGroup renames a group or toggles its protection. Protecting a group
// whose members include no admin is rejected.
func (s *groupService) UpdateGroup(ctx context.Context, actor *models.User, id models.GroupID, req *UpdateGroupRequest) (*models.ArticleGroup, error) {
	s.logger.Info("Updating group", "group_id", id, "actor_id", actorID(actor))

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	unlock := s.locks.LockGroups(id)
	defer unlock()

	var updated *models.ArticleGroup
	err := s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := s.authorize(ctx, tx, actor, id, "update"); err != nil {
			return err
		}

		group, err := s.repo.Group().GetByID(ctx, tx, id)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrGroupNotFound
			}
			return persistenceError("get group", err)
		}

		if req.Name != nil {
			group.Name = strings.TrimSpace(*req.Name)
		}
		if req.Protected != nil {
			if *req.Protected && !group.Protected {
				members, err := s.repo.Membership().ListByGroup(ctx, tx, id)
				if err != nil {
					return persistenceError("list members", err)
				}
				if len(members) > 0 && models.AdminCount(members) == 0 {
					return &LastAdminViolation{GroupID: id}
				}
			}
			group.Protected = *req.Protected
		}

		if err := s.repo.Group().Update(ctx, tx, group); err != nil {
			return persistenceError("update group", err)
		}
		updated = group
		return nil
	})
	if err != nil {
		logFailure(s.logger, "Failed to update group", err, "group_id", id)
		return nil, err
	}

	publishEvent(ctx, s.publisher, s.logger, events.GroupUpdated, actor, map[string]interface{}{
		"group_id":  id.String(),
		"protected": updated.Protected,
	})
	s.logger.Info("Group updated successfully", "group_id", id)
	return updated, nil
}

// DeleteGroup removes the group, its links and its memberships. It is
// refused while any article would be left without a group.
func (s *groupService) DeleteGroup(ctx context.Context, actor *models.User, id models.GroupID) error {
	s.logger.Info("Deleting group", "group_id", id, "actor_id", actorID(actor))

	unlock := s.locks.LockGroups(id)
	defer unlock()

	err := s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := s.authorize(ctx, tx, actor, id, "delete"); err != nil {
			return err
		}
		if err := s.access.CanDeleteGroup(ctx, tx, id); err != nil {
			return err
		}

		if err := s.repo.Article().DeleteLinksByGroup(ctx, tx, id); err != nil {
			return persistenceError("delete group links", err)
		}
		if err := s.repo.Membership().DeleteByGroup(ctx, tx, id); err != nil {
			return persistenceError("delete group members", err)
		}
		if err := s.repo.Group().Delete(ctx, tx, id); err != nil {
			return persistenceError("delete group", err)
		}
		return nil
	})
	if err != nil {
		logFailure(s.logger, "Failed to delete group", err, "group_id", id)
		return err
	}

	publishEvent(ctx, s.publisher, s.logger, events.GroupDeleted, actor, map[string]interface{}{
		"group_id": id.String(),
	})
	s.logger.Info("Group deleted successfully", "group_id", id)
	return nil
}

func (s *groupService) GetGroup(ctx context.Context, id models.GroupID) (*models.GroupDetails, error) {
	group, err := s.repo.Group().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrGroupNotFound
		}
		return nil, persistenceError("get group", err)
	}

	members, err := s.repo.Membership().ListByGroup(ctx, nil, id)
	if err != nil {
		return nil, persistenceError("list members", err)
	}
	if err := fillUsernames(ctx, s.repo, members); err != nil {
		return nil, err
	}
	articles, err := s.repo.Article().ArticleIDsForGroups(ctx, nil, []models.GroupID{id})
	if err != nil {
		return nil, persistenceError("list group articles", err)
	}

	return &models.GroupDetails{
		ArticleGroup: *group,
		Members:      members,
		ArticleCount: int64(len(articles)),
	}, nil
}

func (s *groupService) ListGroups(ctx context.Context) ([]*models.GroupDetails, error) {
	groups, err := s.repo.Group().List(ctx, nil, nil)
	if err != nil {
		return nil, persistenceError("list groups", err)
	}
	memberships, err := s.repo.Membership().ListByGroups(ctx, nil, nil)
	if err != nil {
		return nil, persistenceError("list memberships", err)
	}
	if err := fillUsernames(ctx, s.repo, memberships); err != nil {
		return nil, err
	}
	links, err := s.repo.Article().LinksForGroups(ctx, nil, nil)
	if err != nil {
		return nil, persistenceError("list links", err)
	}

	members := make(map[models.GroupID][]models.GroupMembership)
	for _, m := range memberships {
		members[m.GroupID] = append(members[m.GroupID], m)
	}
	counts := make(map[models.GroupID]int64)
	for _, l := range links {
		counts[l.GroupID]++
	}

	details := make([]*models.GroupDetails, 0, len(groups))
	for _, g := range groups {
		details = append(details, &models.GroupDetails{
			ArticleGroup: *g,
			Members:      members[g.ID],
			ArticleCount: counts[g.ID],
		})
	}
	return details, nil
}

// ===== HELPERS =====

func (s *groupService) authorize(ctx context.Context, tx *gorm.DB, actor *models.User, groupID models.GroupID, action string) error {
	ok, err := s.access.CanManageGroup(ctx, tx, actor, groupID)
	if err != nil {
		return err
	}
	if !ok {
		return NewPermissionError(actorID(actor), groupID, "group", action, "requires platform ADMIN or group admin")
	}
	return nil
}

func initialMembers(actor *models.User, req *CreateGroupRequest) ([]models.GroupMembership, error) {
	if len(req.Members) == 0 {
		return []models.GroupMembership{{UserID: actor.ID, IsAdmin: true}}, nil
	}

	seen := make(map[string]bool, len(req.Members))
	members := make([]models.GroupMembership, 0, len(req.Members))
	for _, m := range req.Members {
		if seen[m.UserID] {
			return nil, validator.ValidationErrors{{Field: "members", Message: "lists user " + m.UserID + " more than once", Rule: "unique"}}
		}
		seen[m.UserID] = true
		members = append(members, models.GroupMembership{UserID: m.UserID, IsAdmin: m.IsAdmin})
	}

	if req.Protected && models.AdminCount(members) == 0 {
		return nil, validator.ValidationErrors{{Field: "members", Message: "must include a group admin for a protected group", Rule: "group_admin"}}
	}
	return members, nil
}
