package services

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/article-service/internal/events"
	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
	"github.com/SAP-F-2025/article-service/internal/validator"
)

type membershipService struct {
	repo      repositories.Repository
	access    AccessControlService
	locks     *LockManager
	publisher events.EventPublisher
	logger    *slog.Logger
	validator *validator.Validator
}

func NewMembershipService(repo repositories.Repository, access AccessControlService, locks *LockManager, publisher events.EventPublisher, logger *slog.Logger, validator *validator.Validator) MembershipService {
	return &membershipService{
		repo:      repo,
		access:    access,
		locks:     locks,
		publisher: publisher,
		logger:    logger,
		validator: validator,
	}
}

// AddMember adds userID to the group. Adding a non-admin to a protected
// group that has no admin yet is rejected.
func (s *membershipService) AddMember(ctx context.Context, actor *models.User, groupID models.GroupID, userID string, isAdmin bool) error {
	s.logger.Info("Adding group member", "group_id", groupID, "user_id", userID, "is_admin", isAdmin, "actor_id", actorID(actor))

	if err := s.validator.Validate(&models.GroupMemberRequest{UserID: userID, IsAdmin: isAdmin}); err != nil {
		return err
	}

	unlock := s.locks.LockGroups(groupID)
	defer unlock()

	err := s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := s.authorize(ctx, tx, actor, groupID, "add member"); err != nil {
			return err
		}

		exists, err := s.repo.User().ExistsByID(ctx, tx, userID)
		if err != nil {
			return persistenceError("check user", err)
		}
		if !exists {
			return ErrUserNotFound
		}

		if !isAdmin {
			if err := s.requireAdminPresent(ctx, tx, groupID); err != nil {
				return err
			}
		}

		err = s.repo.Membership().Add(ctx, tx, &models.GroupMembership{GroupID: groupID, UserID: userID, IsAdmin: isAdmin})
		switch {
		case repositories.IsDuplicateError(err):
			return ErrAlreadyMember
		case repositories.IsNotFoundError(err):
			return ErrGroupNotFound
		case err != nil:
			return persistenceError("add member", err)
		}
		return nil
	})
	if err != nil {
		logFailure(s.logger, "Failed to add group member", err, "group_id", groupID, "user_id", userID)
		return err
	}

	s.membershipChanged(ctx, actor, groupID, userID, "added")
	s.logger.Info("Group member added", "group_id", groupID, "user_id", userID)
	return nil
}

// RemoveMember removes userID from the group. Members may always remove
// themselves, subject to the last-admin rule.
func (s *membershipService) RemoveMember(ctx context.Context, actor *models.User, groupID models.GroupID, userID string) error {
	s.logger.Info("Removing group member", "group_id", groupID, "user_id", userID, "actor_id", actorID(actor))

	unlock := s.locks.LockGroups(groupID)
	defer unlock()

	err := s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		if actor == nil || actor.ID != userID {
			if err := s.authorize(ctx, tx, actor, groupID, "remove member"); err != nil {
				return err
			}
		}

		if _, err := s.membership(ctx, tx, groupID, userID); err != nil {
			return err
		}
		if err := s.access.CanRemoveMember(ctx, tx, groupID, userID); err != nil {
			return err
		}
		if err := s.repo.Membership().Remove(ctx, tx, groupID, userID); err != nil {
			return persistenceError("remove member", err)
		}
		return nil
	})
	if err != nil {
		logFailure(s.logger, "Failed to remove group member", err, "group_id", groupID, "user_id", userID)
		return err
	}

	s.membershipChanged(ctx, actor, groupID, userID, "removed")
	s.logger.Info("Group member removed", "group_id", groupID, "user_id", userID)
	return nil
}

func (s *membershipService) SetAdmin(ctx context.Context, actor *models.User, groupID models.GroupID, userID string, isAdmin bool) error {
	s.logger.Info("Setting group admin flag", "group_id", groupID, "user_id", userID, "is_admin", isAdmin, "actor_id", actorID(actor))

	unlock := s.locks.LockGroups(groupID)
	defer unlock()

	changed := false
	err := s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := s.authorize(ctx, tx, actor, groupID, "change admin flag"); err != nil {
			return err
		}

		m, err := s.membership(ctx, tx, groupID, userID)
		if err != nil {
			return err
		}
		if m.IsAdmin == isAdmin {
			return nil
		}
		if !isAdmin {
			if err := s.access.CanRemoveAdminFlag(ctx, tx, groupID, userID); err != nil {
				return err
			}
		}
		if err := s.repo.Membership().SetAdmin(ctx, tx, groupID, userID, isAdmin); err != nil {
			return persistenceError("set admin flag", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		logFailure(s.logger, "Failed to set group admin flag", err, "group_id", groupID, "user_id", userID)
		return err
	}

	if changed {
		action := "promoted"
		if !isAdmin {
			action = "demoted"
		}
		s.membershipChanged(ctx, actor, groupID, userID, action)
	}
	return nil
}

func (s *membershipService) Members(ctx context.Context, groupID models.GroupID) ([]models.GroupMembership, error) {
	exists, err := s.repo.Group().Exists(ctx, nil, groupID)
	if err != nil {
		return nil, persistenceError("check group", err)
	}
	if !exists {
		return nil, ErrGroupNotFound
	}

	members, err := s.repo.Membership().ListByGroup(ctx, nil, groupID)
	if err != nil {
		return nil, persistenceError("list members", err)
	}
	if err := fillUsernames(ctx, s.repo, members); err != nil {
		return nil, err
	}
	return members, nil
}

func (s *membershipService) GroupsFor(ctx context.Context, userID string) ([]models.GroupID, error) {
	groups, err := s.repo.Membership().GroupsForUser(ctx, nil, userID)
	if err != nil {
		return nil, persistenceError("list user groups", err)
	}
	return groups, nil
}

// ===== HELPERS =====

func (s *membershipService) authorize(ctx context.Context, tx *gorm.DB, actor *models.User, groupID models.GroupID, action string) error {
	ok, err := s.access.CanManageGroup(ctx, tx, actor, groupID)
	if err != nil {
		return err
	}
	if !ok {
		return NewPermissionError(actorID(actor), groupID, "group", action, "requires platform ADMIN or group admin")
	}
	return nil
}

func (s *membershipService) membership(ctx context.Context, tx *gorm.DB, groupID models.GroupID, userID string) (*models.GroupMembership, error) {
	m, err := s.repo.Membership().Get(ctx, tx, groupID, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, fmt.Errorf("group %s, user %s: %w", groupID, userID, ErrMemberNotFound)
		}
		return nil, persistenceError("get membership", err)
	}
	return m, nil
}

// requireAdminPresent rejects a non-admin joining a protected group that
// has no admin to keep the invariant.
func (s *membershipService) requireAdminPresent(ctx context.Context, tx *gorm.DB, groupID models.GroupID) error {
	group, err := s.repo.Group().GetByID(ctx, tx, groupID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrGroupNotFound
		}
		return persistenceError("get group", err)
	}
	if !group.Protected {
		return nil
	}

	members, err := s.repo.Membership().ListByGroup(ctx, tx, groupID)
	if err != nil {
		return persistenceError("list members", err)
	}
	if models.AdminCount(members) == 0 {
		return &LastAdminViolation{GroupID: groupID}
	}
	return nil
}

func (s *membershipService) membershipChanged(ctx context.Context, actor *models.User, groupID models.GroupID, userID, action string) {
	publishEvent(ctx, s.publisher, s.logger, events.MembershipChanged, actor, map[string]interface{}{
		"group_id": groupID.String(),
		"user_id":  userID,
		"action":   action,
	})
}
