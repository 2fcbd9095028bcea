package services

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/article-service/internal/events"
	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
)

type userRoleService struct {
	repo      repositories.Repository
	access    AccessControlService
	locks     *LockManager
	publisher events.EventPublisher
	logger    *slog.Logger
}

func NewUserRoleService(repo repositories.Repository, access AccessControlService, locks *LockManager, publisher events.EventPublisher, logger *slog.Logger) UserRoleService {
	return &userRoleService{
		repo:      repo,
		access:    access,
		locks:     locks,
		publisher: publisher,
		logger:    logger,
	}
}

// CurrentUser resolves ref as a user id first and then as a username
func (s *userRoleService) CurrentUser(ctx context.Context, ref string) (*models.User, error) {
	user, err := s.repo.User().GetByID(ctx, nil, ref)
	if err == nil {
		return user, nil
	}
	if !repositories.IsNotFoundError(err) {
		return nil, persistenceError("get user", err)
	}

	user, err = s.repo.User().GetByUsername(ctx, nil, ref)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, persistenceError("get user by username", err)
	}
	return user, nil
}

// ListUsers pages through the identity directory. Platform admins only.
func (s *userRoleService) ListUsers(ctx context.Context, actor *models.User, filters repositories.UserFilters) (*UserListResponse, error) {
	if err := requireRole(actor, "user", "list", models.RoleAdmin); err != nil {
		return nil, err
	}
	if filters.Role != nil {
		if _, err := models.ParseRole(string(*filters.Role)); err != nil {
			return nil, err
		}
	}

	users, total, err := s.repo.User().List(ctx, nil, filters)
	if err != nil {
		return nil, persistenceError("list users", err)
	}
	return &UserListResponse{Users: users, Total: total}, nil
}

// RemoveRole takes a platform role away. The last ADMIN keeps theirs.
func (s *userRoleService) RemoveRole(ctx context.Context, actor *models.User, userID string, role models.Role) error {
	s.logger.Info("Removing platform role", "user_id", userID, "role", role, "actor_id", actorID(actor))

	if err := requireRole(actor, "role", "remove", models.RoleAdmin); err != nil {
		return err
	}
	if _, err := models.ParseRole(string(role)); err != nil {
		return err
	}

	unlock := s.locks.Lock(platformAdminsLockKey)
	defer unlock()

	err := s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		has, err := s.repo.User().HasRole(ctx, tx, userID, role)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrUserNotFound
			}
			return persistenceError("check role", err)
		}
		if !has {
			return ErrRoleNotAssigned
		}

		if role == models.RoleAdmin {
			if err := s.access.CanRemovePlatformAdmin(ctx, tx, userID); err != nil {
				return err
			}
		}
		if err := s.repo.User().RemoveRole(ctx, tx, userID, role); err != nil {
			return persistenceError("remove role", err)
		}
		return nil
	})
	if err != nil {
		logFailure(s.logger, "Failed to remove platform role", err, "user_id", userID, "role", role)
		return err
	}

	publishEvent(ctx, s.publisher, s.logger, events.RoleChanged, actor, map[string]interface{}{
		"user_id": userID,
		"removed": string(role),
	})
	s.logger.Info("Platform role removed", "user_id", userID, "role", role)
	return nil
}

// RedeemInvitation marks the code used and grants its roles in one step. A
// code that is unknown or already used is reported, never reissued.
func (s *userRoleService) RedeemInvitation(ctx context.Context, userID string, code string) (models.RoleSet, error) {
	s.logger.Info("Redeeming invitation code", "user_id", userID)

	unlock := s.locks.Lock("invitation:"+code, platformAdminsLockKey)
	defer unlock()

	var granted models.RoleSet
	err := s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		exists, err := s.repo.User().ExistsByID(ctx, tx, userID)
		if err != nil {
			return persistenceError("check user", err)
		}
		if !exists {
			return ErrUserNotFound
		}

		invitation, err := s.repo.Invitation().GetByCode(ctx, tx, code)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrInvitationNotFound
			}
			return persistenceError("get invitation", err)
		}
		if invitation.Used {
			return ErrInvitationUsed
		}

		marked, err := s.repo.Invitation().MarkUsed(ctx, tx, code, userID)
		if err != nil {
			return persistenceError("mark invitation used", err)
		}
		if !marked {
			return ErrInvitationUsed
		}

		for _, role := range invitation.Roles.Roles() {
			if err := s.repo.User().AddRole(ctx, tx, userID, role); err != nil {
				return persistenceError("grant role", err)
			}
		}
		granted = invitation.Roles
		return nil
	})
	if err != nil {
		logFailure(s.logger, "Failed to redeem invitation code", err, "user_id", userID)
		return 0, err
	}

	publishEvent(ctx, s.publisher, s.logger, events.RoleChanged, &models.User{ID: userID}, map[string]interface{}{
		"user_id": userID,
		"granted": granted.String(),
	})
	s.logger.Info("Invitation code redeemed", "user_id", userID, "roles", granted.String())
	return granted, nil
}
