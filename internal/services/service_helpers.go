package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/SAP-F-2025/article-service/internal/events"
	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
)

func actorID(actor *models.User) string {
	if actor == nil {
		return ""
	}
	return actor.ID
}

// logFailure logs a failed operation. Rejections are expected outcomes and
// go to warn; crypto and persistence failures go to error.
func logFailure(logger *slog.Logger, msg string, err error, args ...any) {
	args = append(args, "error", err)
	switch {
	case errors.Is(err, ErrCryptoFailure), IsPersistenceError(err):
		logger.Error(msg, args...)
	default:
		logger.Warn(msg, args...)
	}
}

// publishEvent sends a domain event after the change is committed. A
// delivery failure does not undo the change.
func publishEvent(ctx context.Context, publisher events.EventPublisher, logger *slog.Logger, eventType events.EventType, actor *models.User, data map[string]interface{}) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, events.NewEvent(eventType, actorID(actor), data)); err != nil {
		logger.Warn("Failed to publish event", "type", eventType, "error", err)
	}
}

func requireRole(actor *models.User, resource, action string, roles ...models.Role) error {
	for _, r := range roles {
		if actor.HasRole(r) {
			return nil
		}
	}
	return NewPermissionError(actorID(actor), nil, resource, action, "requires role "+models.NewRoleSet(roles...).String())
}

func groupIDStrings(ids []models.GroupID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// fillUsernames looks up every member in one directory call. Members the
// directory no longer knows keep an empty username.
func fillUsernames(ctx context.Context, repo repositories.Repository, members []models.GroupMembership) error {
	if len(members) == 0 {
		return nil
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	users, err := repo.User().GetByIDs(ctx, nil, ids)
	if err != nil {
		return persistenceError("load member users", err)
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Username
	}
	for i := range members {
		members[i].Username = names[members[i].UserID]
	}
	return nil
}
