package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern safely invalidates cache pattern with logging
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete safely deletes cache keys with logging
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// Key helpers shared by repositories and invalidation
func GroupKey(groupID fmt.Stringer) string        { return "id:" + groupID.String() }
func GroupMembersKey(groupID fmt.Stringer) string { return "group:" + groupID.String() }
func UserGroupsKey(userID string) string          { return "user:" + userID }
func UserKey(userID string) string                { return "id:" + userID }

// InvalidateMembershipCache drops cached membership for a group and the
// listed users
func InvalidateMembershipCache(ctx context.Context, cm *CacheManager, groupID fmt.Stringer, userIDs ...string) {
	keys := []string{GroupMembersKey(groupID)}
	for _, id := range userIDs {
		keys = append(keys, UserGroupsKey(id))
	}
	SafeDelete(ctx, cm.Membership, keys...)
}

// InvalidateGroupCache drops a cached group row and every membership entry
// that may reference it
func InvalidateGroupCache(ctx context.Context, cm *CacheManager, groupID fmt.Stringer) {
	SafeDelete(ctx, cm.Group, GroupKey(groupID))
	SafeInvalidatePattern(ctx, cm.Membership, "*")
}

// InvalidateAll clears every knowledge-base cache entry. Used after
// transactions and restores, which can touch many groups at once.
func InvalidateAll(ctx context.Context, cm *CacheManager) {
	SafeInvalidatePattern(ctx, cm.Group, "*")
	SafeInvalidatePattern(ctx, cm.Membership, "*")
	SafeInvalidatePattern(ctx, cm.User, "*")
}
