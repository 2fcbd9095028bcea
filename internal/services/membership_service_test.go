package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/article-service/internal/events"
	"github.com/SAP-F-2025/article-service/internal/models"
)

func TestAddMember(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.services.Membership()

	alice := env.user(t, "alice", models.RoleInstructor)
	bob := env.user(t, "bob", models.RoleStudent)
	g := env.group(t, 1, "Course", true)
	env.member(t, g, "alice", true)

	require.NoError(t, svc.AddMember(ctx, alice, g, "bob", false))
	assert.ErrorIs(t, svc.AddMember(ctx, alice, g, "bob", false), ErrAlreadyMember)
	assert.ErrorIs(t, svc.AddMember(ctx, alice, g, "nobody", false), ErrUserNotFound)
	assert.ErrorIs(t, svc.AddMember(ctx, alice, 99, "bob", false), ErrGroupNotFound)

	env.user(t, "carol", models.RoleStudent)
	assert.True(t, IsPermissionError(svc.AddMember(ctx, bob, g, "carol", false)))

	members, err := svc.Members(ctx, g)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	groups, err := svc.GroupsFor(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []models.GroupID{g}, groups)

	published := env.publisher.EventsOfType(events.MembershipChanged)
	require.Len(t, published, 1)
	assert.Equal(t, "added", published[0].Data["action"])
	assert.Equal(t, "bob", published[0].Data["user_id"])
}

func TestAddNonAdminToEmptyProtectedGroup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.services.Membership()

	root := env.user(t, "root", models.RoleAdmin)
	env.user(t, "bob", models.RoleStudent)
	env.user(t, "alice", models.RoleInstructor)
	g := env.group(t, 1, "Empty", true)

	err := svc.AddMember(ctx, root, g, "bob", false)
	var violation *LastAdminViolation
	require.ErrorAs(t, err, &violation)
	assert.Empty(t, env.memberships(t))

	require.NoError(t, svc.AddMember(ctx, root, g, "alice", true))
	require.NoError(t, svc.AddMember(ctx, root, g, "bob", false))
}

func TestSetAdminLastAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.services.Membership()

	alice := env.user(t, "alice", models.RoleInstructor)
	env.user(t, "bob", models.RoleStudent)
	g := env.group(t, 1, "Course", true)
	env.member(t, g, "alice", true)
	env.member(t, g, "bob", false)

	err := svc.SetAdmin(ctx, alice, g, "alice", false)
	assert.True(t, IsPolicyViolation(err))

	m, err := env.repo.Membership().Get(ctx, nil, g, "alice")
	require.NoError(t, err)
	assert.True(t, m.IsAdmin)

	// Unchanged flag is a no-op without events
	require.NoError(t, svc.SetAdmin(ctx, alice, g, "alice", true))
	assert.Empty(t, env.publisher.GetPublishedEvents())

	require.NoError(t, svc.SetAdmin(ctx, alice, g, "bob", true))
	require.NoError(t, svc.SetAdmin(ctx, alice, g, "alice", false))

	actions := []interface{}{}
	for _, e := range env.publisher.EventsOfType(events.MembershipChanged) {
		actions = append(actions, e.Data["action"])
	}
	assert.Equal(t, []interface{}{"promoted", "demoted"}, actions)

	assert.ErrorIs(t, svc.SetAdmin(ctx, alice, g, "nobody", true), ErrMemberNotFound)
}

func TestRemoveMember(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.services.Membership()

	alice := env.user(t, "alice", models.RoleInstructor)
	bob := env.user(t, "bob", models.RoleStudent)
	carol := env.user(t, "carol", models.RoleStudent)
	g := env.group(t, 1, "Course", true)
	env.member(t, g, "alice", true)
	env.member(t, g, "bob", false)
	env.member(t, g, "carol", false)

	// Members other than group admins cannot remove others
	assert.True(t, IsPermissionError(svc.RemoveMember(ctx, bob, g, "carol")))

	// The last admin cannot leave while others remain
	assert.True(t, IsPolicyViolation(svc.RemoveMember(ctx, alice, g, "alice")))

	// Anyone may leave on their own
	require.NoError(t, svc.RemoveMember(ctx, carol, g, "carol"))
	require.NoError(t, svc.RemoveMember(ctx, alice, g, "bob"))
	assert.ErrorIs(t, svc.RemoveMember(ctx, alice, g, "bob"), ErrMemberNotFound)

	// Alone, the admin may leave and the group becomes empty
	require.NoError(t, svc.RemoveMember(ctx, alice, g, "alice"))
	assert.Empty(t, env.memberships(t))
}

func TestConcurrentDemotionsKeepAnAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.services.Membership()

	root := env.user(t, "root", models.RoleAdmin)
	env.user(t, "alice", models.RoleInstructor)
	env.user(t, "bob", models.RoleInstructor)
	env.user(t, "carol", models.RoleStudent)
	g := env.group(t, 1, "Course", true)
	env.member(t, g, "alice", true)
	env.member(t, g, "bob", true)
	env.member(t, g, "carol", false)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			errs[i] = svc.SetAdmin(ctx, root, g, user, false)
		}(i, user)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.True(t, IsPolicyViolation(err))
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	members, err := svc.Members(ctx, g)
	require.NoError(t, err)
	assert.Equal(t, 1, models.AdminCount(members))
}

func TestMembersCarryUsernames(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.db.Create(&models.User{ID: "u-1", Username: "ada"}).Error)
	require.NoError(t, env.db.Create(&models.User{ID: "u-2", Username: "linus"}).Error)
	g := env.group(t, 1, "Kernel", false)
	env.member(t, g, "u-1", true)
	env.member(t, g, "u-2", false)
	env.member(t, g, "gone", false)

	members, err := env.services.Membership().Members(ctx, g)
	require.NoError(t, err)
	names := map[string]string{}
	for _, m := range members {
		names[m.UserID] = m.Username
	}
	assert.Equal(t, map[string]string{"u-1": "ada", "u-2": "linus", "gone": ""}, names)

	details, err := env.services.Group().GetGroup(ctx, g)
	require.NoError(t, err)
	assert.ElementsMatch(t, members, details.Members)

	listed, err := env.services.Group().ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.ElementsMatch(t, members, listed[0].Members)
}
