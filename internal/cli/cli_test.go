package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/SAP-F-2025/article-service/internal/crypto"
	"github.com/SAP-F-2025/article-service/internal/events"
	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/article-service/internal/services"
	"github.com/SAP-F-2025/article-service/internal/validator"
)

type testCLI struct {
	app *App
	db  *gorm.DB
}

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, postgres.AutoMigrate(db))

	keys, err := crypto.NewLockedKeyProvider(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)
	t.Cleanup(keys.Destroy)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sm := services.NewServiceManager(
		postgres.NewPostgreSQLRepository(postgres.RepositoryConfig{DB: db}),
		keys,
		events.NewMockEventPublisher(log),
		log,
		validator.New(),
		services.ServiceManagerConfig{},
	)
	require.NoError(t, sm.Initialize(context.Background()))

	for id, roles := range map[string][]models.Role{
		"root":  {models.RoleAdmin},
		"alice": {models.RoleInstructor},
		"bob":   {models.RoleStudent},
	} {
		require.NoError(t, db.Create(&models.User{ID: id, Username: id}).Error)
		for _, r := range roles {
			require.NoError(t, db.Create(&models.UserRoleAssignment{UserID: id, Role: r}).Error)
		}
	}

	return &testCLI{app: &App{Services: sm, Logger: log}, db: db}
}

func (c *testCLI) run(args ...string) (string, error) {
	root := NewRootCommand(c.app)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *testCLI) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := c.run(args...)
	require.NoError(t, err, out)
	return out
}

func TestArticleLifecycle(t *testing.T) {
	c := newTestCLI(t)

	groupID := strings.TrimSpace(c.mustRun(t, "--as", "alice", "groups", "create", "CS", "--protected"))
	require.Equal(t, "1", groupID)

	articleID := strings.TrimSpace(c.mustRun(t, "--as", "alice", "articles", "create",
		"--title", "Reset your password",
		"--body", "Open settings.",
		"--keyword", "account",
		"--level", "beginner",
		"--groups", groupID))
	require.NotEmpty(t, articleID)

	out := c.mustRun(t, "--as", "alice", "articles", "list")
	assert.Contains(t, out, "Reset your password")

	// bob is not in the protected group
	out = c.mustRun(t, "--as", "bob", "articles", "list")
	assert.NotContains(t, out, "Reset your password")
	_, err := c.run("--as", "bob", "articles", "show", articleID)
	assert.True(t, services.IsPermissionError(err))

	out = c.mustRun(t, "--as", "alice", "articles", "search", "ACCOUNT")
	assert.Contains(t, out, articleID)

	out = c.mustRun(t, "--as", "alice", "articles", "show", articleID)
	assert.Contains(t, out, "Open settings.")

	// Deleting the only group of the article is refused
	_, err = c.run("--as", "alice", "groups", "delete", groupID)
	assert.True(t, services.IsPolicyViolation(err))
	_, err = c.run("--as", "alice", "articles", "detach", articleID, groupID)
	assert.True(t, services.IsPolicyViolation(err))

	// Linking to an open group makes it visible to bob and frees the first group
	c.mustRun(t, "--as", "alice", "groups", "create", "Open")
	_, err = c.run("--as", "bob", "articles", "attach", articleID, "2")
	assert.True(t, services.IsPermissionError(err))
	out = c.mustRun(t, "--as", "alice", "articles", "attach", articleID, "2")
	assert.Contains(t, out, "attached "+articleID+" to group 2")
	out = c.mustRun(t, "--as", "bob", "articles", "list")
	assert.Contains(t, out, "Reset your password")
	c.mustRun(t, "--as", "alice", "articles", "detach", articleID, groupID)

	c.mustRun(t, "--as", "root", "articles", "delete", articleID)
	c.mustRun(t, "--as", "alice", "groups", "delete", groupID)
}

func TestGroupMembershipCommands(t *testing.T) {
	c := newTestCLI(t)

	c.mustRun(t, "--as", "alice", "groups", "create", "Team", "--protected")
	c.mustRun(t, "--as", "alice", "groups", "add-member", "1", "bob")

	out := c.mustRun(t, "groups", "members", "1")
	assert.Contains(t, out, "USERNAME")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "bob")

	_, err := c.run("--as", "alice", "groups", "set-admin", "1", "alice", "false")
	assert.True(t, services.IsPolicyViolation(err))

	c.mustRun(t, "--as", "alice", "groups", "set-admin", "1", "bob", "true")
	c.mustRun(t, "--as", "alice", "groups", "set-admin", "1", "alice", "false")

	out = c.mustRun(t, "--json", "groups", "list")
	assert.Contains(t, out, `"name": "Team"`)
}

func TestBackupRestoreCommands(t *testing.T) {
	c := newTestCLI(t)
	c.mustRun(t, "--as", "alice", "groups", "create", "Public")
	c.mustRun(t, "--as", "alice", "articles", "create", "--title", "Kept", "--body", "b", "--groups", "1")

	path := filepath.Join(t.TempDir(), "all.backup")
	c.mustRun(t, "--as", "root", "backup", "--out", path)

	out := c.mustRun(t, "restore", "--in", path, "--inspect")
	assert.Contains(t, out, "1 groups, 1 articles, 1 links, 1 memberships")

	_, err := c.run("--as", "alice", "restore", "--in", path, "--mode", "replace")
	assert.True(t, services.IsPermissionError(err))

	_, err = c.run("--as", "root", "restore", "--in", path, "--mode", "overwrite")
	assert.Error(t, err)

	out = c.mustRun(t, "--as", "root", "restore", "--in", path, "--mode", "replace")
	assert.Contains(t, out, "restored (replace)")

	out = c.mustRun(t, "articles", "list")
	assert.Contains(t, out, "Kept")
}

func TestInspectRefusesOversizedBackup(t *testing.T) {
	c := newTestCLI(t)

	path := filepath.Join(t.TempDir(), "huge.backup")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(services.DefaultBackupMaxBytes+1))
	require.NoError(t, f.Close())

	_, err = c.run("restore", "--in", path, "--inspect")
	assert.ErrorIs(t, err, services.ErrMalformedBackup)
}

func TestExportWritesWorkbook(t *testing.T) {
	c := newTestCLI(t)
	c.mustRun(t, "--as", "alice", "groups", "create", "Public")
	c.mustRun(t, "--as", "alice", "articles", "create", "--title", "Exported", "--body", "b", "--groups", "1")

	path := filepath.Join(t.TempDir(), "catalog.xlsx")
	c.mustRun(t, "export", "--out", path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	_, err = c.run("export", "--out", filepath.Join(t.TempDir(), "missing", "catalog.xlsx"))
	assert.Error(t, err)
}

func TestRolesAndInvitations(t *testing.T) {
	c := newTestCLI(t)
	require.NoError(t, c.db.Create(&models.InvitationCode{
		Code:  "STAFF",
		Roles: models.NewRoleSet(models.RoleInstructor),
	}).Error)

	out := c.mustRun(t, "--as", "bob", "invite", "redeem", "STAFF")
	assert.Contains(t, out, "INSTRUCTOR")

	out = c.mustRun(t, "--as", "bob", "roles", "whoami")
	assert.Contains(t, out, "INSTRUCTOR")

	_, err := c.run("--as", "root", "roles", "remove", "root", "admin")
	assert.True(t, services.IsPolicyViolation(err))

	c.mustRun(t, "--as", "root", "roles", "remove", "bob", "instructor")

	_, err = c.run("roles", "remove", "bob", "student")
	assert.Error(t, err)
}

func TestUsersList(t *testing.T) {
	c := newTestCLI(t)
	require.NoError(t, c.db.Create(&models.User{ID: "u-42", Username: "grace", FullName: "Grace Hopper"}).Error)

	_, err := c.run("--as", "alice", "users", "list")
	assert.True(t, services.IsPermissionError(err))

	out := c.mustRun(t, "--as", "root", "users", "list")
	for _, name := range []string{"alice", "bob", "grace", "root"} {
		assert.Contains(t, out, name)
	}

	out = c.mustRun(t, "--as", "root", "users", "list", "--role", "instructor")
	assert.Contains(t, out, "alice")
	assert.NotContains(t, out, "bob")

	out = c.mustRun(t, "--as", "root", "users", "list", "--limit", "1")
	assert.Contains(t, out, "1 of 4 shown")

	// --as accepts a username
	out = c.mustRun(t, "--as", "grace", "roles", "whoami")
	assert.Contains(t, out, "u-42 (grace)")
}

func TestUnknownActor(t *testing.T) {
	c := newTestCLI(t)
	_, err := c.run("--as", "mallory", "articles", "list")
	assert.ErrorIs(t, err, services.ErrUserNotFound)
}
