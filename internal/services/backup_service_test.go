package services

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/article-service/internal/crypto"
	"github.com/SAP-F-2025/article-service/internal/events"
	"github.com/SAP-F-2025/article-service/internal/models"
)

// seedCatalog builds two groups, three articles and a few memberships
func seedCatalog(t *testing.T, env *testEnv) *models.User {
	t.Helper()
	root := env.user(t, "root", models.RoleAdmin)
	env.user(t, "alice", models.RoleInstructor)
	env.user(t, "bob", models.RoleStudent)

	cs := env.group(t, 1, "CS", true)
	pub := env.group(t, 2, "Public", false)
	env.member(t, cs, "alice", true)
	env.member(t, cs, "bob", false)
	env.member(t, pub, "alice", true)

	env.article(t, "a1", "Only in CS", cs)
	env.article(t, "a2", "Only public", pub)
	env.article(t, "a3", "Everywhere", cs, pub)
	return root
}

func inspect(t *testing.T, env *testEnv, blob []byte) (*models.BackupEnvelope, *models.BackupData) {
	t.Helper()
	envelope, data, err := env.services.Backup().Inspect(blob)
	require.NoError(t, err)
	return envelope, data
}

// sealBackup wraps data the way a backup does, for blobs that the service
// would never produce itself.
func sealBackup(t *testing.T, env *testEnv, data *models.BackupData) []byte {
	t.Helper()
	payload, err := cbor.Marshal(data)
	require.NoError(t, err)
	sum := sha256.Sum256(payload)
	fingerprint, err := crypto.KeyFingerprint(env.keys)
	require.NoError(t, err)

	blob, err := cbor.Marshal(&models.BackupEnvelope{
		Version:        BackupFormatVersion,
		CreatedAt:      time.Now().UTC(),
		CreatedBy:      "test",
		KeyFingerprint: fingerprint,
		Checksum:       sum[:],
		Payload:        payload,
	})
	require.NoError(t, err)
	return blob
}

type storeState struct {
	groups      []*models.ArticleGroup
	articles    []*models.EncryptedArticle
	links       []models.GroupArticleLink
	memberships []models.GroupMembership
}

func snapshot(t *testing.T, env *testEnv) storeState {
	t.Helper()
	ctx := context.Background()
	groups, err := env.repo.Group().List(ctx, nil, nil)
	require.NoError(t, err)
	articles, err := env.repo.Article().List(ctx, nil)
	require.NoError(t, err)
	return storeState{
		groups:      groups,
		articles:    articles,
		links:       env.links(t),
		memberships: env.memberships(t),
	}
}

func TestBackupContainsEverythingForAdmin(t *testing.T) {
	env := newTestEnv(t)
	root := seedCatalog(t, env)

	blob, err := env.services.Backup().Backup(context.Background(), root, nil)
	require.NoError(t, err)

	envelope, data := inspect(t, env, blob)
	assert.Equal(t, BackupFormatVersion, envelope.Version)
	assert.Equal(t, "root", envelope.CreatedBy)
	assert.Len(t, data.Groups, 2)
	assert.Len(t, data.Articles, 3)
	assert.Len(t, data.Links, 4)
	assert.Len(t, data.Memberships, 3)

	// Rows stay encrypted inside the blob
	for _, a := range data.Articles {
		assert.NotEqual(t, "Only in CS", a.Title)
	}
	assert.Len(t, env.publisher.EventsOfType(events.BackupCreated), 1)
}

func TestReplaceRestoreIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := seedCatalog(t, env)
	svc := env.services.Backup()

	first, err := svc.Backup(ctx, root, nil)
	require.NoError(t, err)
	before := snapshot(t, env)

	// Noise that replace must wipe
	env.group(t, 9, "Scratch", false)
	env.article(t, "stray", "Stray", 9)

	report, err := svc.Restore(ctx, root, first, models.RestoreReplace)
	require.NoError(t, err)
	assert.Equal(t, 2, report.GroupsInserted)
	assert.Equal(t, 3, report.ArticlesInserted)
	assert.Equal(t, 4, report.LinksApplied)
	assert.Equal(t, 3, report.MembershipsApplied)
	assert.Equal(t, before, snapshot(t, env))

	second, err := svc.Backup(ctx, root, nil)
	require.NoError(t, err)
	_, firstData := inspect(t, env, first)
	_, secondData := inspect(t, env, second)
	assert.Equal(t, firstData, secondData)

	_, err = svc.Restore(ctx, root, second, models.RestoreReplace)
	require.NoError(t, err)
	assert.Equal(t, before, snapshot(t, env))

	// Restored articles still decrypt
	got, err := env.services.Article().Get(ctx, root, "a3")
	require.NoError(t, err)
	assert.Equal(t, "Everywhere", got.Title)
}

func TestReplaceRestoreIntoEmptyStore(t *testing.T) {
	source := newTestEnv(t)
	ctx := context.Background()
	root := seedCatalog(t, source)

	blob, err := source.services.Backup().Backup(ctx, root, nil)
	require.NoError(t, err)

	// Same key, different store
	target := newTestEnvWithKey(t, newTestDB(t), 7)
	_, err = target.services.Backup().Restore(ctx, root, blob, models.RestoreReplace)
	require.NoError(t, err)
	assert.Equal(t, snapshot(t, source), snapshot(t, target))

	// Group ids keep counting past the restored ones
	target.user(t, "root", models.RoleAdmin)
	details, err := target.services.Group().CreateGroup(ctx, root, &CreateGroupRequest{Name: "New"})
	require.NoError(t, err)
	assert.Greater(t, int64(details.ID), int64(2))
}

func TestMergeRestoreKeepsExistingArticles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.user(t, "root", models.RoleAdmin)
	env.user(t, "alice", models.RoleInstructor)

	g1 := env.group(t, 1, "One", false)
	env.member(t, g1, "alice", true)
	env.article(t, "a", "C2", g1)

	blob, err := env.services.Backup().Backup(ctx, root, nil)
	require.NoError(t, err)

	// Diverge: the article now says C1 and lives in g2, alice left g1
	require.NoError(t, env.repo.Article().Delete(ctx, nil, "a"))
	g2 := env.group(t, 2, "Two", false)
	env.article(t, "a", "C1", g2)
	require.NoError(t, env.repo.Membership().Remove(ctx, nil, g1, "alice"))
	name := "Renamed"
	_, err = env.services.Group().UpdateGroup(ctx, root, g1, &UpdateGroupRequest{Name: &name})
	require.NoError(t, err)

	report, err := env.services.Backup().Restore(ctx, root, blob, models.RestoreMerge)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ArticlesSkipped)
	assert.Equal(t, 0, report.ArticlesInserted)
	assert.Equal(t, 1, report.GroupsUpdated)
	assert.Equal(t, 1, report.LinksApplied)
	assert.Equal(t, 1, report.MembershipsApplied)

	got, err := env.services.Article().Get(ctx, root, "a")
	require.NoError(t, err)
	assert.Equal(t, "C1", got.Title)
	assert.Equal(t, []models.GroupID{g1, g2}, got.Groups)

	group, err := env.repo.Group().GetByID(ctx, nil, g1)
	require.NoError(t, err)
	assert.Equal(t, "One", group.Name)

	assert.Equal(t, []models.GroupMembership{{GroupID: g1, UserID: "alice", IsAdmin: true}}, env.memberships(t))

	// Merging again changes nothing
	before := snapshot(t, env)
	_, err = env.services.Backup().Restore(ctx, root, blob, models.RestoreMerge)
	require.NoError(t, err)
	assert.Equal(t, before, snapshot(t, env))
}

func TestRestoreRejectsMalformedBlobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := seedCatalog(t, env)
	svc := env.services.Backup()

	blob, err := svc.Backup(ctx, root, nil)
	require.NoError(t, err)
	before := snapshot(t, env)

	var envelope models.BackupEnvelope
	require.NoError(t, cbor.Unmarshal(blob, &envelope))
	envelope.Payload[len(envelope.Payload)-1] ^= 0xff
	corrupted, err := cbor.Marshal(&envelope)
	require.NoError(t, err)

	envelope.Payload[len(envelope.Payload)-1] ^= 0xff
	envelope.Version = 99
	future, err := cbor.Marshal(&envelope)
	require.NoError(t, err)

	danglingLink := sealBackup(t, env, &models.BackupData{
		Groups: []models.ArticleGroup{{ID: 1, Name: "CS"}},
		Links:  []models.GroupArticleLink{{GroupID: 1, ArticleID: "ghost"}},
	})
	badIV := sealBackup(t, env, &models.BackupData{
		Articles: []models.EncryptedArticle{{ID: "x", IV: "short"}},
	})

	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not cbor")},
		{"truncated", blob[:len(blob)/2]},
		{"checksum mismatch", corrupted},
		{"unknown version", future},
		{"link to missing article", danglingLink},
		{"undecodable iv", badIV},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, mode := range []models.RestoreMode{models.RestoreReplace, models.RestoreMerge} {
				_, err := svc.Restore(ctx, root, tt.blob, mode)
				assert.ErrorIs(t, err, ErrMalformedBackup)
			}
			assert.Equal(t, before, snapshot(t, env))
		})
	}
	assert.Empty(t, env.publisher.EventsOfType(events.BackupRestored))
}

func TestRestoreRejectsForeignKey(t *testing.T) {
	source := newTestEnv(t)
	ctx := context.Background()
	root := seedCatalog(t, source)

	blob, err := source.services.Backup().Backup(ctx, root, nil)
	require.NoError(t, err)

	other := newTestEnvWithKey(t, newTestDB(t), 8)
	_, err = other.services.Backup().Restore(ctx, root, blob, models.RestoreReplace)
	assert.ErrorIs(t, err, ErrBackupKeyMismatch)
	assert.Empty(t, other.links(t))
}

func TestRestoreRollsBackAdminlessProtectedGroup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := seedCatalog(t, env)
	before := snapshot(t, env)

	blob := sealBackup(t, env, &models.BackupData{
		Groups:      []models.ArticleGroup{{ID: 1, Name: "CS", Protected: true}},
		Memberships: []models.GroupMembership{{GroupID: 1, UserID: "bob"}},
	})
	_, err := env.services.Backup().Restore(ctx, root, blob, models.RestoreReplace)
	var violation *LastAdminViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, models.GroupID(1), violation.GroupID)
	assert.Equal(t, before, snapshot(t, env))
}

func TestRestoreRequiresPlatformAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := seedCatalog(t, env)
	alice := &models.User{ID: "alice", Roles: models.NewRoleSet(models.RoleInstructor)}

	blob, err := env.services.Backup().Backup(ctx, root, nil)
	require.NoError(t, err)

	_, err = env.services.Backup().Restore(ctx, alice, blob, models.RestoreMerge)
	assert.True(t, IsPermissionError(err))

	_, err = env.services.Backup().Restore(ctx, root, blob, models.RestoreMode("overwrite"))
	assert.Error(t, err)
}

func TestFilteredBackup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedCatalog(t, env)
	svc := env.services.Backup()

	alice := &models.User{ID: "alice", Roles: models.NewRoleSet(models.RoleInstructor)}
	carol := env.user(t, "carol", models.RoleInstructor)

	blob, err := svc.Backup(ctx, alice, []models.GroupID{2})
	require.NoError(t, err)
	envelope, data := inspect(t, env, blob)
	assert.Equal(t, []models.GroupID{2}, envelope.GroupFilter)
	require.Len(t, data.Groups, 1)
	assert.Len(t, data.Articles, 2)
	assert.Equal(t, []models.GroupArticleLink{{GroupID: 2, ArticleID: "a2"}, {GroupID: 2, ArticleID: "a3"}}, data.Links)
	assert.Equal(t, []models.GroupMembership{{GroupID: 2, UserID: "alice", IsAdmin: true}}, data.Memberships)

	// carol is not in the protected group
	_, err = svc.Backup(ctx, carol, []models.GroupID{1})
	assert.True(t, IsPermissionError(err))

	_, err = svc.Backup(ctx, alice, []models.GroupID{42})
	assert.ErrorIs(t, err, ErrGroupNotFound)

	// Without a filter carol gets what she can see
	blob, err = svc.Backup(ctx, carol, nil)
	require.NoError(t, err)
	_, data = inspect(t, env, blob)
	assert.Equal(t, []models.ArticleGroup{{ID: 2, Name: "Public"}}, data.Groups)
	assert.Len(t, data.Articles, 2)

	student := &models.User{ID: "bob", Roles: models.NewRoleSet(models.RoleStudent)}
	_, err = svc.Backup(ctx, student, nil)
	assert.True(t, IsPermissionError(err))
}

func TestBackupFileRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := seedCatalog(t, env)
	svc := env.services.Backup()
	before := snapshot(t, env)

	path := filepath.Join(t.TempDir(), "catalog.backup")
	require.NoError(t, svc.BackupToFile(ctx, root, nil, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = svc.RestoreFromFile(ctx, root, path, models.RestoreReplace)
	require.NoError(t, err)
	assert.Equal(t, before, snapshot(t, env))

	_, err = svc.RestoreFromFile(ctx, root, filepath.Join(t.TempDir(), "missing"), models.RestoreReplace)
	assert.Error(t, err)
}

func TestBackupFileOverCapIsNotRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := seedCatalog(t, env)
	svc := env.services.Backup()

	path := filepath.Join(t.TempDir(), "catalog.backup")
	require.NoError(t, svc.BackupToFile(ctx, root, nil, path))
	envelope, data, err := svc.InspectFile(path)
	require.NoError(t, err)
	assert.Equal(t, BackupFormatVersion, envelope.Version)
	assert.NotEmpty(t, data.Articles)

	// Sparse file: large on stat, nothing on disk
	huge := filepath.Join(t.TempDir(), "huge.backup")
	f, err := os.Create(huge)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(DefaultBackupMaxBytes+1))
	require.NoError(t, f.Close())

	_, _, err = svc.InspectFile(huge)
	assert.ErrorIs(t, err, ErrMalformedBackup)
	_, err = svc.RestoreFromFile(ctx, root, huge, models.RestoreMerge)
	assert.ErrorIs(t, err, ErrMalformedBackup)

	_, _, err = svc.InspectFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
