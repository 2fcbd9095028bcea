package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/SAP-F-2025/article-service/internal/crypto"
	"github.com/SAP-F-2025/article-service/internal/events"
	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
	"github.com/SAP-F-2025/article-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/article-service/internal/validator"
)

type testEnv struct {
	db        *gorm.DB
	repo      repositories.Repository
	keys      *crypto.LockedKeyProvider
	codec     *crypto.Codec
	publisher *events.MockEventPublisher
	services  ServiceManager
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testKey(b byte) *crypto.LockedKeyProvider {
	keys, err := crypto.NewLockedKeyProvider(bytes.Repeat([]byte{b}, 32))
	if err != nil {
		panic(err)
	}
	return keys
}

func newTestDB(t *testing.T) *gorm.DB {
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
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithKey(t, newTestDB(t), 7)
}

// newTestEnvWithKey builds services over db with a key derived from b, so
// two envs can share a store but hold different keys.
func newTestEnvWithKey(t *testing.T, db *gorm.DB, b byte) *testEnv {
	t.Helper()
	logger := testLogger()

	keys := testKey(b)
	t.Cleanup(keys.Destroy)

	repo := postgres.NewPostgreSQLRepository(postgres.RepositoryConfig{DB: db})
	publisher := events.NewMockEventPublisher(logger)

	sm := NewServiceManager(repo, keys, publisher, logger, validator.New(), ServiceManagerConfig{})
	require.NoError(t, sm.Initialize(context.Background()))

	return &testEnv{
		db:        db,
		repo:      repo,
		keys:      keys,
		codec:     crypto.NewCodec(keys),
		publisher: publisher,
		services:  sm,
	}
}

func (e *testEnv) user(t *testing.T, id string, roles ...models.Role) *models.User {
	t.Helper()
	u := &models.User{ID: id, Username: id, FullName: id}
	require.NoError(t, e.db.Create(u).Error)
	for _, r := range roles {
		require.NoError(t, e.db.Create(&models.UserRoleAssignment{UserID: id, Role: r}).Error)
	}
	u.Roles = models.NewRoleSet(roles...)
	return u
}

func (e *testEnv) group(t *testing.T, id models.GroupID, name string, protected bool) models.GroupID {
	t.Helper()
	g := &models.ArticleGroup{ID: id, Name: name, Protected: protected}
	require.NoError(t, e.repo.Group().Create(context.Background(), nil, g))
	return g.ID
}

func (e *testEnv) member(t *testing.T, groupID models.GroupID, userID string, isAdmin bool) {
	t.Helper()
	require.NoError(t, e.repo.Membership().Add(context.Background(), nil, &models.GroupMembership{
		GroupID: groupID, UserID: userID, IsAdmin: isAdmin,
	}))
}

// article stores an encrypted article with the given id and title directly
// through the repository.
func (e *testEnv) article(t *testing.T, id models.ArticleID, title string, groups ...models.GroupID) {
	t.Helper()
	iv := crypto.NewIV()
	enc := func(s string) string {
		out, err := e.codec.EncryptField(s, iv)
		require.NoError(t, err)
		return out
	}
	row := &models.EncryptedArticle{
		ID:         id,
		Title:      enc(title),
		Authors:    enc("Ada Lovelace"),
		Abstract:   enc("abstract of " + title),
		Keywords:   enc("seed"),
		Body:       enc("body of " + title),
		References: enc(""),
		Level:      enc(string(models.LevelBeginner)),
		IV:         crypto.EncodeIV(iv),
	}

	ctx := context.Background()
	require.NoError(t, e.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := e.repo.Article().Create(ctx, tx, row); err != nil {
			return err
		}
		return e.repo.Article().ReplaceLinks(ctx, tx, id, groups)
	}))
}

func (e *testEnv) links(t *testing.T) []models.GroupArticleLink {
	t.Helper()
	links, err := e.repo.Article().LinksForGroups(context.Background(), nil, nil)
	require.NoError(t, err)
	return links
}

func (e *testEnv) memberships(t *testing.T) []models.GroupMembership {
	t.Helper()
	members, err := e.repo.Membership().ListByGroups(context.Background(), nil, nil)
	require.NoError(t, err)
	return members
}

func articleRequest(title string, groups ...models.GroupID) *CreateArticleRequest {
	return &CreateArticleRequest{
		Title:      title,
		Authors:    []string{"Grace Hopper", "Alan Turing"},
		Abstract:   "How to " + title,
		Keywords:   []string{"howto", "faq"},
		Body:       "Step one.\nStep two.",
		References: []string{"https://example.org/manual"},
		Level:      models.LevelIntermediate,
		Groups:     groups,
	}
}
