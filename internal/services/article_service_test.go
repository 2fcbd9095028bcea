package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/article-service/internal/events"
	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/validator"
)

func articleIDs(articles []*models.HelpArticle) []models.ArticleID {
	ids := make([]models.ArticleID, len(articles))
	for i, a := range articles {
		ids[i] = a.ID
	}
	return ids
}

func TestArticleCreateAndGet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.services.Article()

	alice := env.user(t, "alice", models.RoleInstructor)
	g := env.group(t, 1, "Course", true)
	env.member(t, g, "alice", true)

	created, err := svc.Create(ctx, alice, articleRequest("Reset a password", g, g))
	require.NoError(t, err)
	assert.False(t, created.ID.IsZero())
	assert.Equal(t, []models.GroupID{g}, created.Groups)

	got, err := svc.Get(ctx, alice, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	// Nothing is stored in clear text
	row, err := env.repo.Article().GetByID(ctx, nil, created.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "Reset a password", row.Title)
	assert.NotContains(t, row.Body, "Step one")
	assert.NotEqual(t, string(models.LevelIntermediate), row.Level)

	require.Len(t, env.publisher.EventsOfType(events.ArticleCreated), 1)
}

func TestArticleCreateValidationAndPermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.services.Article()

	alice := env.user(t, "alice", models.RoleInstructor)
	bob := env.user(t, "bob", models.RoleInstructor)
	student := env.user(t, "student", models.RoleStudent)
	private := env.group(t, 1, "Private", true)
	public := env.group(t, 2, "Public", false)
	env.member(t, private, "alice", true)

	_, err := svc.Create(ctx, student, articleRequest("Student article", public))
	assert.True(t, IsPermissionError(err))

	_, err = svc.Create(ctx, alice, articleRequest("No groups"))
	var verrs validator.ValidationErrors
	assert.ErrorAs(t, err, &verrs)

	_, err = svc.Create(ctx, alice, articleRequest("Missing group", 99))
	assert.ErrorIs(t, err, ErrGroupNotFound)

	// bob may publish publicly but not into a protected group they do not run
	_, err = svc.Create(ctx, bob, articleRequest("Public", public))
	assert.NoError(t, err)
	_, err = svc.Create(ctx, bob, articleRequest("Private", private))
	assert.True(t, IsPermissionError(err))

	rows, err := env.repo.Article().List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestArticleUpdateReencrypts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.services.Article()

	alice := env.user(t, "alice", models.RoleInstructor)
	g1 := env.group(t, 1, "One", false)
	g2 := env.group(t, 2, "Two", false)
	env.member(t, g1, "alice", true)

	created, err := svc.Create(ctx, alice, articleRequest("Before", g1))
	require.NoError(t, err)
	before, err := env.repo.Article().GetByID(ctx, nil, created.ID)
	require.NoError(t, err)

	req := articleRequest("After", g1, g2)
	req.Level = models.LevelExpert
	updated, err := svc.Update(ctx, alice, created.ID, req)
	require.NoError(t, err)
	assert.Equal(t, "After", updated.Title)

	after, err := env.repo.Article().GetByID(ctx, nil, created.ID)
	require.NoError(t, err)
	assert.NotEqual(t, before.IV, after.IV)

	got, err := svc.Get(ctx, alice, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "After", got.Title)
	assert.Equal(t, models.LevelExpert, got.Level)
	assert.Equal(t, []models.GroupID{g1, g2}, got.Groups)
}

func TestArticleUpdateRequiresGroupAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.services.Article()

	root := env.user(t, "root", models.RoleAdmin)
	bob := env.user(t, "bob", models.RoleInstructor)
	g := env.group(t, 1, "Course", false)
	env.article(t, "a", "Original", g)

	_, err := svc.Update(ctx, bob, "a", articleRequest("Changed", g))
	assert.True(t, IsPermissionError(err))

	// Platform admins delete but do not edit
	_, err = svc.Update(ctx, root, "a", articleRequest("Changed", g))
	assert.True(t, IsPermissionError(err))

	got, err := svc.Get(ctx, bob, "a")
	require.NoError(t, err)
	assert.Equal(t, "Original", got.Title)
}

func TestArticleDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.services.Article()

	root := env.user(t, "root", models.RoleAdmin)
	student := env.user(t, "student", models.RoleStudent)
	g := env.group(t, 1, "Course", false)
	env.article(t, "a", "Doomed", g)

	assert.True(t, IsPermissionError(svc.Delete(ctx, student, "a")))
	require.NoError(t, svc.Delete(ctx, root, "a"))

	_, err := svc.Get(ctx, root, "a")
	assert.ErrorIs(t, err, ErrArticleNotFound)
	assert.Empty(t, env.links(t))
	assert.ErrorIs(t, svc.Delete(ctx, root, "a"), ErrArticleNotFound)
	assert.Len(t, env.publisher.EventsOfType(events.ArticleDeleted), 1)
}

func TestArticleGetHidesProtected(t *testing.T) {
	env := newTestEnv(t)
	outsider := env.user(t, "outsider", models.RoleStudent)
	g := env.group(t, 1, "Private", true)
	env.article(t, "secret", "Secret", g)

	_, err := env.services.Article().Get(context.Background(), outsider, "secret")
	assert.True(t, IsPermissionError(err))
}

func TestListVisibleToAndByGroups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.services.Article()

	member := env.user(t, "member", models.RoleStudent)
	outsider := env.user(t, "outsider", models.RoleStudent)
	private := env.group(t, 1, "Private", true)
	public := env.group(t, 2, "Public", false)
	env.member(t, private, "member", false)

	env.article(t, "y", "Public", public)
	env.article(t, "z", "Private", private)
	env.article(t, "w", "Unlinked")

	visible, err := svc.ListVisibleTo(ctx, member)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.ArticleID{"y", "z"}, articleIDs(visible))

	visible, err = svc.ListVisibleTo(ctx, outsider)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.ArticleID{"y"}, articleIDs(visible))

	byGroup, err := svc.ListByGroups(ctx, outsider, []models.GroupID{private})
	require.NoError(t, err)
	assert.Empty(t, byGroup)

	byGroup, err = svc.ListByGroups(ctx, member, []models.GroupID{private})
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.ArticleID{"z"}, articleIDs(byGroup))
}

func TestArticleSearch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.services.Article()

	alice := env.user(t, "alice", models.RoleInstructor)
	g1 := env.group(t, 1, "One", false)
	g2 := env.group(t, 2, "Two", false)
	env.member(t, g1, "alice", true)
	env.member(t, g2, "alice", true)

	vpn, err := svc.Create(ctx, alice, articleRequest("Configure the VPN", g1))
	require.NoError(t, err)
	printerReq := articleRequest("Add a printer", g2)
	printerReq.Keywords = []string{"hardware"}
	printerReq.Level = models.LevelBeginner
	printer, err := svc.Create(ctx, alice, printerReq)
	require.NoError(t, err)

	beginner := models.LevelBeginner
	tests := []struct {
		name    string
		filters models.ArticleFilters
		want    []models.ArticleID
	}{
		{"title substring ignores case", models.ArticleFilters{Query: "vpn"}, []models.ArticleID{vpn.ID}},
		{"keyword", models.ArticleFilters{Query: "HARDWARE"}, []models.ArticleID{printer.ID}},
		{"author", models.ArticleFilters{Query: "hopper"}, []models.ArticleID{vpn.ID, printer.ID}},
		{"exact id", models.ArticleFilters{Query: printer.ID.String()}, []models.ArticleID{printer.ID}},
		{"level", models.ArticleFilters{Level: &beginner}, []models.ArticleID{printer.ID}},
		{"group", models.ArticleFilters{Groups: []models.GroupID{g1}}, []models.ArticleID{vpn.ID}},
		{"no match", models.ArticleFilters{Query: "kubernetes"}, []models.ArticleID{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Search(ctx, alice, tt.filters)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, articleIDs(got))
		})
	}
}

func TestDetachFromGroup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.services.Article()

	alice := env.user(t, "alice", models.RoleInstructor)
	student := env.user(t, "student", models.RoleStudent)
	g1 := env.group(t, 1, "One", false)
	g2 := env.group(t, 2, "Two", false)
	env.member(t, g1, "alice", true)
	env.article(t, "x", "Shared", g1, g2)

	assert.True(t, IsPermissionError(svc.DetachFromGroup(ctx, student, "x", g2)))

	require.NoError(t, svc.DetachFromGroup(ctx, alice, "x", g2))
	assert.Equal(t, []models.GroupArticleLink{{GroupID: g1, ArticleID: "x"}}, env.links(t))

	assert.ErrorIs(t, svc.DetachFromGroup(ctx, alice, "x", g2), ErrLinkNotFound)
	assert.True(t, IsPolicyViolation(svc.DetachFromGroup(ctx, alice, "x", g1)))
	assert.Len(t, env.links(t), 1)
}

func TestAttachToGroup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.services.Article()

	alice := env.user(t, "alice", models.RoleInstructor)
	bob := env.user(t, "bob", models.RoleInstructor)
	g1 := env.group(t, 1, "One", false)
	g2 := env.group(t, 2, "Two", false)
	private := env.group(t, 3, "Private", true)
	env.member(t, g1, "alice", true)
	env.member(t, private, "bob", true)
	env.article(t, "x", "Shared later", g1)

	before, err := env.repo.Article().GetByID(ctx, nil, "x")
	require.NoError(t, err)

	t.Run("needs edit right on the article", func(t *testing.T) {
		assert.True(t, IsPermissionError(svc.AttachToGroup(ctx, bob, "x", g2)))
		assert.True(t, IsPermissionError(svc.AttachToGroup(ctx, nil, "x", g2)))
	})

	t.Run("protected target needs group admin", func(t *testing.T) {
		assert.True(t, IsPermissionError(svc.AttachToGroup(ctx, alice, "x", private)))
		assert.Equal(t, []models.GroupArticleLink{{GroupID: g1, ArticleID: "x"}}, env.links(t))
	})

	t.Run("missing article or group", func(t *testing.T) {
		assert.ErrorIs(t, svc.AttachToGroup(ctx, alice, "missing", g2), ErrArticleNotFound)
		assert.ErrorIs(t, svc.AttachToGroup(ctx, alice, "x", 99), ErrGroupNotFound)
	})

	require.NoError(t, svc.AttachToGroup(ctx, alice, "x", g2))
	assert.ElementsMatch(t, []models.GroupArticleLink{
		{GroupID: g1, ArticleID: "x"},
		{GroupID: g2, ArticleID: "x"},
	}, env.links(t))
	require.Len(t, env.publisher.EventsOfType(events.ArticleUpdated), 1)

	// Attaching again is a no-op
	require.NoError(t, svc.AttachToGroup(ctx, alice, "x", g2))
	assert.Len(t, env.links(t), 2)
	assert.Len(t, env.publisher.EventsOfType(events.ArticleUpdated), 1)

	env.member(t, private, "alice", true)
	require.NoError(t, svc.AttachToGroup(ctx, alice, "x", private))
	assert.Len(t, env.links(t), 3)

	// Content and IV are untouched
	after, err := env.repo.Article().GetByID(ctx, nil, "x")
	require.NoError(t, err)
	assert.Equal(t, before.IV, after.IV)
	assert.Equal(t, before.Body, after.Body)
}

func TestArticleListEntriesMustBeNonEmpty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.services.Article()

	alice := env.user(t, "alice", models.RoleInstructor)
	g := env.group(t, 1, "Public", false)
	env.member(t, g, "alice", true)

	tests := []struct {
		name   string
		modify func(req *CreateArticleRequest)
	}{
		{"empty author", func(req *CreateArticleRequest) { req.Authors = []string{""} }},
		{"empty keyword", func(req *CreateArticleRequest) { req.Keywords = []string{"faq", ""} }},
		{"empty reference", func(req *CreateArticleRequest) { req.References = []string{""} }},
		{"author with line break", func(req *CreateArticleRequest) { req.Authors = []string{"Ada\nLovelace"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := articleRequest("Lists", g)
			tt.modify(req)
			_, err := svc.Create(ctx, alice, req)
			var verrs validator.ValidationErrors
			assert.ErrorAs(t, err, &verrs)
		})
	}

	// Lists survive the round trip exactly
	req := articleRequest("Lists", g)
	req.Authors = []string{"Ada Lovelace"}
	req.References = nil
	created, err := svc.Create(ctx, alice, req)
	require.NoError(t, err)
	got, err := svc.Get(ctx, alice, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ada Lovelace"}, got.Authors)
	assert.Equal(t, []string{"howto", "faq"}, got.Keywords)
	assert.Empty(t, got.References)
}

func TestArticleTamperedCiphertext(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reader := env.user(t, "reader", models.RoleStudent)
	g := env.group(t, 1, "Public", false)
	env.article(t, "a", "Fine", g)

	require.NoError(t, env.db.Model(&models.EncryptedArticle{}).
		Where("uuid = ?", "a").
		Update("body", "###not base64###").Error)

	_, err := env.services.Article().Get(ctx, reader, "a")
	assert.ErrorIs(t, err, ErrCryptoFailure)

	_, err = env.services.Article().ListVisibleTo(ctx, reader)
	assert.ErrorIs(t, err, ErrCryptoFailure)
}

func TestArticleWrongKeyFails(t *testing.T) {
	db := newTestDB(t)
	writer := newTestEnvWithKey(t, db, 1)
	reader := newTestEnvWithKey(t, db, 2)
	ctx := context.Background()

	u := writer.user(t, "reader", models.RoleStudent)
	g := writer.group(t, 1, "Public", false)
	writer.article(t, "a", "Encrypted with key one", g)

	got, err := reader.services.Article().Get(ctx, u, "a")
	if err == nil {
		assert.NotEqual(t, "Encrypted with key one", got.Title)
		return
	}
	assert.ErrorIs(t, err, ErrCryptoFailure)
}
