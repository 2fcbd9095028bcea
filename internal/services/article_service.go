package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/article-service/internal/crypto"
	"github.com/SAP-F-2025/article-service/internal/events"
	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
	"github.com/SAP-F-2025/article-service/internal/validator"
)

const maxLockAttempts = 5

var errStaleLinks = errors.New("article links changed while acquiring locks")

type articleService struct {
	repo      repositories.Repository
	codec     *crypto.Codec
	access    AccessControlService
	locks     *LockManager
	publisher events.EventPublisher
	logger    *slog.Logger
	validator *validator.Validator
}

func NewArticleService(repo repositories.Repository, codec *crypto.Codec, access AccessControlService, locks *LockManager, publisher events.EventPublisher, logger *slog.Logger, validator *validator.Validator) ArticleService {
	return &articleService{
		repo:      repo,
		codec:     codec,
		access:    access,
		locks:     locks,
		publisher: publisher,
		logger:    logger,
		validator: validator,
	}
}

// Create encrypts the article under a fresh IV and links it to its groups
// in one transaction.
func (s *articleService) Create(ctx context.Context, actor *models.User, req *CreateArticleRequest) (*models.HelpArticle, error) {
	s.logger.Info("Creating article", "actor_id", actorID(actor), "groups", groupIDStrings(req.Groups))

	if err := requireRole(actor, "article", "create", models.RoleInstructor, models.RoleAdmin); err != nil {
		return nil, err
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	article := articleFromRequest(models.NewArticleID(), req)
	row, err := s.encrypt(article)
	if err != nil {
		logFailure(s.logger, "Failed to encrypt article", err, "article_id", article.ID)
		return nil, err
	}

	unlock := s.locks.LockGroups(article.Groups...)
	defer unlock()

	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := s.checkTargetGroups(ctx, tx, actor, article.Groups, nil); err != nil {
			return err
		}
		if err := s.repo.Article().Create(ctx, tx, row); err != nil {
			return persistenceError("create article", err)
		}
		if err := s.repo.Article().ReplaceLinks(ctx, tx, article.ID, article.Groups); err != nil {
			return persistenceError("link article", err)
		}
		return nil
	})
	if err != nil {
		logFailure(s.logger, "Failed to create article", err, "article_id", article.ID)
		return nil, err
	}

	publishEvent(ctx, s.publisher, s.logger, events.ArticleCreated, actor, map[string]interface{}{
		"article_id": article.ID.String(),
		"groups":     groupIDStrings(article.Groups),
	})
	s.logger.Info("Article created successfully", "article_id", article.ID)
	return article, nil
}

// Update re-encrypts every field under a new IV and replaces the links
func (s *articleService) Update(ctx context.Context, actor *models.User, id models.ArticleID, req *UpdateArticleRequest) (*models.HelpArticle, error) {
	s.logger.Info("Updating article", "article_id", id, "actor_id", actorID(actor))

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	article := articleFromRequest(id, req)
	row, err := s.encrypt(article)
	if err != nil {
		logFailure(s.logger, "Failed to encrypt article", err, "article_id", id)
		return nil, err
	}

	err = s.withArticleLock(ctx, id, article.Groups, func(tx *gorm.DB, current []models.GroupID) error {
		perms, err := s.access.CanEditOrDelete(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if !perms.CanEdit {
			return NewPermissionError(actorID(actor), id, "article", "edit", "requires group admin of a group containing the article")
		}
		if err := s.checkTargetGroups(ctx, tx, actor, article.Groups, current); err != nil {
			return err
		}

		if err := s.repo.Article().Update(ctx, tx, row); err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrArticleNotFound
			}
			return persistenceError("update article", err)
		}
		if err := s.repo.Article().ReplaceLinks(ctx, tx, id, article.Groups); err != nil {
			return persistenceError("link article", err)
		}
		return nil
	})
	if err != nil {
		logFailure(s.logger, "Failed to update article", err, "article_id", id)
		return nil, err
	}

	publishEvent(ctx, s.publisher, s.logger, events.ArticleUpdated, actor, map[string]interface{}{
		"article_id": id.String(),
		"groups":     groupIDStrings(article.Groups),
	})
	s.logger.Info("Article updated successfully", "article_id", id)
	return article, nil
}

func (s *articleService) Delete(ctx context.Context, actor *models.User, id models.ArticleID) error {
	s.logger.Info("Deleting article", "article_id", id, "actor_id", actorID(actor))

	err := s.withArticleLock(ctx, id, nil, func(tx *gorm.DB, _ []models.GroupID) error {
		perms, err := s.access.CanEditOrDelete(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if !perms.CanDelete {
			return NewPermissionError(actorID(actor), id, "article", "delete", "requires platform ADMIN or group admin")
		}
		if err := s.repo.Article().Delete(ctx, tx, id); err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrArticleNotFound
			}
			return persistenceError("delete article", err)
		}
		return nil
	})
	if err != nil {
		logFailure(s.logger, "Failed to delete article", err, "article_id", id)
		return err
	}

	publishEvent(ctx, s.publisher, s.logger, events.ArticleDeleted, actor, map[string]interface{}{
		"article_id": id.String(),
	})
	s.logger.Info("Article deleted successfully", "article_id", id)
	return nil
}

func (s *articleService) Get(ctx context.Context, actor *models.User, id models.ArticleID) (*models.HelpArticle, error) {
	canView, err := s.access.CanView(ctx, nil, actor, id)
	if err != nil {
		return nil, err
	}
	if !canView {
		return nil, NewPermissionError(actorID(actor), id, "article", "view", "not a member of any protected group containing it")
	}

	row, err := s.repo.Article().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrArticleNotFound
		}
		return nil, persistenceError("get article", err)
	}
	groups, err := s.repo.Article().GroupsForArticle(ctx, nil, id)
	if err != nil {
		return nil, persistenceError("load article links", err)
	}

	article, err := s.decrypt(row, groups)
	if err != nil {
		logFailure(s.logger, "Failed to decrypt article", err, "article_id", id)
		return nil, err
	}
	return article, nil
}

func (s *articleService) ListVisibleTo(ctx context.Context, actor *models.User) ([]*models.HelpArticle, error) {
	rows, err := s.repo.Article().List(ctx, nil)
	if err != nil {
		return nil, persistenceError("list articles", err)
	}
	return s.visibleArticles(ctx, actor, rows)
}

func (s *articleService) ListByGroups(ctx context.Context, actor *models.User, groupIDs []models.GroupID) ([]*models.HelpArticle, error) {
	ids, err := s.repo.Article().ArticleIDsForGroups(ctx, nil, models.GroupIDSet(groupIDs))
	if err != nil {
		return nil, persistenceError("list group articles", err)
	}
	rows, err := s.repo.Article().GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, persistenceError("load articles", err)
	}
	return s.visibleArticles(ctx, actor, rows)
}

// Search matches an exact article id, or a case-insensitive substring of
// title, abstract, authors or keywords, over the articles actor can see.
func (s *articleService) Search(ctx context.Context, actor *models.User, filters models.ArticleFilters) ([]*models.HelpArticle, error) {
	if err := s.validator.Validate(&filters); err != nil {
		return nil, err
	}

	var (
		articles []*models.HelpArticle
		err      error
	)
	if len(filters.Groups) > 0 {
		articles, err = s.ListByGroups(ctx, actor, filters.Groups)
	} else {
		articles, err = s.ListVisibleTo(ctx, actor)
	}
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(strings.TrimSpace(filters.Query))
	out := make([]*models.HelpArticle, 0, len(articles))
	for _, a := range articles {
		if filters.Level != nil && a.Level != *filters.Level {
			continue
		}
		if query != "" && !matchesQuery(a, query) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// AttachToGroup links an existing article to one more group without
// touching its content. The actor needs edit right on the article, and a
// protected target also needs group admin or platform ADMIN. Attaching to a
// group the article is already in changes nothing.
func (s *articleService) AttachToGroup(ctx context.Context, actor *models.User, articleID models.ArticleID, groupID models.GroupID) error {
	s.logger.Info("Attaching article to group", "article_id", articleID, "group_id", groupID, "actor_id", actorID(actor))

	attached := false
	err := s.withArticleLock(ctx, articleID, []models.GroupID{groupID}, func(tx *gorm.DB, current []models.GroupID) error {
		perms, err := s.access.CanEditOrDelete(ctx, tx, actor, articleID)
		if err != nil {
			return err
		}
		if !perms.CanEdit {
			return NewPermissionError(actorID(actor), articleID, "article", "attach", "requires group admin of a group containing the article")
		}
		if err := s.checkTargetGroups(ctx, tx, actor, []models.GroupID{groupID}, current); err != nil {
			return err
		}
		if containsAll(current, []models.GroupID{groupID}) {
			return nil
		}

		link := &models.GroupArticleLink{GroupID: groupID, ArticleID: articleID}
		if err := s.repo.Article().InsertLink(ctx, tx, link); err != nil {
			return persistenceError("insert link", err)
		}
		attached = true
		return nil
	})
	if err != nil {
		logFailure(s.logger, "Failed to attach article", err, "article_id", articleID, "group_id", groupID)
		return err
	}
	if !attached {
		return nil
	}

	publishEvent(ctx, s.publisher, s.logger, events.ArticleUpdated, actor, map[string]interface{}{
		"article_id": articleID.String(),
		"attached":   groupID.String(),
	})
	return nil
}

// DetachFromGroup removes one link. It is refused when the group is the
// article's only group.
func (s *articleService) DetachFromGroup(ctx context.Context, actor *models.User, articleID models.ArticleID, groupID models.GroupID) error {
	s.logger.Info("Detaching article from group", "article_id", articleID, "group_id", groupID, "actor_id", actorID(actor))

	err := s.withArticleLock(ctx, articleID, []models.GroupID{groupID}, func(tx *gorm.DB, _ []models.GroupID) error {
		perms, err := s.access.CanEditOrDelete(ctx, tx, actor, articleID)
		if err != nil {
			return err
		}
		if !perms.CanEdit {
			manage, err := s.access.CanManageGroup(ctx, tx, actor, groupID)
			if err != nil {
				return err
			}
			if !manage {
				return NewPermissionError(actorID(actor), articleID, "article", "detach", "requires edit right on the article or admin of the group")
			}
		}

		if err := s.access.CanDetachArticleFromGroup(ctx, tx, articleID, groupID); err != nil {
			return err
		}
		if err := s.repo.Article().DeleteLink(ctx, tx, groupID, articleID); err != nil {
			return persistenceError("delete link", err)
		}
		return nil
	})
	if err != nil {
		logFailure(s.logger, "Failed to detach article", err, "article_id", articleID, "group_id", groupID)
		return err
	}

	publishEvent(ctx, s.publisher, s.logger, events.ArticleUpdated, actor, map[string]interface{}{
		"article_id": articleID.String(),
		"detached":   groupID.String(),
	})
	return nil
}

// ===== HELPERS =====

// withArticleLock runs fn in a transaction while holding the locks of every
// group the article is linked to plus extra. If the links change between
// reading them and locking, it starts over.
func (s *articleService) withArticleLock(ctx context.Context, id models.ArticleID, extra []models.GroupID, fn func(tx *gorm.DB, current []models.GroupID) error) error {
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		current, err := s.repo.Article().GroupsForArticle(ctx, nil, id)
		if err != nil {
			return persistenceError("load article links", err)
		}

		locked := append(append([]models.GroupID{}, current...), extra...)
		unlock := s.locks.LockGroups(locked...)

		err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
			now, err := s.repo.Article().GroupsForArticle(ctx, tx, id)
			if err != nil {
				return persistenceError("load article links", err)
			}
			if !containsAll(locked, now) {
				return errStaleLinks
			}
			return fn(tx, now)
		})
		unlock()

		if errors.Is(err, errStaleLinks) {
			continue
		}
		return err
	}
	return fmt.Errorf("article %s: %w", id, errStaleLinks)
}

// checkTargetGroups verifies that every target group exists and that actor
// may add articles to the protected ones it is not already linked to.
func (s *articleService) checkTargetGroups(ctx context.Context, tx *gorm.DB, actor *models.User, targets, current []models.GroupID) error {
	for _, id := range targets {
		group, err := s.repo.Group().GetByID(ctx, tx, id)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return fmt.Errorf("group %s: %w", id, ErrGroupNotFound)
			}
			return persistenceError("get group", err)
		}
		if !group.Protected || containsAll(current, []models.GroupID{id}) {
			continue
		}
		ok, err := s.access.CanManageGroup(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if !ok {
			return NewPermissionError(actorID(actor), id, "group", "add article to", "protected group requires group admin or platform ADMIN")
		}
	}
	return nil
}

func (s *articleService) visibleArticles(ctx context.Context, actor *models.User, rows []*models.EncryptedArticle) ([]*models.HelpArticle, error) {
	vis, err := s.access.Visibility(ctx, nil, actor)
	if err != nil {
		return nil, err
	}

	ids := make([]models.ArticleID, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	links, err := s.repo.Article().GroupsForArticles(ctx, nil, ids)
	if err != nil {
		return nil, persistenceError("load article links", err)
	}

	out := make([]*models.HelpArticle, 0, len(rows))
	for _, row := range rows {
		groups := links[row.ID]
		if !vis.Visible(groups) {
			continue
		}
		article, err := s.decrypt(row, groups)
		if err != nil {
			logFailure(s.logger, "Failed to decrypt article", err, "article_id", row.ID)
			return nil, err
		}
		out = append(out, article)
	}
	return out, nil
}

func (s *articleService) encrypt(a *models.HelpArticle) (*models.EncryptedArticle, error) {
	iv := crypto.NewIV()
	row := &models.EncryptedArticle{ID: a.ID, IV: crypto.EncodeIV(iv)}

	fields := []struct {
		dst   *string
		plain string
	}{
		{&row.Title, a.Title},
		{&row.Authors, models.JoinLines(a.Authors)},
		{&row.Abstract, a.Abstract},
		{&row.Keywords, models.JoinLines(a.Keywords)},
		{&row.Body, a.Body},
		{&row.References, models.JoinLines(a.References)},
		{&row.Level, string(a.Level)},
	}
	for _, f := range fields {
		enc, err := s.codec.EncryptField(f.plain, iv)
		if err != nil {
			return nil, err
		}
		*f.dst = enc
	}
	return row, nil
}

// decrypt always uses the IV stored with the row
func (s *articleService) decrypt(row *models.EncryptedArticle, groups []models.GroupID) (*models.HelpArticle, error) {
	iv, err := crypto.DecodeIV(row.IV)
	if err != nil {
		return nil, err
	}

	var title, authors, abstract, keywords, body, references, level string
	fields := []struct {
		dst    *string
		cipher string
	}{
		{&title, row.Title},
		{&authors, row.Authors},
		{&abstract, row.Abstract},
		{&keywords, row.Keywords},
		{&body, row.Body},
		{&references, row.References},
		{&level, row.Level},
	}
	for _, f := range fields {
		plain, err := s.codec.DecryptField(f.cipher, iv)
		if err != nil {
			return nil, err
		}
		*f.dst = plain
	}

	if !models.ArticleLevel(level).IsValid() {
		return nil, fmt.Errorf("%w: article %s has an unknown level", ErrCryptoFailure, row.ID)
	}

	return &models.HelpArticle{
		ID:         row.ID,
		Title:      title,
		Authors:    models.SplitLines(authors),
		Abstract:   abstract,
		Keywords:   models.SplitLines(keywords),
		Body:       body,
		References: models.SplitLines(references),
		Level:      models.ArticleLevel(level),
		Groups:     groups,
	}, nil
}

func articleFromRequest(id models.ArticleID, req *CreateArticleRequest) *models.HelpArticle {
	return &models.HelpArticle{
		ID:         id,
		Title:      req.Title,
		Authors:    req.Authors,
		Abstract:   req.Abstract,
		Keywords:   req.Keywords,
		Body:       req.Body,
		References: req.References,
		Level:      req.Level,
		Groups:     models.GroupIDSet(req.Groups),
	}
}

func matchesQuery(a *models.HelpArticle, query string) bool {
	if strings.ToLower(a.ID.String()) == query {
		return true
	}
	haystack := []string{a.Title, a.Abstract, strings.Join(a.Authors, "\n"), strings.Join(a.Keywords, "\n")}
	for _, h := range haystack {
		if strings.Contains(strings.ToLower(h), query) {
			return true
		}
	}
	return false
}

func containsAll(set, items []models.GroupID) bool {
	for _, item := range items {
		found := false
		for _, s := range set {
			if s == item {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
