package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
)

// ArticlePostgreSQL implements the ArticleRepository interface
type ArticlePostgreSQL struct {
	db *gorm.DB
}

func NewArticlePostgreSQL(db *gorm.DB) repositories.ArticleRepository {
	return &ArticlePostgreSQL{db: db}
}

func (a *ArticlePostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	return pickDB(a.db, tx)
}

// ===== ARTICLE ROWS =====

func (a *ArticlePostgreSQL) Create(ctx context.Context, tx *gorm.DB, article *models.EncryptedArticle) error {
	if err := a.getDB(tx).WithContext(ctx).Create(article).Error; err != nil {
		return handleDBError(err, "create article")
	}
	return nil
}

func (a *ArticlePostgreSQL) Update(ctx context.Context, tx *gorm.DB, article *models.EncryptedArticle) error {
	result := a.getDB(tx).WithContext(ctx).
		Model(&models.EncryptedArticle{}).
		Where("uuid = ?", string(article.ID)).
		Select("title", "authors", "abstract", "keywords", "body", "references", "level", "iv").
		Updates(article)
	if result.Error != nil {
		return handleDBError(result.Error, "update article")
	}
	if result.RowsAffected == 0 {
		return handleDBError(gorm.ErrRecordNotFound, "update article")
	}
	return nil
}

func (a *ArticlePostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id models.ArticleID) error {
	db := a.getDB(tx).WithContext(ctx)
	if err := db.Where("article_id = ?", string(id)).Delete(&models.GroupArticleLink{}).Error; err != nil {
		return handleDBError(err, "delete article links")
	}
	result := db.Where("uuid = ?", string(id)).Delete(&models.EncryptedArticle{})
	if result.Error != nil {
		return handleDBError(result.Error, "delete article")
	}
	if result.RowsAffected == 0 {
		return handleDBError(gorm.ErrRecordNotFound, "delete article")
	}
	return nil
}

func (a *ArticlePostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id models.ArticleID) (*models.EncryptedArticle, error) {
	var article models.EncryptedArticle
	if err := a.getDB(tx).WithContext(ctx).Where("uuid = ?", string(id)).First(&article).Error; err != nil {
		return nil, handleDBError(err, "get article by id")
	}
	return &article, nil
}

func (a *ArticlePostgreSQL) GetByIDs(ctx context.Context, tx *gorm.DB, ids []models.ArticleID) ([]*models.EncryptedArticle, error) {
	if len(ids) == 0 {
		return []*models.EncryptedArticle{}, nil
	}
	var articles []*models.EncryptedArticle
	if err := a.getDB(tx).WithContext(ctx).
		Where("uuid IN ?", articleIDsToStrings(ids)).
		Order("uuid").
		Find(&articles).Error; err != nil {
		return nil, handleDBError(err, "get articles by ids")
	}
	return articles, nil
}

func (a *ArticlePostgreSQL) Exists(ctx context.Context, tx *gorm.DB, id models.ArticleID) (bool, error) {
	var count int64
	if err := a.getDB(tx).WithContext(ctx).
		Model(&models.EncryptedArticle{}).
		Where("uuid = ?", string(id)).
		Count(&count).Error; err != nil {
		return false, handleDBError(err, "check article exists")
	}
	return count > 0, nil
}

func (a *ArticlePostgreSQL) List(ctx context.Context, tx *gorm.DB) ([]*models.EncryptedArticle, error) {
	var articles []*models.EncryptedArticle
	if err := a.getDB(tx).WithContext(ctx).Order("uuid").Find(&articles).Error; err != nil {
		return nil, handleDBError(err, "list articles")
	}
	return articles, nil
}

func (a *ArticlePostgreSQL) DeleteAll(ctx context.Context, tx *gorm.DB) error {
	if err := a.getDB(tx).WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.EncryptedArticle{}).Error; err != nil {
		return handleDBError(err, "delete all articles")
	}
	return nil
}

// ===== LINKS =====

// ReplaceLinks deletes every link of the article and inserts the new set.
// Callers run it in the same transaction as the article row write.
func (a *ArticlePostgreSQL) ReplaceLinks(ctx context.Context, tx *gorm.DB, id models.ArticleID, groups []models.GroupID) error {
	db := a.getDB(tx).WithContext(ctx)
	if err := db.Where("article_id = ?", string(id)).Delete(&models.GroupArticleLink{}).Error; err != nil {
		return handleDBError(err, "delete article links")
	}

	groups = models.GroupIDSet(groups)
	if len(groups) == 0 {
		return nil
	}
	links := make([]models.GroupArticleLink, 0, len(groups))
	for _, g := range groups {
		links = append(links, models.GroupArticleLink{GroupID: g, ArticleID: id})
	}
	if err := db.Create(&links).Error; err != nil {
		return handleDBError(err, "insert article links")
	}
	return nil
}

func (a *ArticlePostgreSQL) GroupsForArticle(ctx context.Context, tx *gorm.DB, id models.ArticleID) ([]models.GroupID, error) {
	var groups []models.GroupID
	if err := a.getDB(tx).WithContext(ctx).
		Model(&models.GroupArticleLink{}).
		Where("article_id = ?", string(id)).
		Order("group_id").
		Pluck("group_id", &groups).Error; err != nil {
		return nil, handleDBError(err, "get groups for article")
	}
	return groups, nil
}

func (a *ArticlePostgreSQL) GroupsForArticles(ctx context.Context, tx *gorm.DB, ids []models.ArticleID) (map[models.ArticleID][]models.GroupID, error) {
	result := make(map[models.ArticleID][]models.GroupID, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var links []models.GroupArticleLink
	if err := a.getDB(tx).WithContext(ctx).
		Where("article_id IN ?", articleIDsToStrings(ids)).
		Order("article_id, group_id").
		Find(&links).Error; err != nil {
		return nil, handleDBError(err, "get groups for articles")
	}
	for _, l := range links {
		result[l.ArticleID] = append(result[l.ArticleID], l.GroupID)
	}
	return result, nil
}

func (a *ArticlePostgreSQL) ArticleIDsForGroups(ctx context.Context, tx *gorm.DB, groups []models.GroupID) ([]models.ArticleID, error) {
	if len(groups) == 0 {
		return []models.ArticleID{}, nil
	}
	var ids []models.ArticleID
	if err := a.getDB(tx).WithContext(ctx).
		Model(&models.GroupArticleLink{}).
		Distinct("article_id").
		Where("group_id IN ?", groupIDsToInt64(groups)).
		Order("article_id").
		Pluck("article_id", &ids).Error; err != nil {
		return nil, handleDBError(err, "get article ids for groups")
	}
	return ids, nil
}

func (a *ArticlePostgreSQL) ExclusiveArticles(ctx context.Context, tx *gorm.DB, groupID models.GroupID) ([]models.ArticleID, error) {
	db := a.getDB(tx).WithContext(ctx)
	others := db.Session(&gorm.Session{NewDB: true}).
		Model(&models.GroupArticleLink{}).
		Select("article_id").
		Where("group_id <> ?", int64(groupID))

	var ids []models.ArticleID
	if err := db.Model(&models.GroupArticleLink{}).
		Where("group_id = ?", int64(groupID)).
		Where("article_id NOT IN (?)", others).
		Order("article_id").
		Pluck("article_id", &ids).Error; err != nil {
		return nil, handleDBError(err, "get exclusive articles")
	}
	return ids, nil
}

func (a *ArticlePostgreSQL) LinksForGroups(ctx context.Context, tx *gorm.DB, groups []models.GroupID) ([]models.GroupArticleLink, error) {
	query := a.getDB(tx).WithContext(ctx).Model(&models.GroupArticleLink{})
	if len(groups) > 0 {
		query = query.Where("group_id IN ?", groupIDsToInt64(groups))
	}

	var links []models.GroupArticleLink
	if err := query.Order("group_id, article_id").Find(&links).Error; err != nil {
		return nil, handleDBError(err, "list links")
	}
	return links, nil
}

func (a *ArticlePostgreSQL) InsertLink(ctx context.Context, tx *gorm.DB, link *models.GroupArticleLink) error {
	if err := a.getDB(tx).WithContext(ctx).Create(link).Error; err != nil {
		return handleDBError(err, fmt.Sprintf("insert link %s/%s", link.GroupID, link.ArticleID))
	}
	return nil
}

func (a *ArticlePostgreSQL) DeleteLink(ctx context.Context, tx *gorm.DB, groupID models.GroupID, id models.ArticleID) error {
	if err := a.getDB(tx).WithContext(ctx).
		Where("group_id = ? AND article_id = ?", int64(groupID), string(id)).
		Delete(&models.GroupArticleLink{}).Error; err != nil {
		return handleDBError(err, "delete link")
	}
	return nil
}

func (a *ArticlePostgreSQL) DeleteLinksByGroup(ctx context.Context, tx *gorm.DB, groupID models.GroupID) error {
	if err := a.getDB(tx).WithContext(ctx).
		Where("group_id = ?", int64(groupID)).
		Delete(&models.GroupArticleLink{}).Error; err != nil {
		return handleDBError(err, "delete group links")
	}
	return nil
}

func (a *ArticlePostgreSQL) DeleteAllLinks(ctx context.Context, tx *gorm.DB) error {
	if err := a.getDB(tx).WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.GroupArticleLink{}).Error; err != nil {
		return handleDBError(err, "delete all links")
	}
	return nil
}
