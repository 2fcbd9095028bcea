package models

import (
	"strings"
)

type ArticleLevel string

const (
	LevelBeginner     ArticleLevel = "BEGINNER"
	LevelIntermediate ArticleLevel = "INTERMEDIATE"
	LevelAdvanced     ArticleLevel = "ADVANCED"
	LevelExpert       ArticleLevel = "EXPERT"
)

var AllLevels = []ArticleLevel{LevelBeginner, LevelIntermediate, LevelAdvanced, LevelExpert}

func (l ArticleLevel) IsValid() bool {
	for _, v := range AllLevels {
		if l == v {
			return true
		}
	}
	return false
}

// HelpArticle is the decrypted, in-memory form of an article. It is never
// persisted or cached as is.
type HelpArticle struct {
	ID         ArticleID    `json:"id"`
	Title      string       `json:"title"`
	Authors    []string     `json:"authors"`
	Abstract   string       `json:"abstract"`
	Keywords   []string     `json:"keywords"`
	Body       string       `json:"body"`
	References []string     `json:"references"`
	Level      ArticleLevel `json:"level"`
	Groups     []GroupID    `json:"groups"`
}

// EncryptedArticle is the persisted row. Every content field, including the
// level, holds base64 ciphertext produced with IV.
type EncryptedArticle struct {
	ID         ArticleID `json:"uuid" gorm:"column:uuid;primaryKey;size:64"`
	Title      string    `json:"title" gorm:"type:text;not null"`
	Authors    string    `json:"authors" gorm:"type:text;not null"`
	Abstract   string    `json:"abstract" gorm:"column:abstract;type:text;not null"`
	Keywords   string    `json:"keywords" gorm:"type:text;not null"`
	Body       string    `json:"body" gorm:"type:text;not null"`
	References string    `json:"references" gorm:"column:references;type:text;not null"`
	Level      string    `json:"level" gorm:"type:text;not null"`
	IV         string    `json:"iv" gorm:"column:iv;size:64;not null"`
}

func (EncryptedArticle) TableName() string {
	return "articles"
}

// JoinLines and SplitLines encode multi-valued fields (authors, keywords,
// references) as newline separated text before encryption. The round trip
// holds only for non-empty single-line entries, which request validation
// enforces.
func JoinLines(values []string) string {
	return strings.Join(values, "\n")
}

func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
