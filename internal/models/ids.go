package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// GroupID is a typed ID for article groups
type GroupID int64

func ParseGroupID(s string) (GroupID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid group ID %q", s)
	}
	return GroupID(v), nil
}

// ParseGroupIDs parses a comma separated list such as "1,2,5".
func ParseGroupIDs(s string) ([]GroupID, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]GroupID, 0, len(parts))
	for _, p := range parts {
		id, err := ParseGroupID(p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (g GroupID) String() string { return strconv.FormatInt(int64(g), 10) }
func (g GroupID) IsZero() bool   { return g == 0 }

// ArticleID is a typed ID for help articles. New articles get a UUID but
// restored rows may carry any opaque identifier.
type ArticleID string

func NewArticleID() ArticleID {
	return ArticleID(uuid.NewString())
}

func ParseArticleID(s string) (ArticleID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("invalid article ID: empty")
	}
	if len(s) > 64 {
		return "", fmt.Errorf("invalid article ID: longer than 64 characters")
	}
	return ArticleID(s), nil
}

func (a ArticleID) String() string { return string(a) }
func (a ArticleID) IsZero() bool   { return a == "" }

// GroupIDSet de-duplicates group ids while keeping first-seen order
func GroupIDSet(ids []GroupID) []GroupID {
	seen := make(map[GroupID]struct{}, len(ids))
	out := make([]GroupID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ArticleIDSet de-duplicates article ids while keeping first-seen order
func ArticleIDSet(ids []ArticleID) []ArticleID {
	seen := make(map[ArticleID]struct{}, len(ids))
	out := make([]ArticleID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
