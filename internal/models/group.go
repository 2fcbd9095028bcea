package models

// ArticleGroup collects articles. A protected group restricts visibility
// and mutation of its articles to its members.
type ArticleGroup struct {
	ID        GroupID `json:"id" gorm:"primaryKey"`
	Name      string  `json:"name" gorm:"not null;size:200"`
	Protected bool    `json:"protected" gorm:"column:is_protected;not null"`
}

func (ArticleGroup) TableName() string {
	return "article_groups"
}

// GroupMembership is the (group, user, isGroupAdmin) relation
type GroupMembership struct {
	GroupID GroupID `json:"group_id" gorm:"primaryKey;autoIncrement:false"`
	UserID  string  `json:"user_id" gorm:"primaryKey;size:255"`
	IsAdmin bool    `json:"is_admin" gorm:"column:is_admin;not null"`

	// Username is filled from the identity directory for listings
	Username string `json:"username,omitempty" gorm:"-"`
}

func (GroupMembership) TableName() string {
	return "article_group_users"
}

// GroupArticleLink associates an article with a group
type GroupArticleLink struct {
	GroupID   GroupID   `json:"group_id" gorm:"primaryKey;autoIncrement:false"`
	ArticleID ArticleID `json:"article_id" gorm:"primaryKey;size:64"`
}

func (GroupArticleLink) TableName() string {
	return "article_group_articles"
}

// GroupDetails is a group together with its members, used for listings
type GroupDetails struct {
	ArticleGroup
	Members      []GroupMembership `json:"members"`
	ArticleCount int64             `json:"article_count"`
}

// AdminCount counts members flagged as group admin
func AdminCount(members []GroupMembership) int {
	n := 0
	for _, m := range members {
		if m.IsAdmin {
			n++
		}
	}
	return n
}
