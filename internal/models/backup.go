package models

import "time"

type RestoreMode string

const (
	RestoreMerge   RestoreMode = "merge"
	RestoreReplace RestoreMode = "replace"
)

func (m RestoreMode) IsValid() bool {
	return m == RestoreMerge || m == RestoreReplace
}

// BackupData is the portable snapshot: raw encrypted article rows plus the
// groups, memberships and links that give them meaning.
type BackupData struct {
	Articles    []EncryptedArticle `json:"articles"`
	Groups      []ArticleGroup     `json:"groups"`
	Memberships []GroupMembership  `json:"memberships"`
	Links       []GroupArticleLink `json:"links"`
}

// BackupEnvelope wraps the encoded BackupData with integrity data
type BackupEnvelope struct {
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	CreatedBy      string    `json:"created_by"`
	GroupFilter    []GroupID `json:"group_filter,omitempty"`
	KeyFingerprint []byte    `json:"key_fingerprint"`
	Checksum       []byte    `json:"checksum"`
	Payload        []byte    `json:"payload"`
}

// RestoreReport counts what a restore did per collection
type RestoreReport struct {
	Mode               RestoreMode `json:"mode"`
	GroupsInserted     int         `json:"groups_inserted"`
	GroupsUpdated      int         `json:"groups_updated"`
	ArticlesInserted   int         `json:"articles_inserted"`
	ArticlesSkipped    int         `json:"articles_skipped"`
	LinksApplied       int         `json:"links_applied"`
	MembershipsApplied int         `json:"memberships_applied"`
}
