package models

import (
	"time"

	"gorm.io/datatypes"
)

// HelpRequest is a message a user sends when the knowledge base did not
// answer their question, along with what they searched for.
type HelpRequest struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	UserID        string         `json:"user_id" gorm:"not null;index;size:255"`
	Message       string         `json:"message" gorm:"type:text;not null"`
	SearchHistory datatypes.JSON `json:"search_history"`
	CreatedAt     time.Time      `json:"created_at"`
}

func (HelpRequest) TableName() string {
	return "help_requests"
}
