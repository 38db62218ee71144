package model

import "time"

// Chat is one conversation. The primary key is a GUID so chat links can be
// shared without exposing a sequence.
type Chat struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	User            string    `gorm:"size:64;not null;index" json:"user"`
	Title           string    `gorm:"size:256;not null" json:"title"`
	Deployment      string    `gorm:"size:64" json:"deployment"`
	Temperature     float64   `gorm:"default:0.7" json:"temperature"`
	ReasoningEffort string    `gorm:"size:16" json:"reasoning_effort"`
	Verbosity       string    `gorm:"size:16" json:"verbosity"`
	Summary         string    `gorm:"type:longtext" json:"-"` // JSON blob from the summary worker
	NeedsTitle      bool      `gorm:"default:true" json:"-"`
	Deleted         bool      `gorm:"default:false;index" json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ChatThread caches the remote assistant thread created for a chat so later
// turns reuse it instead of replaying history again.
type ChatThread struct {
	ChatID    string    `gorm:"primaryKey;size:36" json:"chat_id"`
	ThreadID  string    `gorm:"size:128;not null" json:"thread_id"`
	CreatedAt time.Time `json:"created_at"`
}
