package model

import "time"

// Exchange is one user-prompt/assistant-reply pair. Prompt holds the text the
// user actually typed, even when a shortened placeholder was sent to the
// model; token lengths are precomputed so history budgeting never needs to
// re-estimate.
type Exchange struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	ChatID            string    `gorm:"size:36;not null;index" json:"chat_id"`
	Deployment        string    `gorm:"size:64" json:"deployment"`
	Prompt            string    `gorm:"type:longtext;not null" json:"prompt"`
	Reply             string    `gorm:"type:longtext" json:"reply"`
	PromptTokenLength int       `json:"prompt_token_length"`
	ReplyTokenLength  int       `json:"reply_token_length"`
	ImageName         string    `gorm:"size:256" json:"image_name,omitempty"`
	Links             string    `gorm:"type:text" json:"-"` // serialized download links
	Deleted           bool      `gorm:"default:false;index" json:"-"`
	CreatedAt         time.Time `json:"created_at"`
}
