package model

import (
	"strings"
	"time"
)

// Document source tags.
const (
	DocumentSourceUpload = "upload"
	DocumentSourcePaste  = "paste"
	DocumentSourceRAG    = "rag"
	DocumentSourceImage  = "image"
	DocumentSourceInline = "inline" // small enough to skip indexing entirely

	// transient states set while background parsing runs
	DocumentSourceParsing   = "parsing"
	DocumentSourceUploading = "uploading"
)

// Document is one uploaded or pasted artifact attached to a chat. Content
// holds extracted text, or a data URL for images. Soft-deleted rows are kept
// for exchange history; only the cleanup path removes derived index data.
type Document struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	ChatID            string    `gorm:"size:36;not null;index" json:"chat_id"`
	ExchangeID        uint      `gorm:"index" json:"exchange_id,omitempty"` // set when promoted from an oversize submission
	Name              string    `gorm:"size:256;not null" json:"name"`
	Type              string    `gorm:"size:128" json:"type"` // MIME type
	Content           string    `gorm:"type:longtext" json:"-"`
	Source            string    `gorm:"size:32" json:"source"`
	TokenLength       int       `gorm:"column:document_token_length" json:"document_token_length"`
	FullTextAvailable bool      `json:"full_text_available"`
	Enabled           bool      `gorm:"default:true" json:"enabled"`
	Deleted           bool      `gorm:"default:false;index" json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsImage reports whether the document holds image data rather than text.
func (d *Document) IsImage() bool {
	return strings.HasPrefix(d.Type, "image/")
}

// DocumentView is a Document joined with its index state. Ready means the
// external indexing pipeline finished (or was never needed) and the document
// can be served through retrieval.
type DocumentView struct {
	Document
	Ready bool `json:"document_ready"`
}

// RAGIndexEntry records that a document was indexed into a vector-store
// collection. Cleanup deletes these rows together with the remote vectors.
type RAGIndexEntry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DocumentID uint      `gorm:"not null;index" json:"document_id"`
	Collection string    `gorm:"size:128" json:"collection"`
	Ready      bool      `json:"ready"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func (RAGIndexEntry) TableName() string { return "rag_index" }
