package repository

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"staffchat/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(doc *model.Document) error {
	if err := r.db.Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Update(doc *model.Document) error {
	if err := r.db.Save(doc).Error; err != nil {
		return fmt.Errorf("update document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(id uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) ListByChatID(chatID string) ([]model.Document, error) {
	var docs []model.Document
	if err := r.db.Where("chat_id = ? AND deleted = ?", chatID, false).Order("id ASC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return docs, nil
}

// ListEnabledByChatID returns the documents the prompt planner considers.
func (r *DocumentRepository) ListEnabledByChatID(chatID string) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Where("chat_id = ? AND deleted = ? AND enabled = ?", chatID, false, true).
		Order("id ASC").Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("list enabled documents failed: %w", err)
	}
	return docs, nil
}

// ListViewsByChatID returns each live document joined with its readiness.
func (r *DocumentRepository) ListViewsByChatID(chatID string) ([]model.DocumentView, error) {
	docs, err := r.ListByChatID(chatID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	var entries []model.RAGIndexEntry
	if err := r.db.Where("document_id IN ?", ids).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list index entries failed: %w", err)
	}
	indexed := make(map[uint]bool, len(entries))
	indexReady := make(map[uint]bool, len(entries))
	for _, e := range entries {
		indexed[e.DocumentID] = true
		if e.Ready {
			indexReady[e.DocumentID] = true
		}
	}

	views := make([]model.DocumentView, 0, len(docs))
	for _, d := range docs {
		views = append(views, model.DocumentView{
			Document: d,
			Ready:    documentReady(&d, indexed[d.ID], indexReady[d.ID]),
		})
	}
	return views, nil
}

// Ready reports readiness for one document.
func (r *DocumentRepository) Ready(doc *model.Document) (bool, error) {
	var entries []model.RAGIndexEntry
	if err := r.db.Where("document_id = ?", doc.ID).Find(&entries).Error; err != nil {
		return false, fmt.Errorf("list index entries failed: %w", err)
	}
	hasIndex := len(entries) > 0
	ready := false
	for _, e := range entries {
		if e.Ready {
			ready = true
			break
		}
	}
	return documentReady(doc, hasIndex, ready), nil
}

// documentReady mirrors the readiness rules the UI relies on: images and
// inline sources never need indexing, indexed documents follow the index
// state, and un-indexed documents count as ready once text exists and no
// parse is in flight.
func documentReady(doc *model.Document, hasIndex, indexReady bool) bool {
	if doc.IsImage() {
		return true
	}
	switch doc.Source {
	case model.DocumentSourceInline, model.DocumentSourceImage, model.DocumentSourcePaste:
		return true
	}
	if indexReady {
		return true
	}
	if !hasIndex {
		hasText := doc.FullTextAvailable || doc.TokenLength > 0 || strings.TrimSpace(doc.Content) != ""
		inFlight := doc.Source == model.DocumentSourceParsing || doc.Source == model.DocumentSourceUploading
		if hasText && !inFlight {
			return true
		}
	}
	return false
}

func (r *DocumentRepository) SetEnabled(id uint, chatID string, enabled bool) error {
	err := r.db.Model(&model.Document{}).Where("id = ? AND chat_id = ?", id, chatID).
		Update("enabled", enabled).Error
	if err != nil {
		return fmt.Errorf("set document enabled failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) SoftDelete(id uint, chatID string) error {
	err := r.db.Model(&model.Document{}).Where("id = ? AND chat_id = ?", id, chatID).
		Update("deleted", true).Error
	if err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}
