package repository

import (
	"fmt"

	"gorm.io/gorm"

	"staffchat/internal/model"
)

type RAGIndexRepository struct {
	db *gorm.DB
}

func NewRAGIndexRepository(db *gorm.DB) *RAGIndexRepository {
	return &RAGIndexRepository{db: db}
}

func (r *RAGIndexRepository) Upsert(entry *model.RAGIndexEntry) error {
	var existing model.RAGIndexEntry
	err := r.db.Where("document_id = ? AND collection = ?", entry.DocumentID, entry.Collection).
		First(&existing).Error
	switch {
	case err == nil:
		entry.ID = existing.ID
		entry.CreatedAt = existing.CreatedAt
		if err := r.db.Save(entry).Error; err != nil {
			return fmt.Errorf("update index entry failed: %w", err)
		}
		return nil
	case err == gorm.ErrRecordNotFound:
		if err := r.db.Create(entry).Error; err != nil {
			return fmt.Errorf("create index entry failed: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("query index entry failed: %w", err)
	}
}

func (r *RAGIndexRepository) ListByDocumentIDs(documentIDs []uint) ([]model.RAGIndexEntry, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	var entries []model.RAGIndexEntry
	if err := r.db.Where("document_id IN ?", documentIDs).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list index entries failed: %w", err)
	}
	return entries, nil
}

// CollectionsForDocuments returns the distinct collections any of the
// documents were indexed into. Cleanup needs these to know where to delete
// vectors from.
func (r *RAGIndexRepository) CollectionsForDocuments(documentIDs []uint) ([]string, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	var collections []string
	err := r.db.Model(&model.RAGIndexEntry{}).
		Where("document_id IN ?", documentIDs).
		Distinct("collection").
		Pluck("collection", &collections).Error
	if err != nil {
		return nil, fmt.Errorf("list collections failed: %w", err)
	}
	return collections, nil
}

func (r *RAGIndexRepository) DeleteByDocumentIDs(documentIDs []uint) error {
	if len(documentIDs) == 0 {
		return nil
	}
	if err := r.db.Where("document_id IN ?", documentIDs).Delete(&model.RAGIndexEntry{}).Error; err != nil {
		return fmt.Errorf("delete index entries failed: %w", err)
	}
	return nil
}
