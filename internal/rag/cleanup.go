package rag

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"staffchat/internal/model"
	"staffchat/internal/queue"
)

// indexJobRef is the slice of an indexing job needed to match it to a
// document during cleanup.
type indexJobRef struct {
	DocumentID uint   `json:"document_id"`
	FilePath   string `json:"file_path"`
}

// IndexStore is the subset of the rag_index repository cleanup depends on.
type IndexStore interface {
	ListByDocumentIDs(documentIDs []uint) ([]model.RAGIndexEntry, error)
	DeleteByDocumentIDs(documentIDs []uint) error
}

// CleanupResult reports what a cleanup pass removed.
type CleanupResult struct {
	DocCount      int
	Collections   map[string]int
	QdrantBatches int
	RemovedJobs   []string
}

// Cleaner removes every derived artifact of a set of documents: vector-store
// points, rag_index rows, pending queue jobs and staged parsed files. Source
// Document rows stay soft-deleted in the database.
type Cleaner struct {
	index             IndexStore
	qdrant            *QdrantClient
	jobs              *queue.JobQueue
	defaultCollection string
}

func NewCleaner(index IndexStore, qdrant *QdrantClient, jobs *queue.JobQueue, defaultCollection string) *Cleaner {
	return &Cleaner{
		index:             index,
		qdrant:            qdrant,
		jobs:              jobs,
		defaultCollection: defaultCollection,
	}
}

// RemoveDocuments tears down index state for the given documents. Vector
// deletion failures abort before any database rows are removed so a retry can
// still find the collection mapping.
func (c *Cleaner) RemoveDocuments(ctx context.Context, documentIDs []uint) (*CleanupResult, error) {
	documentIDs = uniquePositive(documentIDs)
	result := &CleanupResult{Collections: map[string]int{}}
	if len(documentIDs) == 0 {
		return result, nil
	}
	result.DocCount = len(documentIDs)

	entries, err := c.index.ListByDocumentIDs(documentIDs)
	if err != nil {
		return nil, err
	}
	byCollection := map[string][]uint{}
	for _, e := range entries {
		collection := e.Collection
		if collection == "" {
			collection = c.defaultCollection
		}
		byCollection[collection] = append(byCollection[collection], e.DocumentID)
	}

	for collection, ids := range byCollection {
		ids = uniquePositive(ids)
		batches, err := c.qdrant.DeletePoints(ctx, collection, ids)
		result.QdrantBatches += batches
		if err != nil {
			return nil, fmt.Errorf("delete vectors from %s failed: %w", collection, err)
		}
		result.Collections[collection] = len(ids)
	}

	if err := c.index.DeleteByDocumentIDs(documentIDs); err != nil {
		return nil, err
	}

	removed, err := c.removeQueueJobs(documentIDs)
	if err != nil {
		// The index is already gone; report the partial cleanup rather than
		// failing the whole pass.
		log.Printf("cleanup: removing queue jobs failed: %v", err)
	}
	result.RemovedJobs = removed

	return result, nil
}

// removeQueueJobs drops pending indexing jobs that reference any of the
// documents, together with their staged parsed files.
func (c *Cleaner) removeQueueJobs(documentIDs []uint) ([]string, error) {
	pending, err := c.jobs.Pending()
	if err != nil {
		return nil, err
	}

	wanted := make(map[uint]bool, len(documentIDs))
	for _, id := range documentIDs {
		wanted[id] = true
	}
	parsedDir := c.jobs.Paths().Parsed

	var removed []string
	for _, jobPath := range pending {
		var ref indexJobRef
		if err := c.jobs.Load(jobPath, &ref); err != nil {
			continue
		}
		if !wanted[ref.DocumentID] {
			continue
		}
		if ref.FilePath != "" && strings.HasPrefix(ref.FilePath, parsedDir) {
			_ = os.Remove(ref.FilePath)
		}
		if err := c.jobs.Remove(jobPath); err != nil {
			return removed, err
		}
		removed = append(removed, jobPath)
	}
	return removed, nil
}

func uniquePositive(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	var out []uint
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
