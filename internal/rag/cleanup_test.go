package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staffchat/internal/config"
	"staffchat/internal/model"
	"staffchat/internal/queue"
)

type fakeIndexStore struct {
	entries []model.RAGIndexEntry
	deleted []uint
}

func (f *fakeIndexStore) ListByDocumentIDs(ids []uint) ([]model.RAGIndexEntry, error) {
	return f.entries, nil
}

func (f *fakeIndexStore) DeleteByDocumentIDs(ids []uint) error {
	f.deleted = ids
	return nil
}

func TestRemoveDocuments_DeletesVectorsRowsAndJobs(t *testing.T) {
	var gotPaths []string
	var gotBodies []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotBodies = append(gotBodies, body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	jobs, err := queue.New(config.NewWorkspacePaths(t.TempDir()))
	require.NoError(t, err)

	parsedFile := filepath.Join(jobs.Paths().Parsed, "doc_7.txt")
	require.NoError(t, os.WriteFile(parsedFile, []byte("parsed text"), 0o644))
	jobPath, _, err := jobs.EnqueueNamed("job_doc7.json", map[string]any{
		"document_id": 7,
		"file_path":   parsedFile,
	})
	require.NoError(t, err)
	_, _, err = jobs.EnqueueNamed("job_other.json", map[string]any{"document_id": 99})
	require.NoError(t, err)

	store := &fakeIndexStore{entries: []model.RAGIndexEntry{
		{DocumentID: 7, Collection: "chat-docs", Ready: true},
		{DocumentID: 8, Collection: "", Ready: true},
	}}
	cleaner := NewCleaner(store, NewQdrantClient(server.URL, "secret"), jobs, "default-coll")

	result, err := cleaner.RemoveDocuments(context.Background(), []uint{7, 8, 7})
	require.NoError(t, err)

	assert.Equal(t, 2, result.DocCount)
	assert.Equal(t, 2, result.QdrantBatches)
	assert.ElementsMatch(t, []string{"/collections/chat-docs/points/delete", "/collections/default-coll/points/delete"}, gotPaths)
	assert.Equal(t, []uint{7, 8}, store.deleted)
	assert.Equal(t, []string{jobPath}, result.RemovedJobs)
	assert.NoFileExists(t, parsedFile)

	// The unrelated job survives.
	pending, err := jobs.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "job_other.json", filepath.Base(pending[0]))
}

func TestRemoveDocuments_QdrantFailureAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "collection missing", http.StatusNotFound)
	}))
	defer server.Close()

	jobs, err := queue.New(config.NewWorkspacePaths(t.TempDir()))
	require.NoError(t, err)

	store := &fakeIndexStore{entries: []model.RAGIndexEntry{{DocumentID: 5, Collection: "c"}}}
	cleaner := NewCleaner(store, NewQdrantClient(server.URL, ""), jobs, "c")

	_, err = cleaner.RemoveDocuments(context.Background(), []uint{5})
	require.Error(t, err)
	// Index rows must survive a failed vector delete so a retry still finds
	// the collection mapping.
	assert.Nil(t, store.deleted)
}

func TestRemoveDocuments_NoIDs(t *testing.T) {
	jobs, err := queue.New(config.NewWorkspacePaths(t.TempDir()))
	require.NoError(t, err)
	cleaner := NewCleaner(&fakeIndexStore{}, NewQdrantClient("http://127.0.0.1:1", ""), jobs, "c")

	result, err := cleaner.RemoveDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.DocCount)
}

func TestStatusStore_RoundTripAndClear(t *testing.T) {
	store := NewStatusStore(filepath.Join(t.TempDir(), "status"))

	require.NoError(t, store.Write(12, "processing", "parse", "extracting text", 0.4))
	status, err := store.Read(12)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, uint(12), status.DocumentID)
	assert.Equal(t, "parse", status.Stage)
	assert.InDelta(t, 0.4, status.Progress, 1e-9)

	require.NoError(t, store.Clear(12))
	status, err = store.Read(12)
	require.NoError(t, err)
	assert.Nil(t, status)
}
