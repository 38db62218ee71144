package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const qdrantDeleteChunk = 256

// QdrantClient talks to the vector store's REST API. Only point deletion is
// needed here; indexing writes go through the external Python pipeline.
type QdrantClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewQdrantClient(baseURL, apiKey string) *QdrantClient {
	return &QdrantClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// DeletePoints removes every vector tagged with one of the document ids from
// the collection, chunking large id sets. Returns the number of delete
// batches issued.
func (c *QdrantClient) DeletePoints(ctx context.Context, collection string, documentIDs []uint) (int, error) {
	if len(documentIDs) == 0 {
		return 0, nil
	}

	batches := 0
	for start := 0; start < len(documentIDs); start += qdrantDeleteChunk {
		end := start + qdrantDeleteChunk
		if end > len(documentIDs) {
			end = len(documentIDs)
		}
		if err := c.deleteBatch(ctx, collection, documentIDs[start:end]); err != nil {
			return batches, err
		}
		batches++
	}
	return batches, nil
}

func (c *QdrantClient) deleteBatch(ctx context.Context, collection string, ids []uint) error {
	payload := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{
					"key":   "document_id",
					"match": map[string]any{"any": ids},
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal qdrant delete payload failed: %w", err)
	}

	endpoint := fmt.Sprintf("%s/collections/%s/points/delete", c.baseURL, url.PathEscape(collection))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build qdrant delete request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant delete failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("qdrant delete returned HTTP %d: %s", resp.StatusCode, raw)
	}
	return nil
}
