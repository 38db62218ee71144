package rag

import (
	"encoding/json"
	"strings"
)

// IndexJob is the payload of one queued indexing job. The upload path fills
// SourcePath; the worker replaces it with FilePath once parsing succeeded so
// an interrupted job can resume at the indexing step.
type IndexJob struct {
	DocumentID      uint   `json:"document_id"`
	ChatID          string `json:"chat_id"`
	User            string `json:"user"`
	Filename        string `json:"filename"`
	SourcePath      string `json:"source_path,omitempty"`
	FilePath        string `json:"file_path,omitempty"`
	ParsedSizeBytes int64  `json:"parsed_size_bytes,omitempty"`
	CleanupTmp      bool   `json:"cleanup_tmp,omitempty"`
	Collection      string `json:"collection,omitempty"`
	EmbeddingModel  string `json:"embedding_model,omitempty"`
	QueueTimestamp  int64  `json:"queue_timestamp"`
}

// IndexResult is the summary line the indexer prints as its final output.
type IndexResult struct {
	OK         bool    `json:"ok"`
	Collection string  `json:"collection"`
	ChunkCount int     `json:"chunk_count"`
	Progress   float64 `json:"progress"`
	Error      string  `json:"error"`
}

// ParseIndexResult scans combined process output backwards for the last line
// that decodes as a result object. Indexers interleave progress chatter on
// stdout, so only the final JSON line is authoritative.
func ParseIndexResult(combined string) *IndexResult {
	lines := strings.FieldsFunc(strings.TrimSpace(combined), func(r rune) bool {
		return r == '\n' || r == '\r'
	})
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var result IndexResult
		if err := json.Unmarshal([]byte(line), &result); err == nil {
			return &result
		}
	}
	return nil
}
