package rag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is the per-document progress blob background workers publish so the
// web tier can show parsing/indexing state.
type Status struct {
	DocumentID uint    `json:"document_id"`
	Status     string  `json:"status"`
	Stage      string  `json:"stage,omitempty"`
	Progress   float64 `json:"progress,omitempty"`
	Message    string  `json:"message,omitempty"`
	UpdatedAt  string  `json:"updated_at"`
}

// StatusStore reads and writes status files under the workspace status dir.
type StatusStore struct {
	dir string
}

func NewStatusStore(dir string) *StatusStore {
	return &StatusStore{dir: dir}
}

func (s *StatusStore) path(documentID uint) string {
	return filepath.Join(s.dir, fmt.Sprintf("doc_%d.json", documentID))
}

func (s *StatusStore) Write(documentID uint, status, stage, message string, progress float64) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create status dir failed: %w", err)
	}
	payload := Status{
		DocumentID: documentID,
		Status:     status,
		Stage:      stage,
		Progress:   progress,
		Message:    message,
		UpdatedAt:  time.Now().Format(time.RFC3339),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	path := s.path(documentID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write status temp file failed: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish status file failed: %w", err)
	}
	return nil
}

func (s *StatusStore) Read(documentID uint) (*Status, error) {
	raw, err := os.ReadFile(s.path(documentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read status file failed: %w", err)
	}
	var status Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("decode status file failed: %w", err)
	}
	return &status, nil
}

func (s *StatusStore) Clear(documentID uint) error {
	if err := os.Remove(s.path(documentID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear status file failed: %w", err)
	}
	return nil
}
