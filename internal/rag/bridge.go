package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"

	"staffchat/internal/config"
	"staffchat/internal/prompt"
)

// retrieveRequest is the JSON handed to the retriever subprocess.
type retrieveRequest struct {
	Question         string `json:"question"`
	ChatID           string `json:"chat_id"`
	User             string `json:"user"`
	TopK             int    `json:"top_k"`
	MaxContextTokens int    `json:"max_context_tokens"`
	ConfigPath       string `json:"config_path,omitempty"`
	DocumentIDs      []uint `json:"document_ids,omitempty"`
}

// retrieveResponse is the JSON the retriever prints on stdout.
type retrieveResponse struct {
	OK                 bool              `json:"ok"`
	AugmentedPrompt    string            `json:"augmented_prompt"`
	Citations          []prompt.Citation `json:"citations"`
	LatencyMS          int64             `json:"latency_ms"`
	EmbeddingModelUsed string            `json:"embedding_model_used"`
	EmbeddingModel     string            `json:"embedding_model"`
	Error              string            `json:"error"`
}

// Bridge invokes the external retriever process synchronously. Every failure
// is returned as an error for the caller to log; retrieval must never abort a
// chat turn.
type Bridge struct {
	cfg config.RAGConfig
}

func NewBridge(cfg config.RAGConfig) *Bridge {
	return &Bridge{cfg: cfg}
}

var _ prompt.Retriever = (*Bridge)(nil)

// Retrieve writes the request to a temp JSON file, runs the retriever with a
// hard wall-clock timeout, and parses its stdout. Success requires exit code
// zero, ok=true and a non-empty augmented prompt.
func (b *Bridge) Retrieve(ctx context.Context, question, chatID, user string, documentIDs []uint) (*prompt.RetrievalResult, error) {
	req := retrieveRequest{
		Question:         question,
		ChatID:           chatID,
		User:             user,
		TopK:             b.cfg.TopK,
		MaxContextTokens: b.cfg.MaxContextTokens,
		ConfigPath:       b.cfg.ConfigPath,
		DocumentIDs:      documentIDs,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal retrieve request failed: %w", err)
	}

	tmp, err := os.CreateTemp("", "ragq_*.json")
	if err != nil {
		return nil, fmt.Errorf("create retrieve request file failed: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write retrieve request file failed: %w", err)
	}
	tmp.Close()

	timeout := time.Duration(b.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.cfg.Python, b.cfg.Retriever, "--json", tmp.Name())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runErr != nil {
		return nil, fmt.Errorf("retriever failed after %s: %v (stdout: %s, stderr: %s)",
			elapsed.Round(time.Millisecond), runErr, clip(stdout.String(), 800), clip(stderr.String(), 800))
	}

	var resp retrieveResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("retriever produced invalid JSON: %v (stdout: %s)", err, clip(stdout.String(), 800))
	}
	if !resp.OK || resp.AugmentedPrompt == "" {
		return nil, fmt.Errorf("retriever reported failure: %s (stdout: %s)", resp.Error, clip(stdout.String(), 800))
	}

	model := resp.EmbeddingModelUsed
	if model == "" {
		model = resp.EmbeddingModel
	}
	log.Printf("retrieval ok: chat=%s docs=%d latency=%dms model=%s", chatID, len(documentIDs), resp.LatencyMS, model)

	return &prompt.RetrievalResult{
		AugmentedPrompt: resp.AugmentedPrompt,
		Citations:       resp.Citations,
		LatencyMS:       resp.LatencyMS,
		EmbeddingModel:  model,
	}, nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
