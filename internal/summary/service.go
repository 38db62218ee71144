package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"staffchat/internal/model"
	"staffchat/internal/prompt"
	"staffchat/internal/queue"
	"staffchat/internal/token"
)

const summarizerSystemPrompt = `You are a project assistant that maintains precise summaries of staff chat transcripts.
Produce objective, concise language. Never invent details. Honour medical and scientific terminology.`

const summarizerInstructions = `Update the summary using the prior summary (which may be empty) and the supplied chat excerpts.
Respond with valid JSON matching this schema:
{
  "overall_summary": string,
  "key_entities": [
    {"type": "date|person|organization|document|figure|other", "name": string, "details": string}
  ],
  "keywords": [string, ...],
  "subject_tags": [string, ...]
}
If information is unavailable for a field, return an empty array or empty string as appropriate.
Do not include markdown, commentary, or additional keys.`

// Job is one queued summarization request. Its file is named after the chat
// id, which is what makes enqueueing idempotent per chat.
type Job struct {
	ChatID         string `json:"chat_id"`
	User           string `json:"user"`
	Deployment     string `json:"deployment"`
	QueueTimestamp int64  `json:"queue_timestamp"`
	Force          bool   `json:"force"`
}

// Completer runs one low-temperature chat completion and returns the reply
// text.
type Completer interface {
	Complete(ctx context.Context, deployment string, messages []prompt.Message, temperature float64) (string, error)
}

// ChatStore is the persistence surface the summary service needs.
type ChatStore interface {
	GetByIDAndUser(chatID, user string) (*model.Chat, error)
	UpdateSummary(chatID, summary string) error
}

// ExchangeStore supplies chat history and freshness counts.
type ExchangeStore interface {
	ListByChatID(chatID string) ([]model.Exchange, error)
	CountSince(chatID string, lastExchangeID uint) (int, error)
}

// Service owns the summary job lifecycle: deciding when a chat needs a fresh
// summary, publishing the job, and processing pending jobs inline after a
// turn completes.
type Service struct {
	jobs         *queue.JobQueue
	chats        ChatStore
	exchanges    ExchangeStore
	completer    Completer
	deployment   string
	minExchanges int
	maxTokens    int
}

func NewService(jobs *queue.JobQueue, chats ChatStore, exchanges ExchangeStore, completer Completer, deployment string, minExchanges, maxTokens int) *Service {
	if minExchanges <= 0 {
		minExchanges = 5
	}
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	return &Service{
		jobs:         jobs,
		chats:        chats,
		exchanges:    exchanges,
		completer:    completer,
		deployment:   deployment,
		minExchanges: minExchanges,
		maxTokens:    maxTokens,
	}
}

// Enqueue publishes a summary job for the chat. A pending job for the same
// chat makes this a no-op returning the existing path.
func (s *Service) Enqueue(chatID, user string, force bool) (string, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" || user == "" {
		return "", fmt.Errorf("enqueue summary: chat id and user required")
	}
	job := Job{
		ChatID:         chatID,
		User:           user,
		Deployment:     s.deployment,
		QueueTimestamp: time.Now().Unix(),
		Force:          force,
	}
	path, _, err := s.jobs.EnqueueNamed(fmt.Sprintf("summary_%s.json", chatID), job)
	return path, err
}

// ShouldEnqueue reports whether the chat has accumulated enough new exchanges
// since its last summary. Chats without a decodable summary always qualify.
func (s *Service) ShouldEnqueue(chatID, user string) bool {
	chat, err := s.chats.GetByIDAndUser(chatID, user)
	if err != nil || chat == nil {
		return false
	}
	existing := Decode(chat.Summary)
	if existing == nil {
		return true
	}
	if existing.Metadata.LastExchangeID == 0 {
		return true
	}
	count, err := s.exchanges.CountSince(chatID, existing.Metadata.LastExchangeID)
	if err != nil {
		log.Printf("summary: counting new exchanges for %s failed: %v", chatID, err)
		return true
	}
	return count >= s.minExchanges
}

// MaybeEnqueue combines the freshness check with the dedup enqueue.
func (s *Service) MaybeEnqueue(chatID, user string, force bool) (string, error) {
	if !force && !s.ShouldEnqueue(chatID, user) {
		return "", nil
	}
	return s.Enqueue(chatID, user, force)
}

// ProcessPending handles up to maxJobs queued jobs, moving each to
// completed/ or failed/ and appending an outcome line to the daily log.
func (s *Service) ProcessPending(ctx context.Context, maxJobs int) {
	if maxJobs <= 0 {
		maxJobs = 1
	}
	pending, err := s.jobs.Pending()
	if err != nil {
		log.Printf("summary: listing pending jobs failed: %v", err)
		return
	}

	processed := 0
	for _, jobPath := range pending {
		if processed >= maxJobs {
			break
		}

		var job Job
		if err := s.jobs.Load(jobPath, &job); err != nil {
			log.Printf("summary: unreadable job %s: %v", filepath.Base(jobPath), err)
			_ = s.jobs.Fail(jobPath)
			continue
		}

		result, procErr := s.processJob(ctx, job)

		entry := map[string]any{
			"timestamp": time.Now().Format(time.RFC3339),
			"chat_id":   job.ChatID,
			"status":    "ok",
		}
		if procErr != nil {
			entry["status"] = "failed"
			entry["error"] = procErr.Error()
		} else if result != nil {
			entry["metadata"] = result.Metadata
		}
		if err := s.jobs.AppendLog("summary_inline", entry); err != nil {
			log.Printf("summary: appending job log failed: %v", err)
		}

		if procErr != nil {
			log.Printf("summary: job for chat %s failed: %v", job.ChatID, procErr)
			_ = s.jobs.Fail(jobPath)
		} else {
			_ = s.jobs.Complete(jobPath)
		}
		processed++
	}
}

func (s *Service) processJob(ctx context.Context, job Job) (*Summary, error) {
	if job.ChatID == "" || job.User == "" {
		return nil, fmt.Errorf("invalid job payload")
	}
	result, err := s.generate(ctx, job)
	if err != nil {
		return nil, err
	}
	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode summary payload failed: %w", err)
	}
	if err := s.chats.UpdateSummary(job.ChatID, string(encoded)); err != nil {
		return nil, err
	}
	return result, nil
}

// generate runs the summarization completion and parses its strict-JSON
// reply.
func (s *Service) generate(ctx context.Context, job Job) (*Summary, error) {
	chat, err := s.chats.GetByIDAndUser(job.ChatID, job.User)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, fmt.Errorf("chat %s not found for user %s", job.ChatID, job.User)
	}

	exchanges, err := s.exchanges.ListByChatID(job.ChatID)
	if err != nil {
		return nil, err
	}
	if len(exchanges) == 0 {
		return nil, fmt.Errorf("no exchanges available for summary")
	}

	excerpt := BuildExcerpt(exchanges, s.maxTokens)

	prior := strings.TrimSpace(chat.Summary)
	if prior == "" {
		prior = "[none]"
	}
	userContent := summarizerInstructions + "\n\n" +
		"Prior summary:\n" + prior +
		"\n\n===\n\n" +
		"Chat excerpts (latest first within budget):\n" + strings.Join(excerpt.Blocks, "\n\n---\n\n")

	messages := []prompt.Message{
		{Role: prompt.RoleSystem, Content: summarizerSystemPrompt},
		{Role: prompt.RoleUser, Content: userContent},
	}

	deployment := job.Deployment
	if deployment == "" {
		deployment = s.deployment
	}
	reply, err := s.completer.Complete(ctx, deployment, messages, 0.2)
	if err != nil {
		return nil, fmt.Errorf("summary completion failed: %w", err)
	}

	reply = strings.TrimSpace(reply)
	var result Summary
	if err := json.Unmarshal([]byte(reply), &result); err != nil {
		return nil, fmt.Errorf("summary output was not valid JSON: %w", err)
	}

	result.Metadata = Metadata{
		GeneratedAt:             time.Now().Format(time.RFC3339),
		Deployment:              deployment,
		LastExchangeID:          excerpt.LastExchangeID(),
		ConsideredExchangeCount: len(excerpt.ConsideredIDs),
		ExcerptTokens:           excerpt.Tokens,
		ResponseTokens:          token.Estimate(reply),
	}
	return &result, nil
}
