package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"staffchat/internal/model"
	"staffchat/internal/pkg/pdfextract"
	"staffchat/internal/prompt"
	"staffchat/internal/queue"
	"staffchat/internal/rag"
	"staffchat/internal/repository"
	"staffchat/internal/token"
)

const previewTrimNote = "\n\n[Preview truncated; full text retained for retrieval.]"

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrEmptyDocument    = errors.New("document has no content")
)

// DocumentService owns the attach side of a chat: uploads, pastes, oversize
// promotions, enable toggles and teardown of everything indexing derived
// from a document.
type DocumentService struct {
	docs       *repository.DocumentRepository
	chats      *repository.ChatRepository
	jobs       *queue.JobQueue
	status     *rag.StatusStore
	cleaner    *rag.Cleaner
	gate       *prompt.OversizeGate
	counter    *token.ExactCounter
	collection string

	inlineTokenMax  int
	previewMaxBytes int
}

func NewDocumentService(
	docs *repository.DocumentRepository,
	chats *repository.ChatRepository,
	jobs *queue.JobQueue,
	status *rag.StatusStore,
	cleaner *rag.Cleaner,
	gate *prompt.OversizeGate,
	counter *token.ExactCounter,
	collection string,
	inlineTokenMax, previewMaxBytes int,
) *DocumentService {
	if inlineTokenMax <= 0 {
		inlineTokenMax = 4000
	}
	if previewMaxBytes <= 0 {
		previewMaxBytes = 2 << 20
	}
	return &DocumentService{
		docs:            docs,
		chats:           chats,
		jobs:            jobs,
		status:          status,
		cleaner:         cleaner,
		gate:            gate,
		counter:         counter,
		collection:      collection,
		inlineTokenMax:  inlineTokenMax,
		previewMaxBytes: previewMaxBytes,
	}
}

// Upload attaches one file to a chat. Images become inline data URLs, PDFs
// and plain text are extracted in-process, and anything else is staged for
// the external parser. Extraction happening here still defers indexing of
// large documents to the background worker.
func (s *DocumentService) Upload(user, chatID, filename, mimeType string, data []byte) (*model.Document, error) {
	if err := s.requireChat(chatID, user); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}

	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." {
		name = "upload"
	}

	if strings.HasPrefix(mimeType, "image/") {
		return s.createImageDocument(chatID, name, mimeType, data)
	}

	switch {
	case mimeType == "application/pdf" || strings.EqualFold(filepath.Ext(name), ".pdf"):
		text, err := pdfextract.ExtractText(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("extract pdf text: %w", err)
		}
		return s.createTextDocument(chatID, name, mimeType, text)
	case strings.HasPrefix(mimeType, "text/") || isTextLike(name):
		return s.createTextDocument(chatID, name, mimeType, string(data))
	default:
		return s.stageForParsing(chatID, user, name, mimeType, data)
	}
}

// Paste attaches text the user pasted into the document panel directly.
func (s *DocumentService) Paste(user, chatID, name, text string) (*model.Document, error) {
	if err := s.requireChat(chatID, user); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}
	if strings.TrimSpace(name) == "" {
		name = "Pasted text " + time.Now().Format("2006-01-02 15:04")
	}
	doc, err := s.createTextDocument(chatID, name, "text/plain", text)
	if err != nil {
		return nil, err
	}
	doc.Source = model.DocumentSourcePaste
	if doc.TokenLength > s.inlineTokenMax {
		doc.Source = model.DocumentSourceRAG
	}
	if err := s.docs.Update(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// PromoteOversizeMessage turns a too-large chat submission into a document
// plus queued index job and returns the bounded placeholder to send in its
// place. Callers treat any error as soft and send the original message.
func (s *DocumentService) PromoteOversizeMessage(chatID, user, message string) (string, *model.Document, error) {
	displayName := "Pasted content " + time.Now().Format("2006-01-02 15:04")

	rawPath := filepath.Join(s.jobs.Paths().Uploads, "paste_"+uuid.NewString()+".txt")
	if err := os.WriteFile(rawPath, []byte(message), 0o664); err != nil {
		return "", nil, fmt.Errorf("persist oversize submission: %w", err)
	}

	preview := message
	trimmed := false
	if len(preview) > s.previewMaxBytes {
		preview = preview[:s.previewMaxBytes] + previewTrimNote
		trimmed = true
	}

	doc := &model.Document{
		ChatID:            chatID,
		Name:              displayName,
		Type:              "text/plain",
		Content:           preview,
		Source:            model.DocumentSourcePaste,
		TokenLength:       s.countTokens(message),
		FullTextAvailable: !trimmed,
		Enabled:           true,
	}
	if err := s.docs.Create(doc); err != nil {
		_ = os.Remove(rawPath)
		return "", nil, fmt.Errorf("create promoted document: %w", err)
	}

	if err := s.enqueueIndexJob(doc, user, rag.IndexJob{
		FilePath:   rawPath,
		CleanupTmp: true,
	}); err != nil {
		log.Printf("enqueue index job for promoted document %d failed: %v", doc.ID, err)
	}

	return s.gate.Placeholder(message, doc.Name), doc, nil
}

func (s *DocumentService) createImageDocument(chatID, name, mimeType string, data []byte) (*model.Document, error) {
	doc := &model.Document{
		ChatID:            chatID,
		Name:              name,
		Type:              mimeType,
		Content:           "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
		Source:            model.DocumentSourceImage,
		FullTextAvailable: false,
		Enabled:           true,
	}
	if err := s.docs.Create(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *DocumentService) createTextDocument(chatID, name, mimeType, text string) (*model.Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}

	tokens := s.countTokens(text)
	doc := &model.Document{
		ChatID:            chatID,
		Name:              name,
		Type:              mimeType,
		Content:           text,
		Source:            model.DocumentSourceInline,
		TokenLength:       tokens,
		FullTextAvailable: true,
		Enabled:           true,
	}
	if tokens > s.inlineTokenMax {
		doc.Source = model.DocumentSourceRAG
	}
	if err := s.docs.Create(doc); err != nil {
		return nil, err
	}

	if doc.Source == model.DocumentSourceRAG {
		parsedPath := filepath.Join(s.jobs.Paths().Parsed, "rag_"+uuid.NewString()+".txt")
		if err := os.WriteFile(parsedPath, []byte(text), 0o664); err != nil {
			log.Printf("stage parsed text for document %d failed: %v", doc.ID, err)
			return doc, nil
		}
		if err := s.enqueueIndexJob(doc, "", rag.IndexJob{
			FilePath:   parsedPath,
			CleanupTmp: true,
		}); err != nil {
			log.Printf("enqueue index job for document %d failed: %v", doc.ID, err)
		}
	}
	return doc, nil
}

func (s *DocumentService) stageForParsing(chatID, user, name, mimeType string, data []byte) (*model.Document, error) {
	doc := &model.Document{
		ChatID:  chatID,
		Name:    name,
		Type:    mimeType,
		Source:  model.DocumentSourceParsing,
		Enabled: true,
	}
	if err := s.docs.Create(doc); err != nil {
		return nil, err
	}

	sourcePath := filepath.Join(s.jobs.Paths().Uploads, fmt.Sprintf("doc_%d_%s", doc.ID, name))
	if err := os.WriteFile(sourcePath, data, 0o664); err != nil {
		return nil, fmt.Errorf("stage upload for parsing: %w", err)
	}

	if err := s.enqueueIndexJob(doc, user, rag.IndexJob{
		SourcePath: sourcePath,
		CleanupTmp: true,
	}); err != nil {
		return nil, err
	}
	_ = s.status.Write(doc.ID, "queued", "parsing", "Waiting for parser", 0)
	return doc, nil
}

func (s *DocumentService) enqueueIndexJob(doc *model.Document, user string, job rag.IndexJob) error {
	job.DocumentID = doc.ID
	job.ChatID = doc.ChatID
	job.User = user
	job.Filename = doc.Name
	job.Collection = s.collection
	job.QueueTimestamp = time.Now().Unix()
	_, err := s.jobs.Enqueue("index", job)
	return err
}

// LinkExchange persists the exchange a promoted document belongs to.
func (s *DocumentService) LinkExchange(doc *model.Document) error {
	return s.docs.Update(doc)
}

// List returns the chat's documents joined with their readiness state.
func (s *DocumentService) List(user, chatID string) ([]model.DocumentView, error) {
	if err := s.requireChat(chatID, user); err != nil {
		return nil, err
	}
	return s.docs.ListViewsByChatID(chatID)
}

// Status reports indexing progress for one document, nil when no status file
// exists (either never queued or already cleaned up after completion).
func (s *DocumentService) Status(user, chatID string, documentID uint) (*rag.Status, error) {
	if err := s.requireChat(chatID, user); err != nil {
		return nil, err
	}
	return s.status.Read(documentID)
}

// SetEnabled toggles whether a document participates in prompt assembly.
func (s *DocumentService) SetEnabled(user, chatID string, documentID uint, enabled bool) error {
	if err := s.requireChat(chatID, user); err != nil {
		return err
	}
	return s.docs.SetEnabled(documentID, chatID, enabled)
}

// Delete soft-deletes the document row and tears down its derived index
// state. Vector cleanup failures keep the index rows so a later retry can
// still find them.
func (s *DocumentService) Delete(ctx context.Context, user, chatID string, documentID uint) error {
	if err := s.requireChat(chatID, user); err != nil {
		return err
	}

	doc, err := s.docs.GetByID(documentID)
	if err != nil {
		return err
	}
	if doc == nil || doc.ChatID != chatID {
		return ErrDocumentNotFound
	}

	if err := s.docs.SoftDelete(documentID, chatID); err != nil {
		return err
	}
	if _, err := s.cleaner.RemoveDocuments(ctx, []uint{documentID}); err != nil {
		log.Printf("cleanup for document %d failed: %v", documentID, err)
	}
	_ = s.status.Clear(documentID)
	return nil
}

// cleanupDocuments soft-deletes a batch of documents and removes their
// derived index state, used when a whole chat goes away.
func (s *DocumentService) cleanupDocuments(ctx context.Context, chatID string, documentIDs []uint) error {
	for _, id := range documentIDs {
		if err := s.docs.SoftDelete(id, chatID); err != nil {
			return err
		}
		_ = s.status.Clear(id)
	}
	_, err := s.cleaner.RemoveDocuments(ctx, documentIDs)
	return err
}

func (s *DocumentService) requireChat(chatID, user string) error {
	chat, err := s.chats.GetByIDAndUser(chatID, user)
	if err != nil {
		return err
	}
	if chat == nil {
		return ErrChatNotFound
	}
	return nil
}

func (s *DocumentService) countTokens(text string) int {
	if s.counter != nil {
		return s.counter.Count(text)
	}
	return token.Estimate(text)
}

func isTextLike(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md", ".csv", ".json", ".xml", ".yaml", ".yml", ".log":
		return true
	}
	return false
}
