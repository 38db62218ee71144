package app

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"staffchat/internal/backend"
	"staffchat/internal/model"
	"staffchat/internal/platform/rabbitmq"
	"staffchat/internal/prompt"
	"staffchat/internal/repository"
	"staffchat/internal/summary"
	"staffchat/internal/token"
)

// HistoryCache is the optional redis layer in front of exchange history.
type HistoryCache interface {
	GetHistory(ctx context.Context, chatID string) ([]model.Exchange, bool, error)
	SetHistory(ctx context.Context, chatID string, exchanges []model.Exchange) error
	DeleteHistory(ctx context.Context, chatID string) error
	MarkDirty(ctx context.Context, chatID string) error
	IsDirty(ctx context.Context, chatID string) (bool, error)
}

// TurnEventSink receives per-turn usage events for async auditing.
type TurnEventSink interface {
	Publish(ctx context.Context, event rabbitmq.TurnEvent) error
}

// SendTurnInput is one user submission.
type SendTurnInput struct {
	User           string
	ChatID         string
	Message        string
	AcceptLanguage string
}

// TurnResult is the normalized outcome of one turn, identical in shape for
// all three backend kinds. Error true means the backend rejected the turn;
// no exchange was recorded for it.
type TurnResult struct {
	ExchangeID uint           `json:"eid,omitempty"`
	Deployment string         `json:"deployment"`
	Error      bool           `json:"error"`
	Message    string         `json:"message"`
	ImageName  string         `json:"image_gen_name,omitempty"`
	Links      []DownloadLink `json:"links,omitempty"`
	Ledger     *prompt.Ledger `json:"document_ledger,omitempty"`

	promptTokens int
	replyTokens  int
}

// ChatService orchestrates chat turns end to end: oversize gating, prompt
// assembly, backend dispatch, response normalization, persistence and the
// opportunistic post-turn work (summary jobs, titling, usage events).
type ChatService struct {
	chats     *repository.ChatRepository
	exchanges *repository.ExchangeRepository
	docs      *repository.DocumentRepository
	threads   *repository.ChatThreadRepository

	documents  *DocumentService
	planner    *prompt.Planner
	gate       *prompt.OversizeGate
	client     *backend.Client
	normalizer *Normalizer
	summaries  *summary.Service
	titles     *TitleService

	historyCache HistoryCache
	events       TurnEventSink

	deployments       map[string]backend.Deployment
	defaultDeployment string
	appName           string
}

func NewChatService(
	chats *repository.ChatRepository,
	exchanges *repository.ExchangeRepository,
	docs *repository.DocumentRepository,
	threads *repository.ChatThreadRepository,
	documents *DocumentService,
	planner *prompt.Planner,
	gate *prompt.OversizeGate,
	client *backend.Client,
	normalizer *Normalizer,
	summaries *summary.Service,
	titles *TitleService,
	historyCache HistoryCache,
	events TurnEventSink,
	deployments map[string]backend.Deployment,
	defaultDeployment string,
	appName string,
) *ChatService {
	return &ChatService{
		chats:             chats,
		exchanges:         exchanges,
		docs:              docs,
		threads:           threads,
		documents:         documents,
		planner:           planner,
		gate:              gate,
		client:            client,
		normalizer:        normalizer,
		summaries:         summaries,
		titles:            titles,
		historyCache:      historyCache,
		events:            events,
		deployments:       deployments,
		defaultDeployment: defaultDeployment,
		appName:           appName,
	}
}

type CreateChatInput struct {
	User       string
	Title      string
	Deployment string
}

func (s *ChatService) CreateChat(input CreateChatInput) (*model.Chat, error) {
	if input.User == "" {
		return nil, ErrInvalidInput
	}

	deployment := input.Deployment
	if deployment == "" {
		deployment = s.defaultDeployment
	}
	if _, ok := s.deployments[deployment]; !ok {
		return nil, ErrNoDeployment
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "New Chat"
	}

	chat := &model.Chat{
		ID:          uuid.NewString(),
		User:        input.User,
		Title:       title,
		Deployment:  deployment,
		Temperature: 0.7,
		NeedsTitle:  true,
	}
	if err := s.chats.Create(chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *ChatService) ListChats(user string) ([]model.Chat, error) {
	if user == "" {
		return nil, ErrInvalidInput
	}
	return s.chats.ListByUser(user)
}

func (s *ChatService) GetChat(user, chatID string) (*model.Chat, error) {
	chat, err := s.chats.GetByIDAndUser(chatID, user)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	return chat, nil
}

type UpdateChatInput struct {
	Title           *string
	Deployment      *string
	Temperature     *float64
	ReasoningEffort *string
	Verbosity       *string
}

func (s *ChatService) UpdateChat(user, chatID string, input UpdateChatInput) (*model.Chat, error) {
	chat, err := s.GetChat(user, chatID)
	if err != nil {
		return nil, err
	}

	if input.Title != nil && strings.TrimSpace(*input.Title) != "" {
		chat.Title = strings.TrimSpace(*input.Title)
		chat.NeedsTitle = false
	}
	if input.Deployment != nil {
		if _, ok := s.deployments[*input.Deployment]; !ok {
			return nil, ErrNoDeployment
		}
		chat.Deployment = *input.Deployment
	}
	if input.Temperature != nil {
		chat.Temperature = clampTemperature(*input.Temperature)
	}
	if input.ReasoningEffort != nil {
		chat.ReasoningEffort = normalizeEffort(*input.ReasoningEffort)
	}
	if input.Verbosity != nil {
		chat.Verbosity = normalizeVerbosity(*input.Verbosity)
	}

	if err := s.chats.Update(chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *ChatService) DeleteChat(ctx context.Context, user, chatID string) error {
	chat, err := s.GetChat(user, chatID)
	if err != nil {
		return err
	}

	if err := s.chats.SoftDelete(chat.ID, user); err != nil {
		return err
	}

	docs, err := s.docs.ListByChatID(chatID)
	if err == nil && len(docs) > 0 {
		ids := make([]uint, 0, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		if err := s.documents.cleanupDocuments(ctx, chatID, ids); err != nil {
			log.Printf("cleanup documents for deleted chat %s failed: %v", chatID, err)
		}
	}

	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(ctx, chatID)
	}
	return nil
}

// History returns the chat's exchanges, newest last, through the cache when
// one is configured.
func (s *ChatService) History(ctx context.Context, user, chatID string) ([]model.Exchange, error) {
	if _, err := s.GetChat(user, chatID); err != nil {
		return nil, err
	}
	return s.loadHistory(ctx, chatID), nil
}

// SendTurn runs one full chat turn. Hard failures (unknown chat, empty
// message) are returned as errors; backend-reported failures come back as a
// TurnResult with Error set so the transport can show them to the user.
func (s *ChatService) SendTurn(ctx context.Context, input SendTurnInput) (*TurnResult, error) {
	message := strings.TrimSpace(input.Message)
	if message == "" {
		return nil, ErrMessageEmpty
	}

	chat, err := s.GetChat(input.User, input.ChatID)
	if err != nil {
		return nil, err
	}

	deploymentName := chat.Deployment
	if deploymentName == "" {
		deploymentName = s.defaultDeployment
	}
	d, ok := s.deployments[deploymentName]
	if !ok {
		return nil, ErrNoDeployment
	}

	tc := newTurnContext(input.User, chat, d, input.AcceptLanguage)
	started := time.Now()

	var result *TurnResult
	switch d.Kind {
	case backend.HostImageGeneration:
		result, err = s.imageTurn(ctx, tc, message)
	case backend.HostAssistant:
		result, err = s.assistantTurn(ctx, tc, message)
	default:
		result, err = s.completionTurn(ctx, tc, message)
	}
	if err != nil {
		return nil, err
	}

	if !result.Error && result.ExchangeID != 0 {
		s.afterTurn(ctx, tc, result, message, started)
	}
	return result, nil
}

func (s *ChatService) completionTurn(ctx context.Context, tc TurnContext, message string) (*TurnResult, error) {
	modelMessage, promoted := s.applyOversizeGate(tc, message)

	views, err := s.docs.ListViewsByChatID(tc.Chat.ID)
	if err != nil {
		return nil, err
	}
	enabled := views[:0]
	for _, v := range views {
		if v.Enabled {
			enabled = append(enabled, v)
		}
	}

	plan := s.planner.BuildTurn(ctx, prompt.PlanInput{
		Message:        modelMessage,
		ChatID:         tc.Chat.ID,
		User:           tc.User,
		ContextLimit:   tc.Deployment.ContextLimit,
		SystemMessages: prompt.SystemMessages(s.appName, time.Now(), tc.AcceptLanguage),
		Documents:      enabled,
		SummaryMessage: summary.FormatContextMessage(tc.Chat.Summary),
		Exchanges:      s.loadHistory(ctx, tc.Chat.ID),
	})

	body, err := s.client.ChatCompletion(ctx, tc.Deployment, plan.Messages, backend.ChatOptions{
		Temperature:     tc.Temperature,
		ReasoningEffort: tc.ReasoningEffort,
		Verbosity:       tc.Verbosity,
		DocTokens:       plan.ReservedTokens,
	})
	if err != nil {
		return s.errorResult(tc, err.Error()), nil
	}

	reply, usage, err := s.normalizer.ChatCompletion(body)
	if err != nil {
		log.Printf("chat %s completion error: %v", tc.Chat.ID, err)
		return s.errorResult(tc, err.Error()), nil
	}

	exchange := &model.Exchange{
		ChatID:            tc.Chat.ID,
		Deployment:        tc.Deployment.Name,
		Prompt:            message, // the text the user typed, not the placeholder
		Reply:             reply,
		PromptTokenLength: usageOrEstimate(usage.PromptTokens, message),
		ReplyTokenLength:  usageOrEstimate(usage.CompletionTokens, reply),
	}
	if err := s.exchanges.Create(exchange); err != nil {
		return nil, err
	}
	s.linkPromoted(promoted, exchange.ID)

	return &TurnResult{
		ExchangeID:   exchange.ID,
		Deployment:   tc.Deployment.Name,
		Message:      reply,
		Ledger:       &plan.Ledger,
		promptTokens: exchange.PromptTokenLength,
		replyTokens:  exchange.ReplyTokenLength,
	}, nil
}

func (s *ChatService) assistantTurn(ctx context.Context, tc TurnContext, message string) (*TurnResult, error) {
	modelMessage, promoted := s.applyOversizeGate(tc, message)

	threadID, err := s.ensureThread(ctx, tc)
	if err != nil {
		return s.errorResult(tc, err.Error()), nil
	}

	msg, err := s.client.RunAssistant(ctx, tc.Deployment, threadID, []prompt.Message{
		{Role: prompt.RoleUser, Content: modelMessage},
	})
	if err != nil {
		log.Printf("chat %s assistant run failed: %v", tc.Chat.ID, err)
		return s.errorResult(tc, err.Error()), nil
	}

	answer, links, err := s.normalizer.Assistant(ctx, tc.Deployment, tc.Chat.ID, msg)
	if err != nil {
		return s.errorResult(tc, err.Error()), nil
	}

	var linksJSON string
	if len(links) > 0 {
		if encoded, err := json.Marshal(links); err == nil {
			linksJSON = string(encoded)
		}
	}

	exchange := &model.Exchange{
		ChatID:            tc.Chat.ID,
		Deployment:        tc.Deployment.Name,
		Prompt:            message,
		Reply:             answer,
		PromptTokenLength: token.Estimate(message),
		ReplyTokenLength:  token.Estimate(answer),
		Links:             linksJSON,
	}
	if err := s.exchanges.Create(exchange); err != nil {
		return nil, err
	}
	s.linkPromoted(promoted, exchange.ID)

	return &TurnResult{
		ExchangeID:   exchange.ID,
		Deployment:   tc.Deployment.Name,
		Message:      answer,
		Links:        links,
		promptTokens: exchange.PromptTokenLength,
		replyTokens:  exchange.ReplyTokenLength,
	}, nil
}

func (s *ChatService) imageTurn(ctx context.Context, tc TurnContext, message string) (*TurnResult, error) {
	body, err := s.client.GenerateImage(ctx, tc.Deployment, message)
	if err != nil {
		return s.errorResult(tc, err.Error()), nil
	}

	imageName, err := s.normalizer.Image(ctx, body, tc.Chat.ID)
	if err != nil {
		log.Printf("chat %s image generation failed: %v", tc.Chat.ID, err)
		return s.errorResult(tc, err.Error()), nil
	}

	exchange := &model.Exchange{
		ChatID:            tc.Chat.ID,
		Deployment:        tc.Deployment.Name,
		Prompt:            message,
		PromptTokenLength: token.Estimate(message),
		ImageName:         imageName,
	}
	if err := s.exchanges.Create(exchange); err != nil {
		return nil, err
	}

	return &TurnResult{
		ExchangeID:   exchange.ID,
		Deployment:   tc.Deployment.Name,
		Message:      "Image generated successfully.",
		ImageName:    imageName,
		promptTokens: exchange.PromptTokenLength,
	}, nil
}

// applyOversizeGate swaps a too-large submission for its placeholder. Every
// promotion failure is soft: the original message is sent as typed and may
// still fail downstream on context length.
func (s *ChatService) applyOversizeGate(tc TurnContext, message string) (string, *model.Document) {
	if s.gate == nil || !s.gate.NeedsPromotion(message, tc.Deployment.ContextLimit) {
		return message, nil
	}

	placeholder, doc, err := s.documents.PromoteOversizeMessage(tc.Chat.ID, tc.User, message)
	if err != nil {
		log.Printf("oversize promotion for chat %s failed, sending original: %v", tc.Chat.ID, err)
		return message, nil
	}
	return placeholder, doc
}

// linkPromoted records which exchange a promoted document came from.
func (s *ChatService) linkPromoted(doc *model.Document, exchangeID uint) {
	if doc == nil || exchangeID == 0 {
		return
	}
	doc.ExchangeID = exchangeID
	if err := s.documents.LinkExchange(doc); err != nil {
		log.Printf("link promoted document %d to exchange %d failed: %v", doc.ID, exchangeID, err)
	}
}

// ensureThread finds or creates the remote assistant thread for a chat. A
// fresh thread gets the chat's prior exchanges replayed so the assistant has
// the same history a completion call would see.
func (s *ChatService) ensureThread(ctx context.Context, tc TurnContext) (string, error) {
	existing, err := s.threads.Get(tc.Chat.ID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ThreadID, nil
	}

	threadID, err := s.client.CreateThread(ctx, tc.Deployment)
	if err != nil {
		return "", err
	}

	for _, ex := range s.loadHistory(ctx, tc.Chat.ID) {
		if err := s.client.AddThreadMessage(ctx, tc.Deployment, threadID, prompt.RoleUser, ex.Prompt); err != nil {
			return "", err
		}
		if err := s.client.AddThreadMessage(ctx, tc.Deployment, threadID, prompt.RoleAssistant, ex.Reply); err != nil {
			return "", err
		}
	}

	if err := s.threads.Save(&model.ChatThread{ChatID: tc.Chat.ID, ThreadID: threadID}); err != nil {
		return "", err
	}
	return threadID, nil
}

// afterTurn runs the opportunistic post-turn work. None of it may fail the
// turn; the reply already exists.
func (s *ChatService) afterTurn(ctx context.Context, tc TurnContext, result *TurnResult, message string, started time.Time) {
	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, tc.Chat.ID)
		_ = s.historyCache.DeleteHistory(ctx, tc.Chat.ID)
	}

	if tc.Chat.NeedsTitle && s.titles != nil {
		s.titles.MaybeTitle(ctx, tc.Chat.ID, message, result.Message)
		tc.Chat.NeedsTitle = false
		if err := s.chats.Update(tc.Chat); err != nil {
			log.Printf("clear needs-title for chat %s failed: %v", tc.Chat.ID, err)
		}
	}

	if s.summaries != nil {
		if _, err := s.summaries.MaybeEnqueue(tc.Chat.ID, tc.User, false); err != nil {
			log.Printf("summary enqueue for chat %s failed: %v", tc.Chat.ID, err)
		}
		// amortize summarization across turns instead of running a scheduler
		s.summaries.ProcessPending(ctx, 1)
	}

	if s.events != nil {
		event := rabbitmq.TurnEvent{
			ChatID:       tc.Chat.ID,
			User:         tc.User,
			Deployment:   tc.Deployment.Name,
			ExchangeID:   result.ExchangeID,
			PromptTokens: result.promptTokens,
			ReplyTokens:  result.replyTokens,
			LatencyMS:    time.Since(started).Milliseconds(),
			OccurredAt:   time.Now(),
		}
		if result.Ledger != nil {
			event.RAGUsed = len(result.Ledger.RAGDocumentIDs) > 0
		}
		if err := s.events.Publish(ctx, event); err != nil {
			log.Printf("publish turn event for chat %s failed: %v", tc.Chat.ID, err)
		}
	}
}

func (s *ChatService) loadHistory(ctx context.Context, chatID string) []model.Exchange {
	if s.historyCache != nil {
		if dirty, err := s.historyCache.IsDirty(ctx, chatID); err == nil && !dirty {
			if cached, hit, err := s.historyCache.GetHistory(ctx, chatID); err == nil && hit {
				return cached
			}
		}
	}

	exchanges, err := s.exchanges.ListByChatID(chatID)
	if err != nil {
		log.Printf("load history for chat %s failed: %v", chatID, err)
		return nil
	}
	if s.historyCache != nil {
		if dirty, err := s.historyCache.IsDirty(ctx, chatID); err == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, chatID, exchanges)
		}
	}
	return exchanges
}

func (s *ChatService) errorResult(tc TurnContext, message string) *TurnResult {
	return &TurnResult{
		Deployment: tc.Deployment.Name,
		Error:      true,
		Message:    message,
	}
}

func usageOrEstimate(reported int, text string) int {
	if reported > 0 {
		return reported
	}
	return token.Estimate(text)
}
