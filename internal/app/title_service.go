package app

import (
	"context"
	"log"
	"strings"

	"staffchat/internal/prompt"
	"staffchat/internal/repository"
)

const titleSystemPrompt = "You are an AI assistant that creates concise, friendly title summaries for chats. " +
	"Use no more than 5 words. Never include code or punctuation. Never include mathematical notation. " +
	"Only use words and if needed, numbers."

const titleRequest = "Please create a concise, friendly title summarizing this chat. Use no more than 5 words. " +
	"Never include code or punctuation. Never include mathematical notation. Only use words and if needed, numbers."

// TitleService names a chat after its first completed exchange. Every failure
// is logged and swallowed; the chat just keeps its placeholder title.
type TitleService struct {
	completer  *BackendCompleter
	chats      *repository.ChatRepository
	deployment string
}

func NewTitleService(completer *BackendCompleter, chats *repository.ChatRepository, deployment string) *TitleService {
	return &TitleService{
		completer:  completer,
		chats:      chats,
		deployment: deployment,
	}
}

// MaybeTitle generates and stores a title when the chat still needs one.
func (s *TitleService) MaybeTitle(ctx context.Context, chatID, userMessage, assistantReply string) {
	if s.deployment == "" || strings.TrimSpace(assistantReply) == "" {
		return
	}

	messages := []prompt.Message{
		{Role: prompt.RoleSystem, Content: titleSystemPrompt},
		{Role: prompt.RoleUser, Content: truncateWords(userMessage, 300)},
		{Role: prompt.RoleAssistant, Content: truncateWords(assistantReply, 300)},
		{Role: prompt.RoleUser, Content: titleRequest},
	}

	reply, err := s.completer.Complete(ctx, s.deployment, messages, 0.2)
	if err != nil {
		log.Printf("title generation for chat %s failed: %v", chatID, err)
		return
	}

	title := truncateWords(strings.TrimSpace(reply), 6)
	if title == "" {
		return
	}
	if len(title) > 254 {
		title = title[:254]
	}
	if err := s.chats.UpdateTitle(chatID, title); err != nil {
		log.Printf("store title for chat %s failed: %v", chatID, err)
	}
}

func truncateWords(text string, limit int) string {
	words := strings.Fields(strings.TrimSpace(text))
	if len(words) <= limit {
		return text
	}
	return strings.Join(words[:limit], " ")
}
