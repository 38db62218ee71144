package app

import (
	"errors"
	"strings"

	"staffchat/internal/backend"
	"staffchat/internal/model"
)

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrMessageEmpty = errors.New("message content is empty")
	ErrNoDeployment = errors.New("deployment is not configured")
)

// TurnContext is the resolved state one chat turn runs against. It is built
// per request so nothing about the current user or chat leaks between turns.
type TurnContext struct {
	User            string
	Chat            *model.Chat
	Deployment      backend.Deployment
	Temperature     float64
	ReasoningEffort string
	Verbosity       string
	AcceptLanguage  string
}

// newTurnContext validates chat preferences against the resolved deployment.
// Out-of-range knobs fall back to their defaults rather than failing the
// turn; stored chats may predate a preference's introduction.
func newTurnContext(user string, chat *model.Chat, d backend.Deployment, acceptLanguage string) TurnContext {
	tc := TurnContext{
		User:            user,
		Chat:            chat,
		Deployment:      d,
		Temperature:     clampTemperature(chat.Temperature),
		ReasoningEffort: normalizeEffort(chat.ReasoningEffort),
		Verbosity:       normalizeVerbosity(chat.Verbosity),
		AcceptLanguage:  acceptLanguage,
	}
	return tc
}

func clampTemperature(t float64) float64 {
	if t < 0 || t > 2 {
		return 0.7
	}
	return t
}

func normalizeEffort(effort string) string {
	switch strings.ToLower(strings.TrimSpace(effort)) {
	case "minimal":
		return "minimal"
	case "low":
		return "low"
	case "high":
		return "high"
	default:
		return "medium"
	}
}

func normalizeVerbosity(verbosity string) string {
	switch strings.ToLower(strings.TrimSpace(verbosity)) {
	case "low":
		return "low"
	case "high":
		return "high"
	default:
		return "medium"
	}
}
