package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"staffchat/internal/backend"
	"staffchat/internal/model"
)

func TestClampTemperature(t *testing.T) {
	assert.Equal(t, 0.0, clampTemperature(0))
	assert.Equal(t, 1.3, clampTemperature(1.3))
	assert.Equal(t, 2.0, clampTemperature(2))
	assert.Equal(t, 0.7, clampTemperature(-0.1))
	assert.Equal(t, 0.7, clampTemperature(2.5))
}

func TestNormalizeEffort(t *testing.T) {
	assert.Equal(t, "minimal", normalizeEffort("minimal"))
	assert.Equal(t, "low", normalizeEffort(" Low "))
	assert.Equal(t, "high", normalizeEffort("HIGH"))
	assert.Equal(t, "medium", normalizeEffort(""))
	assert.Equal(t, "medium", normalizeEffort("extreme"))
}

func TestNormalizeVerbosity(t *testing.T) {
	assert.Equal(t, "low", normalizeVerbosity("low"))
	assert.Equal(t, "high", normalizeVerbosity("High"))
	assert.Equal(t, "medium", normalizeVerbosity("medium"))
	assert.Equal(t, "medium", normalizeVerbosity("chatty"))
}

func TestNewTurnContext_CarriesChatPreferences(t *testing.T) {
	chat := &model.Chat{
		ID:              "abc",
		Temperature:     1.1,
		ReasoningEffort: "low",
		Verbosity:       "weird",
	}
	d := backend.Deployment{Name: "gpt-4o"}

	tc := newTurnContext("alice", chat, d, "de-DE")
	assert.Equal(t, "alice", tc.User)
	assert.Same(t, chat, tc.Chat)
	assert.Equal(t, 1.1, tc.Temperature)
	assert.Equal(t, "low", tc.ReasoningEffort)
	assert.Equal(t, "medium", tc.Verbosity)
	assert.Equal(t, "de-DE", tc.AcceptLanguage)
}

func TestTruncateWords(t *testing.T) {
	assert.Equal(t, "one two three", truncateWords("one two three", 6))
	assert.Equal(t, "a b c d e f", truncateWords("a b c d e f g h", 6))
	assert.Equal(t, "   ", truncateWords("   ", 6))
}
