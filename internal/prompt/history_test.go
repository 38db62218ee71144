package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staffchat/internal/model"
)

func TestHistoryMessages_NewestPairsWinUnderBudget(t *testing.T) {
	exchanges := []model.Exchange{
		{ID: 1, Prompt: "first question", Reply: "first answer", PromptTokenLength: 100, ReplyTokenLength: 100},
		{ID: 2, Prompt: "second question", Reply: "second answer", PromptTokenLength: 100, ReplyTokenLength: 100},
		{ID: 3, Prompt: "third question", Reply: "third answer", PromptTokenLength: 100, ReplyTokenLength: 100},
	}

	// Budget fits the message (10 tokens est) plus two pairs of 208 each.
	got := HistoryMessages(exchanges, "a new prompt...", 460, 0)
	require.Len(t, got, 4)

	// The newest pairs survive; the oldest is dropped. The flat reversal puts
	// the earliest selected pair first, reply before prompt within each pair.
	assert.Equal(t, "second answer", got[0].Content)
	assert.Equal(t, RoleAssistant, got[0].Role)
	assert.Equal(t, "second question", got[1].Content)
	assert.Equal(t, "third answer", got[2].Content)
	assert.Equal(t, "third question", got[3].Content)
}

func TestHistoryMessages_StopsAtFirstOverflowingPair(t *testing.T) {
	exchanges := []model.Exchange{
		{ID: 1, Prompt: "tiny", Reply: "tiny", PromptTokenLength: 2, ReplyTokenLength: 2},
		{ID: 2, Prompt: "huge", Reply: "huge", PromptTokenLength: 5000, ReplyTokenLength: 5000},
		{ID: 3, Prompt: "small", Reply: "small", PromptTokenLength: 5, ReplyTokenLength: 5},
	}

	got := HistoryMessages(exchanges, "msg", 1000, 0)

	// The walk runs newest first and stops dead at the huge pair, so the tiny
	// oldest pair never gets a look-in.
	require.Len(t, got, 2)
	assert.Equal(t, "small", got[0].Content)
}

func TestHistoryMessages_ReservedTokensShrinkBudget(t *testing.T) {
	exchanges := []model.Exchange{
		{ID: 1, Prompt: "q", Reply: "r", PromptTokenLength: 50, ReplyTokenLength: 50},
	}

	assert.Len(t, HistoryMessages(exchanges, "m", 200, 0), 2)
	assert.Empty(t, HistoryMessages(exchanges, "m", 200, 150))
}

func TestHistoryMessages_ImageRepliesCostNothing(t *testing.T) {
	exchanges := []model.Exchange{
		{ID: 1, Deployment: "dall-e-3", Prompt: "draw a cat", Reply: "", PromptTokenLength: 10, ReplyTokenLength: 9999},
	}

	got := HistoryMessages(exchanges, "msg", 100, 0)
	require.Len(t, got, 2)
}

func TestHistoryMessages_EstimatesMissingTokenLengths(t *testing.T) {
	exchanges := []model.Exchange{
		{ID: 1, Prompt: "who are you", Reply: "an assistant"},
	}
	got := HistoryMessages(exchanges, "msg", 1000, 0)
	assert.Len(t, got, 2)
}
