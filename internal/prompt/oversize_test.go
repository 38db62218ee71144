package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staffchat/internal/token"
)

type fixedCounter struct{ n int }

func (f fixedCounter) Count(string) int { return f.n }

func TestNeedsPromotion_UnderBudgetPassesThrough(t *testing.T) {
	gate := NewOversizeGate(8192, 1200, fixedCounter{n: 10})

	assert.False(t, gate.NeedsPromotion("a normal sized question", 32768))
	// Re-running the gate on an under-budget message stays a no-op.
	assert.False(t, gate.NeedsPromotion("a normal sized question", 32768))
}

func TestNeedsPromotion_BlankOrUnconfigured(t *testing.T) {
	gate := NewOversizeGate(8192, 1200, nil)
	assert.False(t, gate.NeedsPromotion("   \n\t ", 8192))
	assert.False(t, gate.NeedsPromotion("hello", 0))
}

func TestNeedsPromotion_ExactCountDecides(t *testing.T) {
	big := strings.Repeat("word ", 10000) // ~16k estimated tokens

	// The estimate flags the message, the exact count clears it.
	gate := NewOversizeGate(8192, 1200, fixedCounter{n: 100})
	assert.False(t, gate.NeedsPromotion(big, 16384))

	// Exact count confirms the overflow.
	gate = NewOversizeGate(8192, 1200, fixedCounter{n: 15000})
	assert.True(t, gate.NeedsPromotion(big, 16384))
}

func TestNeedsPromotion_ReserveFloor(t *testing.T) {
	gate := NewOversizeGate(1, 1200, nil)
	assert.Equal(t, 1024, gate.ReserveTokens())
}

func TestPlaceholder_HeadAndTailJoinedByMarker(t *testing.T) {
	// A 40,000 character paste estimates to ~13,333 tokens, far over an 8192
	// window with an 8192 reserve.
	paste := strings.Repeat("Lorem ipsum dolor sit amet. ", 1430)
	require.Greater(t, len(paste), 40000-100)

	gate := NewOversizeGate(8192, 1200, nil)
	require.True(t, gate.NeedsPromotion(paste, 8192))

	placeholder := gate.Placeholder(paste, "pasted-content.txt")

	assert.Contains(t, placeholder, "pasted-content.txt")
	assert.Contains(t, placeholder, ellipsisMarker)

	parts := strings.SplitN(placeholder, ellipsisMarker, 2)
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0], "Lorem ipsum")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(parts[1]), "amet."))

	// The whole placeholder stays within the excerpt budget plus framing.
	assert.Less(t, token.Estimate(placeholder), 1200+200)
}

func TestPlaceholder_ShortSubmissionHasNoTail(t *testing.T) {
	gate := NewOversizeGate(8192, 1200, nil)
	placeholder := gate.Placeholder("tiny body", "doc.txt")
	assert.NotContains(t, placeholder, ellipsisMarker)
	assert.Contains(t, placeholder, "tiny body")
}
