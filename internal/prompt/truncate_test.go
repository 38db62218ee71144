package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"staffchat/internal/token"
)

func TestTruncateForBudget_ZeroBudget(t *testing.T) {
	got := TruncateForBudget("some content", 0)
	assert.Equal(t, "", got.Text)
	assert.Equal(t, 0, got.Tokens)
	assert.True(t, got.Truncated)

	empty := TruncateForBudget("", 0)
	assert.False(t, empty.Truncated)
}

func TestTruncateForBudget_FitsUnmodified(t *testing.T) {
	text := "short document body"
	got := TruncateForBudget(text, 1000)
	assert.Equal(t, text, got.Text)
	assert.Equal(t, token.Estimate(text), got.Tokens)
	assert.False(t, got.Truncated)
}

func TestTruncateForBudget_NeverExceedsBudget(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 2000)
	for _, budget := range []int{1, 5, 53, 160, 999, 5000} {
		got := TruncateForBudget(text, budget)
		assert.LessOrEqual(t, got.Tokens, budget, "budget %d", budget)
		assert.True(t, got.Truncated, "budget %d", budget)
	}
}

func TestTruncateForBudget_NoteOnlyWhenRoomRemains(t *testing.T) {
	// A tight budget leaves no slack next to the longest fitting prefix, so
	// the note is omitted rather than blowing the budget.
	text := strings.Repeat("abcdef ", 5000)
	got := TruncateForBudget(text, 500)
	assert.False(t, strings.HasSuffix(got.Text, truncationNote))
	assert.LessOrEqual(t, got.Tokens, 500)
}

func TestTruncateForBudget_TinyBudgetKeepsAHead(t *testing.T) {
	text := strings.Repeat("x", 100000)
	got := TruncateForBudget(text, 1)
	assert.NotEmpty(t, got.Text)
	assert.LessOrEqual(t, got.Tokens, 1)
}
