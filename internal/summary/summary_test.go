package summary

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staffchat/internal/config"
	"staffchat/internal/model"
	"staffchat/internal/prompt"
	"staffchat/internal/queue"
)

type fakeChats struct {
	chat    *model.Chat
	updated string
}

func (f *fakeChats) GetByIDAndUser(chatID, user string) (*model.Chat, error) { return f.chat, nil }
func (f *fakeChats) UpdateSummary(chatID, payload string) error {
	f.updated = payload
	return nil
}

type fakeExchanges struct {
	exchanges []model.Exchange
	count     int
}

func (f *fakeExchanges) ListByChatID(chatID string) ([]model.Exchange, error) {
	return f.exchanges, nil
}
func (f *fakeExchanges) CountSince(chatID string, lastID uint) (int, error) { return f.count, nil }

type fakeCompleter struct {
	reply string
	err   error

	gotDeployment  string
	gotTemperature float64
}

func (f *fakeCompleter) Complete(_ context.Context, deployment string, _ []prompt.Message, temperature float64) (string, error) {
	f.gotDeployment = deployment
	f.gotTemperature = temperature
	return f.reply, f.err
}

func newTestService(t *testing.T, chats *fakeChats, exchanges *fakeExchanges, completer *fakeCompleter) *Service {
	t.Helper()
	jobs, err := queue.New(config.NewWorkspacePaths(t.TempDir()))
	require.NoError(t, err)
	return NewService(jobs, chats, exchanges, completer, "gpt-4.1-mini", 5, 4000)
}

func TestEnqueue_SecondCallReturnsExistingJob(t *testing.T) {
	s := newTestService(t, &fakeChats{}, &fakeExchanges{}, &fakeCompleter{})

	first, err := s.Enqueue("chat-9", "alice", false)
	require.NoError(t, err)
	second, err := s.Enqueue("chat-9", "alice", true)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "summary_chat-9.json", filepath.Base(first))

	pending, err := s.jobs.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestShouldEnqueue(t *testing.T) {
	stored := `{"overall_summary":"s","metadata":{"last_exchange_id":10}}`

	s := newTestService(t, &fakeChats{chat: &model.Chat{ID: "c", Summary: stored}}, &fakeExchanges{count: 5}, nil)
	assert.True(t, s.ShouldEnqueue("c", "u"))

	s = newTestService(t, &fakeChats{chat: &model.Chat{ID: "c", Summary: stored}}, &fakeExchanges{count: 4}, nil)
	assert.False(t, s.ShouldEnqueue("c", "u"))

	// No stored summary yet always qualifies.
	s = newTestService(t, &fakeChats{chat: &model.Chat{ID: "c"}}, &fakeExchanges{count: 0}, nil)
	assert.True(t, s.ShouldEnqueue("c", "u"))
}

func TestProcessPending_SuccessStoresSummary(t *testing.T) {
	reply := `{"overall_summary":"They planned the review.","key_entities":[{"type":"person","name":"Dana","details":"reviewer"}],"keywords":["review"],"subject_tags":["planning"]}`
	chats := &fakeChats{chat: &model.Chat{ID: "c1"}}
	exchanges := &fakeExchanges{exchanges: []model.Exchange{
		{ID: 1, Prompt: "When is the review?", Reply: "Next Tuesday."},
		{ID: 2, Prompt: "Who leads it?", Reply: "Dana."},
	}}
	completer := &fakeCompleter{reply: reply}
	s := newTestService(t, chats, exchanges, completer)

	_, err := s.Enqueue("c1", "alice", false)
	require.NoError(t, err)

	s.ProcessPending(context.Background(), 1)

	require.NotEmpty(t, chats.updated)
	var stored Summary
	require.NoError(t, json.Unmarshal([]byte(chats.updated), &stored))
	assert.Equal(t, "They planned the review.", stored.OverallSummary)
	assert.Equal(t, uint(2), stored.Metadata.LastExchangeID)
	assert.Equal(t, 2, stored.Metadata.ConsideredExchangeCount)
	assert.Equal(t, 0.2, completer.gotTemperature)

	pending, err := s.jobs.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessPending_NonJSONReplyFailsJob(t *testing.T) {
	chats := &fakeChats{chat: &model.Chat{ID: "c1"}}
	exchanges := &fakeExchanges{exchanges: []model.Exchange{{ID: 1, Prompt: "q", Reply: "r"}}}
	s := newTestService(t, chats, exchanges, &fakeCompleter{reply: "Sorry, here is prose instead."})

	_, err := s.Enqueue("c1", "alice", false)
	require.NoError(t, err)

	s.ProcessPending(context.Background(), 1)

	assert.Empty(t, chats.updated)
	pending, err := s.jobs.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBuildExcerpt_BudgetAndOrder(t *testing.T) {
	long := strings.Repeat("detail ", 500) // ~1170 estimated tokens
	exchanges := []model.Exchange{
		{ID: 1, Prompt: "oldest " + long, Reply: long},
		{ID: 2, Prompt: "middle " + long, Reply: long},
		{ID: 3, Prompt: "newest question", Reply: "newest answer"},
	}

	excerpt := BuildExcerpt(exchanges, 2500)

	// Newest first within budget, then restored to chronological order.
	require.Len(t, excerpt.Blocks, 2)
	assert.Contains(t, excerpt.Blocks[0], "middle")
	assert.Contains(t, excerpt.Blocks[1], "newest question")

	// The exchange that broke the budget still counts as considered.
	assert.Equal(t, []uint{3, 2, 1}, excerpt.ConsideredIDs)
	assert.Equal(t, uint(3), excerpt.LastExchangeID())
}

func TestBuildExcerpt_AlwaysKeepsOneBlock(t *testing.T) {
	excerpt := BuildExcerpt(nil, 100)
	require.Len(t, excerpt.Blocks, 1)
	assert.Contains(t, excerpt.Blocks[0], "omitted due to size constraints")
}

func TestFormatContextMessage(t *testing.T) {
	payload := `{
		"overall_summary": "Two colleagues planned a design review.",
		"key_entities": [{"type":"person","name":"Dana","details":"review lead"}],
		"keywords": ["design", "review"],
		"subject_tags": ["planning"],
		"metadata": {"generated_at": "2026-08-30T10:00:00Z"}
	}`

	content := FormatContextMessage(payload)
	assert.Contains(t, content, "Chat summary (auto-generated).")
	assert.Contains(t, content, "Generated at: 2026-08-30T10:00:00Z")
	assert.Contains(t, content, "- [person] Dana: review lead")
	assert.Contains(t, content, "Keywords: design, review")
	assert.Contains(t, content, "Subject tags: planning")

	assert.Empty(t, FormatContextMessage(""))
	assert.Empty(t, FormatContextMessage("not json"))
}
