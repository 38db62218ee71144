package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staffchat/internal/model"
)

type stubRetriever struct {
	result *RetrievalResult
	err    error

	gotQuestion string
	gotIDs      []uint
}

func (s *stubRetriever) Retrieve(_ context.Context, question, _, _ string, ids []uint) (*RetrievalResult, error) {
	s.gotQuestion = question
	s.gotIDs = ids
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func inlineDoc(id uint, name string, tokens int) model.DocumentView {
	return model.DocumentView{
		Document: model.Document{
			ID:                id,
			Name:              name,
			Type:              "text/plain",
			Content:           strings.Repeat("x", tokens*3),
			TokenLength:       tokens,
			FullTextAvailable: true,
		},
		Ready: true,
	}
}

func TestBuildTurn_SmallDocInlinedLargeDeferred(t *testing.T) {
	retriever := &stubRetriever{err: errors.New("retriever down")}
	planner := NewPlanner(retriever)

	in := PlanInput{
		Message:      strings.Repeat("q", 150), // ~50 tokens
		ChatID:       "chat-1",
		User:         "alice",
		ContextLimit: 8192,
		Documents: []model.DocumentView{
			inlineDoc(2, "big.txt", 9000),
			inlineDoc(1, "small.txt", 3000),
		},
	}
	plan := planner.BuildTurn(context.Background(), in)

	require.Len(t, plan.Ledger.Documents, 2)
	assert.Equal(t, ModeInline, plan.Ledger.Documents[0].Mode)
	assert.Equal(t, uint(1), plan.Ledger.Documents[0].ID)
	assert.Equal(t, ModeRAG, plan.Ledger.Documents[1].Mode)
	assert.Equal(t, ReasonTokenBudget, plan.Ledger.Documents[1].Reason)
	assert.Equal(t, []uint{2}, plan.Ledger.RAGDocumentIDs)
	assert.Equal(t, []uint{2}, retriever.gotIDs)

	// Inline debits header plus full token length from the budget.
	headerTokens := (len("Document: small.txt\n") + 2) / 3
	assert.Equal(t, headerTokens+3000, plan.Ledger.Documents[0].TokensUsed)

	// Retrieval failed, so the original message goes out unaugmented.
	assert.Equal(t, in.Message, plan.Message)
	assert.Nil(t, plan.Retrieval)
}

func TestBuildTurn_RetrievalRewritesOutgoingMessage(t *testing.T) {
	retriever := &stubRetriever{result: &RetrievalResult{
		AugmentedPrompt: "augmented question with context",
		LatencyMS:       42,
	}}
	planner := NewPlanner(retriever)

	doc := inlineDoc(7, "huge.txt", 50000)
	plan := planner.BuildTurn(context.Background(), PlanInput{
		Message:      "original question",
		ChatID:       "chat-1",
		User:         "alice",
		ContextLimit: 4096,
		Documents:    []model.DocumentView{doc},
	})

	assert.Equal(t, "augmented question with context", plan.Message)
	require.NotNil(t, plan.Retrieval)
	assert.Equal(t, int64(42), plan.Retrieval.LatencyMS)
	assert.Equal(t, "original question", retriever.gotQuestion)

	// The user message at the end carries the augmented text.
	last := plan.Messages[len(plan.Messages)-1]
	assert.Equal(t, RoleUser, last.Role)
	assert.Equal(t, "augmented question with context", last.Content)
}

func TestBuildTurn_UnreadyDocTruncatedIntoRemainingRoom(t *testing.T) {
	planner := NewPlanner(nil)

	doc := inlineDoc(3, "pending.txt", 50000)
	doc.Ready = false
	plan := planner.BuildTurn(context.Background(), PlanInput{
		Message:      "short",
		ChatID:       "c",
		User:         "u",
		ContextLimit: 4096,
		Documents:    []model.DocumentView{doc},
	})

	require.Len(t, plan.Ledger.Documents, 1)
	d := plan.Ledger.Documents[0]
	assert.Equal(t, ModeInlineTruncated, d.Mode)
	assert.True(t, d.Truncated)
	assert.LessOrEqual(t, d.TokensUsed, plan.Ledger.InitialBudget)
}

func TestBuildTurn_NotReadyNoFullTextAwaitsIndex(t *testing.T) {
	planner := NewPlanner(nil)

	doc := model.DocumentView{Document: model.Document{
		ID:   4,
		Name: "scan.pdf",
		Type: "application/pdf",
	}}
	plan := planner.BuildTurn(context.Background(), PlanInput{
		Message:      "hello",
		ChatID:       "c",
		User:         "u",
		ContextLimit: 8192,
		Documents:    []model.DocumentView{doc},
	})

	require.Len(t, plan.Ledger.Documents, 1)
	assert.Equal(t, ModePendingIndex, plan.Ledger.Documents[0].Mode)
	assert.Equal(t, ReasonAwaitingIndex, plan.Ledger.Documents[0].Reason)
	assert.Empty(t, plan.Ledger.RAGDocumentIDs)
}

func TestBuildTurn_MessageOrdering(t *testing.T) {
	planner := NewPlanner(nil)

	plan := planner.BuildTurn(context.Background(), PlanInput{
		Message:        "latest question",
		ChatID:         "c",
		User:           "u",
		ContextLimit:   8192,
		SystemMessages: []Message{{Role: RoleSystem, Content: "you are helpful"}},
		Documents:      []model.DocumentView{inlineDoc(1, "notes.txt", 10)},
		SummaryMessage: "Summary of chat so far",
		Exchanges: []model.Exchange{
			{ID: 1, Prompt: "earlier", Reply: "earlier reply", PromptTokenLength: 3, ReplyTokenLength: 4},
		},
	})

	require.Len(t, plan.Messages, 6)
	assert.Equal(t, "you are helpful", plan.Messages[0].Content)
	assert.True(t, strings.HasPrefix(plan.Messages[1].Content, "Document: notes.txt\n"))
	assert.Equal(t, "Summary of chat so far", plan.Messages[2].Content)
	assert.Equal(t, RoleSystem, plan.Messages[2].Role)
	assert.Equal(t, "earlier reply", plan.Messages[3].Content)
	assert.Equal(t, "earlier", plan.Messages[4].Content)
	assert.Equal(t, "latest question", plan.Messages[5].Content)
}

func TestBuildTurn_NoDocuments(t *testing.T) {
	planner := NewPlanner(nil)
	plan := planner.BuildTurn(context.Background(), PlanInput{
		Message:      "hi",
		ChatID:       "c",
		User:         "u",
		ContextLimit: 1000,
	})
	require.Len(t, plan.Messages, 1)
	assert.Equal(t, 0, plan.ReservedTokens)
}
