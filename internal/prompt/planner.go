package prompt

import (
	"context"
	"log"
	"sort"

	"staffchat/internal/model"
	"staffchat/internal/token"
)

// fixedReserve leaves headroom for message framing when computing the
// document budget.
const fixedReserve = 1024

// Document inclusion modes recorded in the decision ledger.
const (
	ModeInline          = "inline"
	ModeInlineTruncated = "inline_truncated"
	ModeRAG             = "rag"
	ModePendingIndex    = "pending_index"
)

// Reasons a document was not inlined.
const (
	ReasonTokenBudget   = "token_budget"
	ReasonNoBudget      = "no_budget"
	ReasonAwaitingIndex = "awaiting_index"
	ReasonNoFullText    = "no_fulltext"
)

// Retriever augments a question with retrieved document context. An error is
// a soft failure; the planner logs it and sends the original question.
type Retriever interface {
	Retrieve(ctx context.Context, question, chatID, user string, documentIDs []uint) (*RetrievalResult, error)
}

// RetrievalResult is a successful augmentation.
type RetrievalResult struct {
	AugmentedPrompt string
	Citations       []Citation
	LatencyMS       int64
	EmbeddingModel  string
}

// Citation points a reply statement back at a source chunk.
type Citation struct {
	Tag        string `json:"tag"`
	DocumentID uint   `json:"document_id"`
	Source     string `json:"source"`
	Page       int    `json:"page,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

// DocumentDecision records how one document was handled for this turn.
type DocumentDecision struct {
	ID                uint   `json:"id"`
	Name              string `json:"name"`
	Type              string `json:"type"`
	FullTextAvailable bool   `json:"full_text_available"`
	Ready             bool   `json:"document_ready"`
	TokenLength       int    `json:"document_token_length"`
	Mode              string `json:"mode"`
	Reason            string `json:"reason,omitempty"`
	TokensUsed        int    `json:"tokens_used,omitempty"`
	RemainingBudget   int    `json:"remaining_budget,omitempty"`
	Truncated         bool   `json:"truncated,omitempty"`
}

// Ledger is the per-turn record of document strategy, kept for diagnostics.
type Ledger struct {
	InitialBudget   int                `json:"initial_budget"`
	RemainingBudget int                `json:"remaining_budget"`
	Documents       []DocumentDecision `json:"documents"`
	RAGDocumentIDs  []uint             `json:"rag_document_ids"`
}

// PlanInput is everything the planner needs for one chat-completion turn.
type PlanInput struct {
	Message        string
	ChatID         string
	User           string
	ContextLimit   int
	SystemMessages []Message
	Documents      []model.DocumentView
	SummaryMessage string
	Exchanges      []model.Exchange
}

// Plan is the assembled turn.
type Plan struct {
	Messages       []Message
	Message        string // possibly retrieval-augmented
	Ledger         Ledger
	Retrieval      *RetrievalResult
	ReservedTokens int
}

// Planner fits documents, summary and history into the model's context
// window and produces the final ordered message sequence.
type Planner struct {
	retriever Retriever
}

func NewPlanner(retriever Retriever) *Planner {
	return &Planner{retriever: retriever}
}

// BuildTurn assembles the messages for one chat-completion request. Smallest
// inline-eligible documents are packed first so as many as possible fit
// whole; whatever cannot be inlined is deferred to retrieval when its index
// is ready.
func (p *Planner) BuildTurn(ctx context.Context, in PlanInput) Plan {
	message := in.Message

	initialBudget := in.ContextLimit - token.Estimate(message) - fixedReserve
	if initialBudget < 0 {
		initialBudget = 0
	}
	budget := initialBudget

	var documentMessages []Message
	var ragIDs []uint
	var decisions []DocumentDecision

	for _, doc := range orderDocuments(in.Documents) {
		if doc.ID == 0 {
			continue
		}
		docTokens := doc.TokenLength
		fullAvailable := doc.FullTextAvailable && !doc.IsImage() && doc.Content != ""
		if fullAvailable && docTokens <= 0 {
			docTokens = token.Estimate(doc.Content)
		}

		decision := DocumentDecision{
			ID:                doc.ID,
			Name:              doc.Name,
			Type:              doc.Type,
			FullTextAvailable: fullAvailable,
			Ready:             doc.Ready,
			TokenLength:       docTokens,
		}

		if fullAvailable {
			header := "Document: " + doc.Name
			headerTokens := token.Estimate(header + "\n")

			if budget >= headerTokens+docTokens {
				documentMessages = append(documentMessages, Message{
					Role:    RoleSystem,
					Content: header + "\n" + doc.Content,
				})
				spent := headerTokens + docTokens
				budget = max(0, budget-spent)
				decision.Mode = ModeInline
				decision.TokensUsed = spent
				decision.RemainingBudget = budget
				decisions = append(decisions, decision)
				continue
			}

			availableForBody := max(0, budget-headerTokens)
			if availableForBody > 0 && !doc.Ready {
				clip := TruncateForBudget(doc.Content, availableForBody)
				if clip.Text != "" {
					documentMessages = append(documentMessages, Message{
						Role:    RoleSystem,
						Content: header + "\n" + clip.Text,
					})
					spent := headerTokens + clip.Tokens
					budget = max(0, budget-spent)
					decision.Mode = ModeInlineTruncated
					decision.TokensUsed = spent
					decision.RemainingBudget = budget
					decision.Truncated = true
					decisions = append(decisions, decision)
					continue
				}
			}

			if doc.Ready {
				ragIDs = append(ragIDs, doc.ID)
				decision.Mode = ModeRAG
				decision.Reason = ReasonTokenBudget
			} else {
				decision.Mode = ModePendingIndex
				if availableForBody <= 0 {
					decision.Reason = ReasonNoBudget
				} else {
					decision.Reason = ReasonAwaitingIndex
				}
			}
			decisions = append(decisions, decision)
			continue
		}

		if doc.Ready {
			ragIDs = append(ragIDs, doc.ID)
			decision.Mode = ModeRAG
			decision.Reason = ReasonNoFullText
		} else {
			decision.Mode = ModePendingIndex
			decision.Reason = ReasonAwaitingIndex
		}
		decisions = append(decisions, decision)
	}

	ragIDs = dedupIDs(ragIDs)

	var retrieval *RetrievalResult
	if len(ragIDs) > 0 && p.retriever != nil {
		result, err := p.retriever.Retrieve(ctx, message, in.ChatID, in.User, ragIDs)
		if err != nil {
			log.Printf("retrieval failed, falling back to raw message: %v", err)
		} else {
			message = result.AugmentedPrompt
			retrieval = result
		}
	}

	var summaryMessages []Message
	if in.SummaryMessage != "" {
		summaryMessages = append(summaryMessages, Message{Role: RoleSystem, Content: in.SummaryMessage})
		budget = max(0, budget-token.Estimate(in.SummaryMessage))
	}

	reserved := max(0, initialBudget-budget)
	history := HistoryMessages(in.Exchanges, message, in.ContextLimit, reserved)

	messages := make([]Message, 0, len(in.SystemMessages)+len(documentMessages)+len(summaryMessages)+len(history)+1)
	messages = append(messages, in.SystemMessages...)
	messages = append(messages, documentMessages...)
	messages = append(messages, summaryMessages...)
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: message})

	return Plan{
		Messages: messages,
		Message:  message,
		Ledger: Ledger{
			InitialBudget:   initialBudget,
			RemainingBudget: budget,
			Documents:       decisions,
			RAGDocumentIDs:  ragIDs,
		},
		Retrieval:      retrieval,
		ReservedTokens: reserved,
	}
}

// orderDocuments puts inline-eligible documents first, smallest token length
// first with document id as tie break, followed by everything else in the
// original order.
func orderDocuments(docs []model.DocumentView) []model.DocumentView {
	var inline, rest []model.DocumentView
	for _, d := range docs {
		if d.FullTextAvailable && !d.IsImage() && d.Content != "" {
			inline = append(inline, d)
		} else {
			rest = append(rest, d)
		}
	}
	sort.Slice(inline, func(i, j int) bool {
		if inline[i].TokenLength == inline[j].TokenLength {
			return inline[i].ID < inline[j].ID
		}
		return inline[i].TokenLength < inline[j].TokenLength
	})
	return append(inline, rest...)
}

func dedupIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	var out []uint
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
