package prompt

import (
	"strings"

	"staffchat/internal/token"
)

const (
	reserveFloor   = 1024
	ellipsisMarker = "\n\n[... middle of submission omitted; full text attached as a document ...]\n\n"
)

// ExactCounter reports a precise token count. Only the promotion decision
// pays for exact counting; everything else budgets with estimates.
type ExactCounter interface {
	Count(text string) int
}

// OversizeGate decides whether a raw submission is too large to send as a
// chat message and builds the shortened placeholder that goes to the model in
// its place.
type OversizeGate struct {
	reserveTokens int
	excerptTokens int
	counter       ExactCounter
}

func NewOversizeGate(reserveTokens, excerptTokens int, counter ExactCounter) *OversizeGate {
	if reserveTokens < reserveFloor {
		reserveTokens = reserveFloor
	}
	if excerptTokens <= 0 {
		excerptTokens = 1200
	}
	return &OversizeGate{
		reserveTokens: reserveTokens,
		excerptTokens: excerptTokens,
		counter:       counter,
	}
}

func (g *OversizeGate) ReserveTokens() int { return g.reserveTokens }

// NeedsPromotion reports whether the message plus the reserved reply buffer
// cannot fit the context window. The cheap estimate short-circuits the common
// case; the exact tokenizer only runs on messages the estimate flags.
func (g *OversizeGate) NeedsPromotion(message string, contextLimit int) bool {
	if strings.TrimSpace(message) == "" || contextLimit <= 0 {
		return false
	}
	if token.Estimate(message)+g.reserveTokens <= contextLimit {
		return false
	}
	exact := token.Estimate(message)
	if g.counter != nil {
		exact = g.counter.Count(message)
	}
	return exact+g.reserveTokens > contextLimit
}

// Placeholder synthesizes the prompt sent instead of the oversized paste: an
// explanation naming the attached document, the head of the submission, and a
// tail fragment when the whole text exceeds the excerpt budget.
func (g *OversizeGate) Placeholder(message, documentName string) string {
	headBudget := g.excerptTokens * 65 / 100
	tailBudget := g.excerptTokens - headBudget

	var b strings.Builder
	b.WriteString("The user pasted a submission too large to include directly, so it was attached to this chat as the document \"")
	b.WriteString(documentName)
	b.WriteString("\" and indexed for retrieval. Answer using the excerpt below together with any retrieved context from that document.\n\n")

	head := prefixForBudget(message, headBudget)
	b.WriteString(strings.TrimRight(head, " \t\r\n"))

	if token.Estimate(message) > g.excerptTokens {
		tail := suffixForBudget(message, tailBudget)
		if tail != "" {
			b.WriteString(ellipsisMarker)
			b.WriteString(strings.TrimLeft(tail, " \t\r\n"))
		}
	}
	return b.String()
}

// prefixForBudget returns the longest prefix whose token estimate fits.
func prefixForBudget(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if token.Estimate(text) <= budget {
		return text
	}
	lo, hi := 0, len(text)
	best := ""
	for lo <= hi {
		mid := (lo + hi) / 2
		if token.Estimate(text[:mid]) <= budget {
			best = text[:mid]
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

// suffixForBudget returns the longest suffix whose token estimate fits.
func suffixForBudget(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if token.Estimate(text) <= budget {
		return text
	}
	lo, hi := 0, len(text)
	best := ""
	for lo <= hi {
		mid := (lo + hi) / 2
		if token.Estimate(text[len(text)-mid:]) <= budget {
			best = text[len(text)-mid:]
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}
