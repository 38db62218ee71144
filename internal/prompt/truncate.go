package prompt

import (
	"strings"

	"staffchat/internal/token"
)

// truncationNote is appended to shortened document text so the model knows
// the content is incomplete.
const truncationNote = "\n\n[Content truncated to fit available context.]"

// TruncatedDocument is the outcome of fitting document text into a token
// budget.
type TruncatedDocument struct {
	Text      string
	Tokens    int
	Truncated bool
}

// TruncateForBudget shortens text so its token estimate fits the budget. The
// longest prefix that fits is found by binary search over byte offsets; when
// even a tiny budget is given a short head of the document is kept so the
// model sees at least something. Estimates only, never exact counts: the
// result must agree with the planner's arithmetic.
func TruncateForBudget(text string, budget int) TruncatedDocument {
	if budget < 0 {
		budget = 0
	}
	total := token.Estimate(text)
	if budget == 0 {
		return TruncatedDocument{Text: "", Tokens: 0, Truncated: total > 0}
	}
	if total <= budget {
		return TruncatedDocument{Text: text, Tokens: total, Truncated: false}
	}

	lo, hi := 0, len(text)
	best := ""
	bestTokens := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		candidate := text[:mid]
		est := token.Estimate(candidate)
		if est <= budget {
			best = candidate
			bestTokens = est
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best == "" {
		head := 160
		if len(text) < head {
			head = len(text)
		}
		best = text[:head]
		bestTokens = token.Estimate(best)
	}

	best = strings.TrimRight(best, " \t\r\n")
	if best != "" && bestTokens+token.Estimate(truncationNote) <= budget {
		best += truncationNote
		bestTokens += token.Estimate(truncationNote)
	}
	if bestTokens > budget {
		bestTokens = budget
	}
	return TruncatedDocument{Text: best, Tokens: bestTokens, Truncated: true}
}
