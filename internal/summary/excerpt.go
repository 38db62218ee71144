package summary

import (
	"strings"

	"staffchat/internal/model"
	"staffchat/internal/token"
)

// Excerpt is the transcript slice fed to the summarizer.
type Excerpt struct {
	Blocks        []string
	ConsideredIDs []uint
	Tokens        int
}

// BuildExcerpt collects recent exchanges into "User:/Assistant:" blocks,
// newest first, until the token budget is spent, then restores chronological
// order. At least one block is always kept so the summarizer has something to
// work from; the id of the exchange that broke the budget still counts as
// considered so the next summary run picks up after it.
func BuildExcerpt(exchanges []model.Exchange, maxTokens int) Excerpt {
	if maxTokens <= 0 {
		maxTokens = 4000
	}

	var blocks []string
	var consideredIDs []uint
	running := 0

	for i := len(exchanges) - 1; i >= 0; i-- {
		ex := exchanges[i]
		var parts []string
		if p := strings.TrimSpace(ex.Prompt); p != "" {
			parts = append(parts, "User: "+p)
		}
		if r := strings.TrimSpace(ex.Reply); r != "" {
			parts = append(parts, "Assistant: "+r)
		}
		if len(parts) == 0 {
			continue
		}

		block := strings.Join(parts, "\n")
		blockTokens := token.Estimate(block)

		if ex.ID > 0 {
			consideredIDs = append(consideredIDs, ex.ID)
		}
		if running > 0 && running+blockTokens > maxTokens {
			break
		}
		running += blockTokens
		blocks = append(blocks, block)
	}

	if len(blocks) == 0 {
		blocks = append(blocks, "User: [content omitted due to size constraints]")
	}

	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}

	return Excerpt{Blocks: blocks, ConsideredIDs: consideredIDs, Tokens: running}
}

// LastExchangeID returns the highest considered exchange id, 0 when none.
func (e Excerpt) LastExchangeID() uint {
	var last uint
	for _, id := range e.ConsideredIDs {
		if id > last {
			last = id
		}
	}
	return last
}
