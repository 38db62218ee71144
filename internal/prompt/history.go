package prompt

import (
	"strings"

	"staffchat/internal/model"
	"staffchat/internal/token"
)

// perExchangeOverhead approximates the protocol framing cost of one
// prompt/reply pair.
const perExchangeOverhead = 8

// HistoryMessages selects as many recent exchanges as fit into the context
// window after the reserved token count. Exchanges are considered newest
// first and admitted whole; the first pair that would overflow ends the walk.
// Replies from image deployments carry no reusable text, so their reply
// tokens are counted as zero.
//
// The returned slice keeps the selection's reversed flat order, with the
// assistant reply of each pair preceding its prompt. Downstream consumers
// depend on this exact ordering.
func HistoryMessages(exchanges []model.Exchange, message string, contextLimit, reservedTokens int) []Message {
	budget := contextLimit - reservedTokens
	total := token.Estimate(message)

	var flat []Message
	for i := len(exchanges) - 1; i >= 0; i-- {
		ex := exchanges[i]
		promptTokens := ex.PromptTokenLength
		if promptTokens <= 0 {
			promptTokens = token.Estimate(ex.Prompt)
		}
		replyTokens := ex.ReplyTokenLength
		if replyTokens <= 0 {
			replyTokens = token.Estimate(ex.Reply)
		}
		if strings.Contains(strings.ToLower(ex.Deployment), "dall-e") {
			replyTokens = 0
		}

		needed := promptTokens + replyTokens + perExchangeOverhead
		if total+needed > budget {
			break
		}
		total += needed
		flat = append(flat, Message{Role: RoleUser, Content: ex.Prompt})
		flat = append(flat, Message{Role: RoleAssistant, Content: ex.Reply})
	}

	for i, j := 0, len(flat)-1; i < j; i, j = i+1, j-1 {
		flat[i], flat[j] = flat[j], flat[i]
	}
	return flat
}
