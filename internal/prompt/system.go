package prompt

import (
	"fmt"
	"time"
)

// StopSentinel is emitted by the model after its final sentence so streaming
// clients can detect a complete reply.
const StopSentinel = "<<END_OF_REPLY>>"

// SystemMessages builds the standing instructions sent ahead of every
// chat-completion turn.
func SystemMessages(appName string, now time.Time, acceptLanguage string) []Message {
	content := fmt.Sprintf(
		"You are %s, a helpful assistant for staff. The current date and time of this prompt is %s (%s). ",
		appName, now.Format("2006-01-02 15:04:05"), now.Location().String(),
	)
	if acceptLanguage != "" {
		content += fmt.Sprintf(
			"The user's browser has the preferred language set to %s, so please reply in that language if possible, unless directed otherwise. ",
			acceptLanguage,
		)
	}
	content += "If you return code, be sure to use the tic-mark (```) notation so that it renders properly in the chat interface. " +
		"If the prompt includes document or RAG context with citation tags, include those tags verbatim next to the relevant statements and do not invent citations. " +
		"Avoid ending with ellipsis notation, but end with a clear conclusion. " +
		fmt.Sprintf("After your final sentence, output the token %s on its own line to indicate the response is complete.", StopSentinel)

	return []Message{{Role: RoleSystem, Content: content}}
}
