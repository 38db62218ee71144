package summary

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Summary is the structured chat summary the generator produces and the chat
// row stores as JSON.
type Summary struct {
	OverallSummary string   `json:"overall_summary"`
	KeyEntities    []Entity `json:"key_entities"`
	Keywords       []string `json:"keywords"`
	SubjectTags    []string `json:"subject_tags"`
	Metadata       Metadata `json:"metadata"`
}

type Entity struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Details string `json:"details"`
}

type Metadata struct {
	GeneratedAt             string `json:"generated_at"`
	Deployment              string `json:"deployment"`
	LastExchangeID          uint   `json:"last_exchange_id,omitempty"`
	ConsideredExchangeCount int    `json:"considered_exchange_count"`
	ExcerptTokens           int    `json:"excerpt_tokens"`
	ResponseTokens          int    `json:"response_tokens"`
}

// Decode parses a stored summary payload. Blank or malformed payloads return
// nil rather than an error; a chat without a usable summary simply has none.
func Decode(payload string) *Summary {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	var s Summary
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return nil
	}
	return &s
}

// FormatContextMessage renders a stored summary into the system-message text
// injected ahead of chat history. Returns "" when there is nothing to show.
func FormatContextMessage(payload string) string {
	s := Decode(payload)
	if s == nil {
		return ""
	}

	var parts []string
	parts = append(parts, "Chat summary (auto-generated).")
	if s.Metadata.GeneratedAt != "" {
		parts = append(parts, "Generated at: "+s.Metadata.GeneratedAt)
	}

	if overall := strings.TrimSpace(s.OverallSummary); overall != "" {
		parts = append(parts, "\nOverall summary:\n"+overall)
	}

	var entityLines []string
	for _, e := range s.KeyEntities {
		if e.Name == "" && e.Details == "" {
			continue
		}
		entityType := e.Type
		if entityType == "" {
			entityType = "item"
		}
		line := fmt.Sprintf("- [%s] %s", entityType, e.Name)
		if e.Details != "" {
			line += ": " + e.Details
		}
		entityLines = append(entityLines, line)
	}
	if len(entityLines) > 0 {
		parts = append(parts, "\nKey entities:\n"+strings.Join(entityLines, "\n"))
	}

	if len(s.Keywords) > 0 {
		parts = append(parts, "\nKeywords: "+strings.Join(s.Keywords, ", "))
	}
	if len(s.SubjectTags) > 0 {
		parts = append(parts, "\nSubject tags: "+strings.Join(s.SubjectTags, ", "))
	}

	return strings.TrimSpace(strings.Join(parts, "\n"))
}
