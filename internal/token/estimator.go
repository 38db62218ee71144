package token

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Estimate approximates the token count of text. It is deliberately cheap
// (one byte-length division, no tokenizer) and is what every budgeting
// decision in the prompt pipeline uses. Monotonic in input length; 0 for
// empty input.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 2) / 3
}

// ExactCounter wraps a real tokenizer for the few places that need a precise
// count, such as the oversize-prompt boundary. Construction is not free, so
// callers should build one and reuse it.
type ExactCounter struct {
	codec tokenizer.Codec
}

// NewExactCounter returns a counter using the GPT-4 encoding, which is close
// enough for every deployment family this app talks to.
func NewExactCounter() (*ExactCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("create tokenizer codec failed: %w", err)
	}
	return &ExactCounter{codec: codec}, nil
}

// Count returns the exact token count, falling back to the fast estimate when
// the codec rejects the input.
func (c *ExactCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c == nil || c.codec == nil {
		return Estimate(text)
	}
	n, err := c.codec.Count(text)
	if err != nil {
		return Estimate(text)
	}
	return n
}
