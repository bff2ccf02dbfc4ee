package tokenizer

import (
	"strings"
)

// CountTokens provides a rough token count estimate.
// Used for demo responses and chain estimates, never for billing.
func CountTokens(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	// Rough estimate: ~4 chars per token for English
	byWords := len(strings.Fields(text)) * 4 / 3
	byChars := len(text) / 4
	return max(byWords, byChars, 1)
}
