package modeladapter

import (
	"unicode/utf8"

	"github.com/germanamz/promptlab/pkg/chats/message"
)

// perMessageOverhead is the estimated token overhead for each message (role,
// structure delimiters, etc.).
const perMessageOverhead = 4

// TokenEstimator estimates token counts for backends that omit usage in their
// responses. It uses a character-to-token heuristic of roughly one token per
// four characters. The zero value is ready to use.
type TokenEstimator struct{}

// charsToTokens converts a character count to an estimated token count.
func charsToTokens(chars int) int {
	return (chars + 3) / 4 // round up
}

// EstimateText estimates the tokens in a single text.
func (e TokenEstimator) EstimateText(s string) int {
	return charsToTokens(utf8.RuneCountInString(s))
}

// EstimateMessages estimates the input tokens for a conversation, including
// per-message structural overhead.
func (e TokenEstimator) EstimateMessages(msgs []message.Message) int {
	tokens := 0
	for _, m := range msgs {
		tokens += perMessageOverhead + e.EstimateText(m.Content)
	}
	return tokens
}

// FillEstimates sets missing token counts on c from the request and reply
// text and flags the completion with MetaTokensEstimated.
func (e TokenEstimator) FillEstimates(c *Completion, msgs []message.Message) {
	if c.PromptTokens != nil && c.CompletionTokens != nil {
		return
	}
	if c.PromptTokens == nil {
		c.PromptTokens = IntPtr(e.EstimateMessages(msgs))
	}
	if c.CompletionTokens == nil {
		c.CompletionTokens = IntPtr(e.EstimateText(c.Content))
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	c.Metadata[MetaTokensEstimated] = true
}
