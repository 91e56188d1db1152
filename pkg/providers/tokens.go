package providers

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts and truncates prompt text with the cl100k_base encoding.
// When the encoding cannot be loaded it falls back to a character estimate.
type TokenCounter struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
	err      error
}

// NewTokenCounter returns a counter that loads its encoding on first use.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (tc *TokenCounter) load() *tiktoken.Tiktoken {
	tc.once.Do(func() {
		tc.encoding, tc.err = tiktoken.GetEncoding("cl100k_base")
	})
	return tc.encoding
}

// Err returns the encoding load error, if any.
func (tc *TokenCounter) Err() error {
	tc.load()
	return tc.err
}

// Count returns the number of tokens in text.
func (tc *TokenCounter) Count(text string) int {
	if enc := tc.load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return EstimateTokens(text)
}

// Truncate returns the longest prefix of text within maxTokens.
func (tc *TokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	// Every token covers at least one byte.
	if len(text) <= maxTokens {
		return text
	}
	if enc := tc.load(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return enc.Decode(tokens[:maxTokens])
	}
	runes := []rune(text)
	if limit := maxTokens * 3; len(runes) > limit {
		return string(runes[:limit])
	}
	return text
}

// EstimateTokens approximates a token count as one token per three characters.
func EstimateTokens(text string) int {
	return len([]rune(text)) / 3
}
