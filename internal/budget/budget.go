// Package budget provides token counting for prompt construction. Counting
// uses the cl100k_base tokenizer, which is close enough for budget purposes
// across the supported chat backends; if the tokenizer fails to load (it
// fetches its vocabulary on first use), a conservative character heuristic
// of 4 characters per token takes over so prompt assembly never fails on
// accounting.
package budget

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// charsPerToken is the fallback character-to-token ratio. 4 chars/token
	// is standard for English prose and deliberately under-estimates.
	charsPerToken = 4

	// encodingName is the tokenizer used for counting.
	encodingName = "cl100k_base"

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models while leaving room
	// for the output.
	DefaultMaxContextTokens = 6000

	// turnOverheadTokens is the per-message overhead most chat APIs add.
	turnOverheadTokens = 4
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// Count returns the token count of s.
func Count(s string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err == nil {
			encoding = enc
		}
	})

	if encoding == nil {
		n := len(s) / charsPerToken
		if n == 0 && len(s) > 0 {
			return 1
		}
		return n
	}
	return len(encoding.Encode(s, nil, nil))
}

// CountTurn returns the token count of one conversation turn including the
// per-message API overhead.
func CountTurn(role, content string) int {
	return turnOverheadTokens + Count(role) + Count(content)
}
