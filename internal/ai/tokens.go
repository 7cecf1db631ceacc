package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens counts tokens with the cl100k_base encoding. When the
// encoding data is unavailable (offline first run) it falls back to the
// usual 4-characters-per-token estimate.
func CountTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})

	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}

	est := len(text) / 4
	if est < 1 && len(text) > 0 {
		est = 1
	}
	return est
}

// FitsBudget reports whether the combined prompt pieces stay under the
// token budget, leaving headroom for the completion.
func FitsBudget(budget int, pieces ...string) bool {
	if budget <= 0 {
		return true
	}
	total := 0
	for _, p := range pieces {
		total += CountTokens(p)
	}
	return total <= budget
}
