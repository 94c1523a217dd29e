package llm

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// mediaTokenEstimate approximates the cost of one media blob. Providers
// bill images by resolution tiers; a flat estimate keeps budgeting simple
// and errs high.
const mediaTokenEstimate = 768

// TokenCounter counts tokens for budgeting decisions. Counts are estimates
// shared across dialects (cl100k_base); the renderer only needs them to be
// consistent, not provider-exact.
type TokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter creates a lazy counter. The encoding is loaded on first
// use; on load failure counting falls back to a bytes/4 heuristic.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (c *TokenCounter) encoding() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("token encoding unavailable, using byte heuristic", "error", err)
			return
		}
		c.enc = enc
	})
	return c.enc
}

// Count returns the token count of a text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// CountContent counts one content item.
func (c *TokenCounter) CountContent(content Content) int {
	n := c.Count(content.Text)
	if content.Media != nil {
		n += mediaTokenEstimate
	}
	return n
}
