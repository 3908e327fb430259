package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

func tiktokenLoader(encoding string) Loader {
	return func() (EncodeFunc, error) {
		enc, err := tiktoken.GetEncoding(encoding)
		if err != nil {
			return nil, fmt.Errorf("failed to load tiktoken encoding %s: %w", encoding, err)
		}
		return func(text string) ([]int, error) {
			return enc.Encode(text, nil, nil), nil
		}, nil
	}
}

// Counter estimates prompt sizes for cost reporting
type Counter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	err      error
}

// NewCounter returns a token counter for a tiktoken encoding (e.g. o200k_base)
func NewCounter(encoding string) *Counter {
	return &Counter{encoding: encoding}
}

// Count returns the token count of text, or an estimate when the encoding is unavailable
func (c *Counter) Count(text string) int {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding(c.encoding)
	})
	if c.err != nil {
		// ~4 characters per token for English text
		return (len(text) + 3) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}
