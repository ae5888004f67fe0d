package tokens

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
)

// TiktokenCounter approximates Gemini token counts with a BPE encoding.
// Gemini's own tokenizer is not public; o200k_base tracks it closely for
// English prose and JSON.
type TiktokenCounter struct {
	matcher  *ModelMatcher
	encoding tokenizer.Encoding

	once  sync.Once
	codec tokenizer.Codec
	err   error
}

// NewTiktokenCounter creates a counter for Gemini model names.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{
		matcher:  NewModelMatcher([]string{"gemini-", "models/gemini-", "gemma-"}, nil),
		encoding: tokenizer.O200kBase,
	}
}

func (c *TiktokenCounter) getCodec() (tokenizer.Codec, error) {
	c.once.Do(func() {
		c.codec, c.err = tokenizer.Get(c.encoding)
		if c.err != nil {
			c.err = fmt.Errorf("failed to get tokenizer encoding: %w", c.err)
		}
	})
	return c.codec, c.err
}

// CountTokens encodes the text parts and adds the flat per-image cost.
func (c *TiktokenCounter) CountTokens(model string, req *domain.InferenceRequest) (Count, error) {
	codec, err := c.getCodec()
	if err != nil {
		return Count{}, err
	}

	parts := []string{req.System, req.Prompt}
	if len(req.Context) > 0 {
		data, err := json.Marshal(req.Context)
		if err != nil {
			return Count{}, fmt.Errorf("failed to marshal context: %w", err)
		}
		parts = append(parts, "Context: "+string(data))
	}

	total := 0
	for _, p := range parts {
		if p == "" {
			continue
		}
		ids, _, err := codec.Encode(p)
		if err != nil {
			return Count{}, err
		}
		total += len(ids)
	}
	total += len(req.Images) * ImageTokens

	return Count{InputTokens: total, Estimated: true}, nil
}

// SupportsModel reports whether model looks like a Gemini model name.
func (c *TiktokenCounter) SupportsModel(model string) bool {
	return c.matcher.Matches(strings.ToLower(model))
}
