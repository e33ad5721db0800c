// Package tokens counts tokens in pipeline output so callers can size what
// they received before passing it on to a model.
package tokens

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// DefaultEncoding is the BPE encoding used when none is configured.
const DefaultEncoding = tokenizer.Cl100kBase

// Count is the result of counting a piece of text.
type Count struct {
	Tokens int `json:"tokens"`
	// Estimated is true when the count came from the character heuristic.
	Estimated bool `json:"estimated,omitempty"`
}

// Counter counts tokens in text.
type Counter interface {
	CountText(text string) Count
}

// TiktokenCounter counts with a tiktoken encoding, falling back to the
// estimator if the codec cannot be loaded or fails to encode.
type TiktokenCounter struct {
	encoding tokenizer.Encoding
	fallback *Estimator

	once     sync.Once
	codec    tokenizer.Codec
	codecErr error
}

// NewTiktokenCounter creates a counter for encoding. An empty encoding
// selects DefaultEncoding.
func NewTiktokenCounter(encoding tokenizer.Encoding) *TiktokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &TiktokenCounter{
		encoding: encoding,
		fallback: NewEstimator(),
	}
}

func (c *TiktokenCounter) getCodec() (tokenizer.Codec, error) {
	c.once.Do(func() {
		codec, err := tokenizer.Get(c.encoding)
		if err != nil {
			c.codecErr = fmt.Errorf("failed to get tokenizer encoding %s: %w", c.encoding, err)
			return
		}
		c.codec = codec
	})
	return c.codec, c.codecErr
}

// CountText counts tokens in text.
func (c *TiktokenCounter) CountText(text string) Count {
	if text == "" {
		return Count{}
	}
	codec, err := c.getCodec()
	if err != nil {
		return c.fallback.CountText(text)
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return c.fallback.CountText(text)
	}
	return Count{Tokens: len(ids)}
}

// Estimator approximates token counts from character length.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		CharsPerToken: 4.0,
	}
}

// CountText estimates the token count, rounding up.
func (e *Estimator) CountText(text string) Count {
	if text == "" {
		return Count{Estimated: true}
	}
	per := e.CharsPerToken
	if per <= 0 {
		per = 4.0
	}
	chars := float64(len([]rune(text)))
	tokens := int(chars / per)
	if float64(tokens)*per < chars {
		tokens++
	}
	return Count{Tokens: tokens, Estimated: true}
}
