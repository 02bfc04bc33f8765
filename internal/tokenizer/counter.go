package tokenizer

import (
	"context"
	"unicode/utf8"
)

// Counter returns the number of tokens text occupies under model.
// An empty model means the default encoding.
type Counter interface {
	Count(ctx context.Context, text, model string) (int, error)
}

// Estimate is the offline heuristic used when no tokenizer answers:
// one token per four characters, rounded up.
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// EstimateCounter counts with Estimate only
type EstimateCounter struct{}

// Count implements Counter
func (EstimateCounter) Count(_ context.Context, text, _ string) (int, error) {
	return Estimate(text), nil
}
