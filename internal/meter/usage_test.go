package meter

import (
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenmeter/internal/domain/usage"
)

func TestUsage_Counters_Precedence(t *testing.T) {
	tests := []struct {
		name string
		in   Usage
		want usage.Counters
	}{
		{
			name: "detailed fields win over totals",
			in: Usage{
				Input:  Direction{Total: ptr(100), Text: ptr(30), Audio: ptr(70)},
				Output: Direction{Total: ptr(50), Text: ptr(10), Audio: ptr(40)},
			},
			want: usage.Counters{InputTextTokens: 30, InputAudioTokens: 70, OutputTextTokens: 10, OutputAudioTokens: 40},
		},
		{
			name: "aggregate totals go wholly to text",
			in: Usage{
				Input:  Direction{Total: ptr(120)},
				Output: Direction{Total: ptr(45)},
			},
			want: usage.Counters{InputTextTokens: 120, OutputTextTokens: 45},
		},
		{
			name: "audio without text detail keeps the total as text",
			in: Usage{
				Input: Direction{Total: ptr(20), Audio: ptr(8)},
			},
			want: usage.Counters{InputTextTokens: 20, InputAudioTokens: 8},
		},
		{
			name: "negative counts clamp to zero",
			in: Usage{
				Input:  Direction{Text: ptr(-5), Audio: ptr(3)},
				Output: Direction{Total: ptr(-1)},
			},
			want: usage.Counters{InputAudioTokens: 3},
		},
		{
			name: "empty report",
			want: usage.Counters{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Counters())
		})
	}
}

func TestParseUsage(t *testing.T) {
	raw := []byte(`{
		"total_tokens": 150,
		"input_tokens": 100,
		"output_tokens": 50,
		"input_token_details": {"text_tokens": 40, "audio_tokens": 60, "cached_tokens": 0},
		"output_token_details": {"text_tokens": "ten", "audio_tokens": 35}
	}`)

	u, ok := ParseUsage(raw)
	require.True(t, ok)

	// a non-numeric text detail is treated as absent, so the total is used
	assert.Equal(t, usage.Counters{
		InputTextTokens:   40,
		InputAudioTokens:  60,
		OutputTextTokens:  50,
		OutputAudioTokens: 35,
	}, u.Counters())
}

func TestParseUsage_NotAnObject(t *testing.T) {
	for _, raw := range []string{``, `null`, `[1,2]`, `42`, `{broken`} {
		_, ok := ParseUsage([]byte(raw))
		assert.False(t, ok, "input %q", raw)
	}
}

func TestUsageFromCompletion(t *testing.T) {
	u := UsageFromCompletion(openai.CompletionUsage{
		PromptTokens:     90,
		CompletionTokens: 40,
		TotalTokens:      130,
		PromptTokensDetails: openai.CompletionUsagePromptTokensDetails{
			AudioTokens: 30,
		},
		CompletionTokensDetails: openai.CompletionUsageCompletionTokensDetails{
			AudioTokens: 25,
		},
	})

	assert.Equal(t, usage.Counters{
		InputTextTokens:   60,
		InputAudioTokens:  30,
		OutputTextTokens:  15,
		OutputAudioTokens: 25,
	}, u.Counters())
}
