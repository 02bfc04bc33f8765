package meter

import (
	"github.com/openai/openai-go/v3"
	"github.com/tidwall/gjson"

	"tokenmeter/internal/domain/usage"
)

// Direction is one side of a usage report. Nil means the field was absent.
type Direction struct {
	Total *int64
	Text  *int64
	Audio *int64
}

// Usage is a structured usage report with optional per-category detail
type Usage struct {
	Input  Direction
	Output Direction
}

// Meta qualifies a usage report
type Meta struct {
	// Model prices the report; empty means the aggregator's model
	Model string
}

// split applies the precedence rule: a detailed text count wins, otherwise
// the aggregate total is attributed wholly to text. Audio is only counted
// when reported.
func (d Direction) split() (text, audio int64) {
	switch {
	case d.Text != nil:
		text = *d.Text
	case d.Total != nil:
		text = *d.Total
	}
	if d.Audio != nil {
		audio = *d.Audio
	}
	return max(text, 0), max(audio, 0)
}

// Counters converts the report to per-category counts
func (u Usage) Counters() usage.Counters {
	inText, inAudio := u.Input.split()
	outText, outAudio := u.Output.split()
	return usage.Counters{
		InputTextTokens:   inText,
		OutputTextTokens:  outText,
		InputAudioTokens:  inAudio,
		OutputAudioTokens: outAudio,
	}
}

// ParseUsage reads a realtime `usage` object. ok is false when raw is not a JSON object.
func ParseUsage(raw []byte) (Usage, bool) {
	if !gjson.ValidBytes(raw) {
		return Usage{}, false
	}
	return UsageFromJSON(gjson.ParseBytes(raw))
}

// UsageFromJSON reads an already parsed realtime `usage` object
func UsageFromJSON(v gjson.Result) (Usage, bool) {
	if !v.IsObject() {
		return Usage{}, false
	}
	return Usage{
		Input: Direction{
			Total: optionalCount(v.Get("input_tokens")),
			Text:  optionalCount(v.Get("input_token_details.text_tokens")),
			Audio: optionalCount(v.Get("input_token_details.audio_tokens")),
		},
		Output: Direction{
			Total: optionalCount(v.Get("output_tokens")),
			Text:  optionalCount(v.Get("output_token_details.text_tokens")),
			Audio: optionalCount(v.Get("output_token_details.audio_tokens")),
		},
	}, true
}

// UsageFromCompletion maps chat-completion usage, whose totals include audio,
// onto a usage report with explicit text detail.
func UsageFromCompletion(u openai.CompletionUsage) Usage {
	inAudio := u.PromptTokensDetails.AudioTokens
	outAudio := u.CompletionTokensDetails.AudioTokens
	return Usage{
		Input: Direction{
			Total: ptr(u.PromptTokens),
			Text:  ptr(max(u.PromptTokens-inAudio, 0)),
			Audio: ptr(inAudio),
		},
		Output: Direction{
			Total: ptr(u.CompletionTokens),
			Text:  ptr(max(u.CompletionTokens-outAudio, 0)),
			Audio: ptr(outAudio),
		},
	}
}

func optionalCount(v gjson.Result) *int64 {
	if v.Type != gjson.Number {
		return nil
	}
	return ptr(v.Int())
}

func ptr(n int64) *int64 { return &n }
