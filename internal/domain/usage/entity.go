package usage

import "time"

// DefaultTTL is how long an idle TotalsRecord survives before the next read
// replaces it with a fresh zero record.
const DefaultTTL = 6 * time.Hour

// Category identifies one of the four usage buckets.
type Category string

const (
	InputText   Category = "input_text"
	OutputText  Category = "output_text"
	InputAudio  Category = "input_audio"
	OutputAudio Category = "output_audio"
)

// Categories lists every bucket in a stable order.
var Categories = []Category{InputText, OutputText, InputAudio, OutputAudio}

// Counters holds the four token counts tracked per session or per user.
type Counters struct {
	InputTextTokens   int64 `json:"inputTextTokens"`
	OutputTextTokens  int64 `json:"outputTextTokens"`
	InputAudioTokens  int64 `json:"inputAudioTokens"`
	OutputAudioTokens int64 `json:"outputAudioTokens"`
}

// Get returns the count for a category.
func (c Counters) Get(cat Category) int64 {
	switch cat {
	case InputText:
		return c.InputTextTokens
	case OutputText:
		return c.OutputTextTokens
	case InputAudio:
		return c.InputAudioTokens
	case OutputAudio:
		return c.OutputAudioTokens
	}
	return 0
}

// With returns a copy of c with the category set to n.
func (c Counters) With(cat Category, n int64) Counters {
	switch cat {
	case InputText:
		c.InputTextTokens = n
	case OutputText:
		c.OutputTextTokens = n
	case InputAudio:
		c.InputAudioTokens = n
	case OutputAudio:
		c.OutputAudioTokens = n
	}
	return c
}

// Add returns the field-wise sum of c and o.
func (c Counters) Add(o Counters) Counters {
	return Counters{
		InputTextTokens:   c.InputTextTokens + o.InputTextTokens,
		OutputTextTokens:  c.OutputTextTokens + o.OutputTextTokens,
		InputAudioTokens:  c.InputAudioTokens + o.InputAudioTokens,
		OutputAudioTokens: c.OutputAudioTokens + o.OutputAudioTokens,
	}
}

// Since returns max(0, c - prev) per category.
func (c Counters) Since(prev Counters) Delta {
	return Delta{
		InputTextTokens:   clamp(c.InputTextTokens - prev.InputTextTokens),
		OutputTextTokens:  clamp(c.OutputTextTokens - prev.OutputTextTokens),
		InputAudioTokens:  clamp(c.InputAudioTokens - prev.InputAudioTokens),
		OutputAudioTokens: clamp(c.OutputAudioTokens - prev.OutputAudioTokens),
	}
}

// Max returns the field-wise maximum of c and o.
func (c Counters) Max(o Counters) Counters {
	return Counters{
		InputTextTokens:   max(c.InputTextTokens, o.InputTextTokens),
		OutputTextTokens:  max(c.OutputTextTokens, o.OutputTextTokens),
		InputAudioTokens:  max(c.InputAudioTokens, o.InputAudioTokens),
		OutputAudioTokens: max(c.OutputAudioTokens, o.OutputAudioTokens),
	}
}

// Min returns the field-wise minimum of c and o.
func (c Counters) Min(o Counters) Counters {
	return Counters{
		InputTextTokens:   min(c.InputTextTokens, o.InputTextTokens),
		OutputTextTokens:  min(c.OutputTextTokens, o.OutputTextTokens),
		InputAudioTokens:  min(c.InputAudioTokens, o.InputAudioTokens),
		OutputAudioTokens: min(c.OutputAudioTokens, o.OutputAudioTokens),
	}
}

// InputTokens is text plus audio input.
func (c Counters) InputTokens() int64 { return c.InputTextTokens + c.InputAudioTokens }

// OutputTokens is text plus audio output.
func (c Counters) OutputTokens() int64 { return c.OutputTextTokens + c.OutputAudioTokens }

// IsZero reports whether every category is zero.
func (c Counters) IsZero() bool { return c == Counters{} }

// Delta is a non-negative increment to a TotalsRecord. Absent categories are zero.
type Delta Counters

// Normalize clamps negative categories to zero.
func (d Delta) Normalize() Delta {
	return Delta{
		InputTextTokens:   clamp(d.InputTextTokens),
		OutputTextTokens:  clamp(d.OutputTextTokens),
		InputAudioTokens:  clamp(d.InputAudioTokens),
		OutputAudioTokens: clamp(d.OutputAudioTokens),
	}
}

// Counters returns the delta as a Counters value.
func (d Delta) Counters() Counters { return Counters(d) }

// IsZero reports whether the delta carries no increment.
func (d Delta) IsZero() bool { return Counters(d).IsZero() }

// Totals is the server-held aggregate for one user.
type Totals struct {
	Counters
	UpdatedAt time.Time
}

// FreshTotals returns an all-zero record stamped at now.
func FreshTotals(now time.Time) Totals {
	return Totals{UpdatedAt: now}
}

// Expired reports whether the record is too old to be served at now.
func (t Totals) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(t.UpdatedAt) >= ttl
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
