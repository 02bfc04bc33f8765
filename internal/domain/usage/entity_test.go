package usage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters_SinceClampsNegative(t *testing.T) {
	prev := Counters{InputTextTokens: 10, OutputTextTokens: 4, InputAudioTokens: 0, OutputAudioTokens: 7}
	cur := Counters{InputTextTokens: 3, OutputTextTokens: 9, InputAudioTokens: 2, OutputAudioTokens: 7}

	d := cur.Since(prev)

	assert.Equal(t, Delta{InputTextTokens: 0, OutputTextTokens: 5, InputAudioTokens: 2, OutputAudioTokens: 0}, d)
	for _, cat := range Categories {
		assert.GreaterOrEqual(t, d.Counters().Get(cat), int64(0), "category %s", cat)
	}
}

func TestCounters_MaxNeverLowers(t *testing.T) {
	local := Counters{InputTextTokens: 5}
	server := Counters{InputTextTokens: 3, OutputAudioTokens: 9}

	assert.Equal(t, Counters{InputTextTokens: 5, OutputAudioTokens: 9}, local.Max(server))
}

func TestCounters_Min(t *testing.T) {
	last := Counters{InputTextTokens: 7, OutputTextTokens: 2}
	current := Counters{InputTextTokens: 0, OutputTextTokens: 4}

	assert.Equal(t, Counters{OutputTextTokens: 2}, last.Min(current))
}

func TestCounters_GetWith(t *testing.T) {
	var c Counters
	for i, cat := range Categories {
		c = c.With(cat, int64(i+1))
	}

	assert.Equal(t, Counters{InputTextTokens: 1, OutputTextTokens: 2, InputAudioTokens: 3, OutputAudioTokens: 4}, c)
	assert.Equal(t, int64(4), c.InputTokens())
	assert.Equal(t, int64(6), c.OutputTokens())
	assert.Equal(t, int64(0), c.Get(Category("unknown")))
}

func TestDelta_Normalize(t *testing.T) {
	d := Delta{InputTextTokens: -4, OutputTextTokens: 2}.Normalize()

	assert.Equal(t, Delta{OutputTextTokens: 2}, d)
	assert.False(t, d.IsZero())
	assert.True(t, Delta{}.IsZero())
}

func TestTotals_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, Totals{UpdatedAt: now.Add(-7 * time.Hour)}.Expired(now, DefaultTTL))
	assert.True(t, Totals{UpdatedAt: now.Add(-DefaultTTL)}.Expired(now, DefaultTTL))
	assert.False(t, Totals{UpdatedAt: now.Add(-time.Hour)}.Expired(now, DefaultTTL))
}

func TestTotalsPayload_JSON(t *testing.T) {
	now := time.UnixMilli(1_760_000_000_123)
	rec := Totals{Counters: Counters{InputTextTokens: 1, OutputAudioTokens: 2}, UpdatedAt: now}

	data, err := json.Marshal(TotalsResponse{Totals: rec.ToPayload()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"totals":{"inputTextTokens":1,"outputTextTokens":0,"inputAudioTokens":0,"outputAudioTokens":2,"updatedAt":1760000000123}}`, string(data))

	var decoded TotalsResponse
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rec.Counters, decoded.Totals.ToTotals().Counters)
	assert.True(t, now.Equal(decoded.Totals.ToTotals().UpdatedAt))
}
