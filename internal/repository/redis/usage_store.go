package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tokenmeter/internal/domain/usage"
	"tokenmeter/pkg/errors"
)

// Ensure UsageStore implements usage.Store
var _ usage.Store = (*UsageStore)(nil)

const (
	modeRead  = "read"
	modeApply = "apply"
	modeReset = "reset"
)

// Lua script applying expiry and increment to one user hash atomically.
// KEYS[1] = usage hash key
// ARGV[1] = mode (read | apply | reset)
// ARGV[2] = now in unix milliseconds
// ARGV[3] = ttl in milliseconds
// ARGV[4..7] = input_text, output_text, input_audio, output_audio increments (apply only)
// Returns: {input_text, output_text, input_audio, output_audio, updated_at}
const luaUsageScript = `
local key = KEYS[1]
local mode = ARGV[1]
local now = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local updated = tonumber(redis.call('HGET', key, 'updated_at'))
local stamp = mode == 'apply'
if mode == 'reset' or not updated or now - updated >= ttl then
    redis.call('HSET', key, 'input_text', 0, 'output_text', 0, 'input_audio', 0, 'output_audio', 0)
    stamp = true
end

if mode == 'apply' then
    redis.call('HINCRBY', key, 'input_text', ARGV[4])
    redis.call('HINCRBY', key, 'output_text', ARGV[5])
    redis.call('HINCRBY', key, 'input_audio', ARGV[6])
    redis.call('HINCRBY', key, 'output_audio', ARGV[7])
end

-- a plain read of a live record leaves updated_at and the key lifetime alone
if stamp then
    redis.call('HSET', key, 'updated_at', now)
    redis.call('PEXPIRE', key, ttl)
end

return redis.call('HMGET', key, 'input_text', 'output_text', 'input_audio', 'output_audio', 'updated_at')
`

// UsageStore keeps one hash per user so several server replicas share totals.
// The key itself expires ttl after its last write; the updated_at comparison
// inside the script is what decides logical expiry.
type UsageStore struct {
	client    *redis.Client
	keyPrefix string
	resetTTL  time.Duration
	script    *redis.Script
	now       func() time.Time
}

// NewUsageStore creates a Redis-backed usage store.
// resetTTL is the key lifetime applied by Reset, which carries no ttl of its own.
func NewUsageStore(client *redis.Client, keyPrefix string, resetTTL time.Duration) *UsageStore {
	if resetTTL <= 0 {
		resetTTL = usage.DefaultTTL
	}
	return &UsageStore{
		client:    client,
		keyPrefix: keyPrefix,
		resetTTL:  resetTTL,
		script:    redis.NewScript(luaUsageScript),
		now:       time.Now,
	}
}

// Read returns the user's record or replaces it with a fresh one when expired.
func (s *UsageStore) Read(ctx context.Context, userID string, ttl time.Duration) (usage.Totals, error) {
	return s.run(ctx, modeRead, userID, ttl, usage.Delta{})
}

// ApplyDelta adds delta to the user's record in a single script call.
func (s *UsageStore) ApplyDelta(ctx context.Context, userID string, delta usage.Delta, ttl time.Duration) (usage.Totals, error) {
	return s.run(ctx, modeApply, userID, ttl, delta.Normalize())
}

// Reset replaces the user's record with a fresh zero record.
func (s *UsageStore) Reset(ctx context.Context, userID string) (usage.Totals, error) {
	return s.run(ctx, modeReset, userID, s.resetTTL, usage.Delta{})
}

func (s *UsageStore) key(userID string) string {
	return s.keyPrefix + userID
}

func (s *UsageStore) run(ctx context.Context, mode, userID string, ttl time.Duration, delta usage.Delta) (usage.Totals, error) {
	if ttl <= 0 {
		return usage.Totals{}, errors.Wrapf(errors.ErrInvalidInput, "ttl must be positive, got %s", ttl)
	}

	args := []interface{}{
		mode,
		s.now().UnixMilli(),
		ttl.Milliseconds(),
	}
	if mode == modeApply {
		args = append(args,
			delta.InputTextTokens,
			delta.OutputTextTokens,
			delta.InputAudioTokens,
			delta.OutputAudioTokens,
		)
	}

	values, err := s.script.Run(ctx, s.client, []string{s.key(userID)}, args...).Slice()
	if err != nil {
		return usage.Totals{}, errors.Wrapf(errors.ErrStore, "usage script %s for %s: %v", mode, userID, err)
	}

	return parseTotals(values)
}

func parseTotals(values []interface{}) (usage.Totals, error) {
	if len(values) != 5 {
		return usage.Totals{}, errors.Wrapf(errors.ErrStore, "unexpected usage script reply of %d values", len(values))
	}

	fields := make([]int64, len(values))
	for i, v := range values {
		n, err := toInt64(v)
		if err != nil {
			return usage.Totals{}, errors.Wrapf(errors.ErrStore, "usage field %d: %v", i, err)
		}
		fields[i] = n
	}

	return usage.Totals{
		Counters: usage.Counters{
			InputTextTokens:   fields[0],
			OutputTextTokens:  fields[1],
			InputAudioTokens:  fields[2],
			OutputAudioTokens: fields[3],
		},
		UpdatedAt: time.UnixMilli(fields[4]),
	}, nil
}

func toInt64(v interface{}) (int64, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return val, nil
	case string:
		return strconv.ParseInt(val, 10, 64)
	default:
		return 0, errors.Newf("unsupported reply type %T", v)
	}
}
