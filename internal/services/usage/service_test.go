package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenmeter/internal/domain/usage"
	"tokenmeter/internal/repository/memory"
	"tokenmeter/pkg/errors"
	"tokenmeter/pkg/logger"
)

// mockStore implements usage.Store for testing
type mockStore struct {
	readFunc  func(context.Context, string, time.Duration) (usage.Totals, error)
	applyFunc func(context.Context, string, usage.Delta, time.Duration) (usage.Totals, error)
	resetFunc func(context.Context, string) (usage.Totals, error)
}

func (m *mockStore) Read(ctx context.Context, userID string, ttl time.Duration) (usage.Totals, error) {
	if m.readFunc != nil {
		return m.readFunc(ctx, userID, ttl)
	}
	return usage.Totals{}, nil
}

func (m *mockStore) ApplyDelta(ctx context.Context, userID string, d usage.Delta, ttl time.Duration) (usage.Totals, error) {
	if m.applyFunc != nil {
		return m.applyFunc(ctx, userID, d, ttl)
	}
	return usage.Totals{Counters: d.Counters()}, nil
}

func (m *mockStore) Reset(ctx context.Context, userID string) (usage.Totals, error) {
	if m.resetFunc != nil {
		return m.resetFunc(ctx, userID)
	}
	return usage.Totals{}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []usage.Event
	err    error
}

func (p *recordingPublisher) PublishUsage(ctx context.Context, e usage.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func TestService_IngestAccumulates(t *testing.T) {
	svc := NewService(memory.NewUsageStore(), "memory", logger.NewNop())
	ctx := context.Background()

	_, err := svc.Ingest(ctx, "user_1", usage.Delta{InputTextTokens: 10})
	require.NoError(t, err)
	rec, err := svc.Ingest(ctx, "user_1", usage.Delta{InputTextTokens: 5, OutputAudioTokens: 2})
	require.NoError(t, err)

	assert.Equal(t, usage.Counters{InputTextTokens: 15, OutputAudioTokens: 2}, rec.Counters)

	got, err := svc.Totals(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, rec.Counters, got.Counters)
}

func TestService_IngestNormalizesDelta(t *testing.T) {
	var seen usage.Delta
	store := &mockStore{
		applyFunc: func(_ context.Context, _ string, d usage.Delta, _ time.Duration) (usage.Totals, error) {
			seen = d
			return usage.Totals{Counters: d.Counters()}, nil
		},
	}
	svc := NewService(store, "mock", logger.NewNop())

	_, err := svc.Ingest(context.Background(), "u", usage.Delta{InputTextTokens: -9, OutputTextTokens: 4})
	require.NoError(t, err)

	assert.Equal(t, usage.Delta{OutputTextTokens: 4}, seen)
}

func TestService_PassesConfiguredTTL(t *testing.T) {
	var ttls []time.Duration
	store := &mockStore{
		readFunc: func(_ context.Context, _ string, ttl time.Duration) (usage.Totals, error) {
			ttls = append(ttls, ttl)
			return usage.Totals{}, nil
		},
		applyFunc: func(_ context.Context, _ string, _ usage.Delta, ttl time.Duration) (usage.Totals, error) {
			ttls = append(ttls, ttl)
			return usage.Totals{}, nil
		},
	}
	svc := NewService(store, "mock", logger.NewNop(), WithTTL(30*time.Minute), WithTTL(0))

	_, _ = svc.Totals(context.Background(), "u")
	_, _ = svc.Ingest(context.Background(), "u", usage.Delta{})

	assert.Equal(t, []time.Duration{30 * time.Minute, 30 * time.Minute}, ttls)
	assert.Equal(t, 30*time.Minute, svc.TTL())
}

func TestService_RejectsBlankUser(t *testing.T) {
	svc := NewService(&mockStore{}, "mock", logger.NewNop())
	ctx := context.Background()

	_, err := svc.Totals(ctx, "")
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
	_, err = svc.Ingest(ctx, "  ", usage.Delta{InputTextTokens: 1})
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
	_, err = svc.Reset(ctx, "")
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
}

func TestService_StoreErrorIsWrapped(t *testing.T) {
	store := &mockStore{
		resetFunc: func(context.Context, string) (usage.Totals, error) {
			return usage.Totals{}, errors.ErrStore
		},
	}
	svc := NewService(store, "mock", logger.NewNop())

	_, err := svc.Reset(context.Background(), "u")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStore))
}

func TestService_PublishesEvents(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewService(memory.NewUsageStore(), "memory", logger.NewNop(), WithPublisher(pub))
	svc.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	ctx := context.Background()

	_, err := svc.Ingest(ctx, "user_1", usage.Delta{InputAudioTokens: 6})
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, "user_1", usage.Delta{})
	require.NoError(t, err)
	_, err = svc.Reset(ctx, "user_1")
	require.NoError(t, err)

	require.Len(t, pub.events, 2, "zero deltas are not published")

	ingested := pub.events[0]
	assert.Equal(t, usage.EventIngested, ingested.Type)
	assert.Equal(t, "user_1", ingested.UserID)
	require.NotNil(t, ingested.Delta)
	assert.Equal(t, int64(6), ingested.Delta.InputAudioTokens)
	assert.Equal(t, int64(6), ingested.Totals.InputAudioTokens)
	assert.NotEmpty(t, ingested.ID)
	assert.Equal(t, svc.now(), ingested.OccurredAt)

	reset := pub.events[1]
	assert.Equal(t, usage.EventReset, reset.Type)
	assert.Nil(t, reset.Delta)
	assert.True(t, reset.Totals.Counters.IsZero())
	assert.NotEqual(t, ingested.ID, reset.ID)
}

func TestService_PublishFailureDoesNotFailWrite(t *testing.T) {
	pub := &recordingPublisher{err: errors.ErrUnavailable}
	svc := NewService(memory.NewUsageStore(), "memory", logger.NewNop(), WithPublisher(pub))

	rec, err := svc.Ingest(context.Background(), "user_1", usage.Delta{OutputTextTokens: 3})

	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.OutputTextTokens)
	assert.Len(t, pub.events, 1)
}
