package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenmeter/pkg/errors"
)

type recordingTracker struct {
	captured []error
}

func (r *recordingTracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	r.captured = append(r.captured, err)
	return nil
}

func (r *recordingTracker) CaptureMessage(ctx context.Context, message string, level errors.Level, tags map[string]string) error {
	return nil
}

func (r *recordingTracker) SetUser(ctx context.Context, userID string) {}

func (r *recordingTracker) Flush(ctx context.Context) error { return nil }

func TestErrorForwardsToTracker(t *testing.T) {
	tracker := &recordingTracker{}
	log := NewNop()
	log.errorTracker = tracker

	log.Errorf("store %s failed", "redis")
	child := log.Component("spend")
	child.Error("boom")

	require.Len(t, tracker.captured, 2)
	assert.EqualError(t, tracker.captured[0], "store redis failed")
	assert.ErrorIs(t, tracker.captured[1], errors.ErrInternal)
}

func TestInitFallsBackToInfoLevel(t *testing.T) {
	require.NoError(t, Init("not-a-level", "development"))
	assert.True(t, Get().Desugar().Core().Enabled(0))
	assert.False(t, Get().Desugar().Core().Enabled(-1))
}
