package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenmeter/internal/domain/usage"
	"tokenmeter/internal/meter"
	"tokenmeter/internal/pricing"
	"tokenmeter/internal/tokenizer"
	"tokenmeter/pkg/errors"
	"tokenmeter/pkg/logger"
)

func newAggregator() *meter.Aggregator {
	return meter.NewAggregator(pricing.DefaultResolver(), tokenizer.EstimateCounter{}, logger.NewNop())
}

const responseDone = `{
	"type": "response.done",
	"response": {
		"id": "resp_1",
		"usage": {
			"input_tokens": 120,
			"output_tokens": 60,
			"input_token_details": {"text_tokens": 20, "audio_tokens": 100},
			"output_token_details": {"text_tokens": 15, "audio_tokens": 45}
		}
	}
}`

func TestDispatcher_ResponseDone(t *testing.T) {
	agg := newAggregator()
	d := NewDispatcher(agg, logger.NewNop(), false)

	require.NoError(t, d.Handle(context.Background(), []byte(responseDone)))

	assert.Equal(t, usage.Counters{
		InputTextTokens:   20,
		InputAudioTokens:  100,
		OutputTextTokens:  15,
		OutputAudioTokens: 45,
	}, agg.Counters())
}

func TestDispatcher_ResponseWithoutUsage(t *testing.T) {
	agg := newAggregator()
	d := NewDispatcher(agg, logger.NewNop(), false)

	require.NoError(t, d.Handle(context.Background(), []byte(`{"type":"response.done","response":{"id":"r"}}`)))
	assert.True(t, agg.Counters().IsZero())
}

func TestDispatcher_SessionModel(t *testing.T) {
	agg := newAggregator()
	d := NewDispatcher(agg, logger.NewNop(), false)

	require.NoError(t, d.Handle(context.Background(), []byte(`{"type":"session.created","session":{"model":"gpt-realtime"}}`)))
	assert.Equal(t, "gpt-realtime", agg.Model())

	require.NoError(t, d.Handle(context.Background(), []byte(`{"type":"session.updated","session":{}}`)))
	assert.Equal(t, "gpt-realtime", agg.Model())
}

func TestDispatcher_Transcripts(t *testing.T) {
	events := []string{
		`{"type":"conversation.item.input_audio_transcription.completed","transcript":"abcdefgh"}`,
		`{"type":"response.audio_transcript.done","transcript":"abcd"}`,
		`{"type":"response.output_audio_transcript.done","transcript":"abcde"}`,
		`{"type":"response.text.done","text":"abc"}`,
		`{"type":"response.output_text.done","text":"   "}`,
	}

	t.Run("counted when enabled", func(t *testing.T) {
		agg := newAggregator()
		d := NewDispatcher(agg, logger.NewNop(), true)
		for _, e := range events {
			require.NoError(t, d.Handle(context.Background(), []byte(e)))
		}
		assert.Equal(t, usage.Counters{
			InputAudioTokens:  2,
			OutputAudioTokens: 3,
			OutputTextTokens:  1,
		}, agg.Counters())
	})

	t.Run("ignored when disabled", func(t *testing.T) {
		agg := newAggregator()
		d := NewDispatcher(agg, logger.NewNop(), false)
		for _, e := range events {
			require.NoError(t, d.Handle(context.Background(), []byte(e)))
		}
		assert.True(t, agg.Counters().IsZero())
	})
}

func TestDispatcher_InvalidEvents(t *testing.T) {
	d := NewDispatcher(newAggregator(), logger.NewNop(), true)

	assert.ErrorIs(t, d.Handle(context.Background(), []byte(`not json`)), errors.ErrInvalidInput)
	assert.ErrorIs(t, d.Handle(context.Background(), []byte(`{"event":"x"}`)), errors.ErrInvalidInput)
	assert.ErrorIs(t, d.Handle(context.Background(), []byte(`{"type":7}`)), errors.ErrInvalidInput)
	assert.NoError(t, d.Handle(context.Background(), []byte(`{"type":"input_audio_buffer.committed"}`)))
}

func TestReadLines(t *testing.T) {
	agg := newAggregator()
	d := NewDispatcher(agg, logger.NewNop(), false)

	input := strings.Join([]string{
		strings.ReplaceAll(responseDone, "\n", ""),
		"",
		"garbage",
		strings.ReplaceAll(responseDone, "\n", ""),
	}, "\n")

	n, err := ReadLines(context.Background(), strings.NewReader(input), d, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(40), agg.Counters().InputTextTokens)
}

type recordingHandler struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHandler) Handle(_ context.Context, raw []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, string(raw))
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func newStreamServer(t *testing.T, serve func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSource_ReadsUntilPeerCloses(t *testing.T) {
	url := newStreamServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"a"}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x1})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"b"}`))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
		time.Sleep(50 * time.Millisecond)
	})

	src, err := Dial(context.Background(), url, nil, logger.NewNop())
	require.NoError(t, err)

	h := &recordingHandler{}
	require.NoError(t, src.Run(context.Background(), h))
	assert.Equal(t, []string{`{"type":"a"}`, `{"type":"b"}`}, h.events)
}

func TestSource_StopsOnContextCancel(t *testing.T) {
	release := make(chan struct{})
	url := newStreamServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"a"}`))
		<-release
	})
	t.Cleanup(func() { close(release) })

	src, err := Dial(context.Background(), url, nil, logger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &recordingHandler{}
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, h) }()

	require.Eventually(t, func() bool { return h.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDial_Unreachable(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/none", nil, logger.NewNop())
	assert.ErrorIs(t, err, errors.ErrUnavailable)
}
