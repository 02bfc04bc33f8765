package tokenizer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenmeter/pkg/logger"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 40), 10},
		{"héllo wörld", 3}, // counts characters, not bytes
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Estimate(tt.text))
		})
	}
}

func newTokenServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{BaseURL: srv.URL + "/", Token: "tok"}, srv.Client(), logger.NewNop())
}

func TestClient_Count(t *testing.T) {
	var got CountRequest
	client := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, TokensPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"tokens":42}`))
	})

	n, err := client.Count(context.Background(), "hello there", "gpt-realtime")

	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.Equal(t, CountRequest{Text: "hello there", Model: "gpt-realtime"}, got)
}

func TestClient_EmptyTextSkipsNetwork(t *testing.T) {
	var calls int32
	client := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	n, err := client.Count(context.Background(), "", "")

	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestClient_FallsBackToEstimate(t *testing.T) {
	text := strings.Repeat("y", 41) // estimate 11

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTokenServer(t, tt.handler)

			n, err := client.Count(context.Background(), text, "")

			require.NoError(t, err)
			assert.Equal(t, 11, n)
		})
	}
}

func TestClient_UnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(ClientConfig{BaseURL: url, Timeout: time.Second}, nil, logger.NewNop())
	n, err := client.Count(context.Background(), "abcdefgh", "")

	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestClient_NonNumericTokensCountAsZero(t *testing.T) {
	client := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tokens":"lots"}`))
	})

	n, err := client.Count(context.Background(), "some text", "")

	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestClient_CancelledContextFallsBack(t *testing.T) {
	client := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tokens":99}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := client.Count(ctx, "abcd", "")

	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type fakeBPE struct{ perWord int }

func (f fakeBPE) Encode(text string, _ []string, _ []string) []int {
	return make([]int, len(strings.Fields(text))*f.perWord)
}

func TestEncoder_ResolutionOrder(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		modelErr  bool
		failNames map[string]bool
		want      int
		wantErr   bool
	}{
		{name: "model encoding", model: "gpt-4o", want: 3},
		{name: "empty model uses default", model: "", want: 6},
		{name: "unknown model uses default", model: "mystery", modelErr: true, want: 6},
		{name: "default broken uses fallback", model: "mystery", modelErr: true, failNames: map[string]bool{"o200k_base": true}, want: 9},
		{name: "nothing available", model: "mystery", modelErr: true, failNames: map[string]bool{"o200k_base": true, "cl100k_base": true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := NewEncoder("", "")
			enc.forModel = func(model string) (bpe, error) {
				if tt.modelErr {
					return nil, errors.New("unknown model")
				}
				return fakeBPE{perWord: 1}, nil
			}
			enc.byName = func(name string) (bpe, error) {
				if tt.failNames[name] {
					return nil, errors.New("download failed")
				}
				if name == DefaultEncoding {
					return fakeBPE{perWord: 2}, nil
				}
				return fakeBPE{perWord: 3}, nil
			}

			n, err := enc.CountTokens("three word text", tt.model)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestEncoder_CachesPerModel(t *testing.T) {
	var lookups int32
	enc := NewEncoder("", "")
	enc.forModel = func(string) (bpe, error) {
		atomic.AddInt32(&lookups, 1)
		return fakeBPE{perWord: 1}, nil
	}

	for i := 0; i < 5; i++ {
		_, err := enc.CountTokens("a b", "gpt-4o")
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&lookups))
}

func TestLimiter_ZeroRateIsUnlimited(t *testing.T) {
	l := NewLimiter("test", 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow())
	}
}
