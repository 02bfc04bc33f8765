package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenmeter/pkg/logger"
)

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func decode(t *testing.T, rec *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	return status
}

func TestHandleLiveness(t *testing.T) {
	h := New(logger.NewNop(), "tokenmeter", "v1", nil)
	rec := httptest.NewRecorder()

	h.HandleLiveness(rec, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}

func TestHandleReadiness(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Pinger
		code   int
		status string
	}{
		{"no dependencies", nil, http.StatusOK, "healthy"},
		{"redis up", map[string]Pinger{"redis": PingFunc(ok)}, http.StatusOK, "healthy"},
		{"redis down", map[string]Pinger{"redis": PingFunc(down)}, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(logger.NewNop(), "tokenmeter", "v1", tt.checks)
			rec := httptest.NewRecorder()

			h.HandleReadiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.code, rec.Code)
			status := decode(t, rec)
			assert.Equal(t, tt.status, status.Status)
			assert.Equal(t, "tokenmeter", status.Service)
			assert.Len(t, status.Checks, len(tt.checks))
		})
	}
}

func TestHandleHealth_Degraded(t *testing.T) {
	h := New(logger.NewNop(), "tokenmeter", "v1", map[string]Pinger{
		"redis": PingFunc(ok),
		"kafka": PingFunc(down),
	})
	rec := httptest.NewRecorder()

	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	status := decode(t, rec)
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "connection refused", status.Checks["kafka"].Error)
	assert.Equal(t, "healthy", status.Checks["redis"].Status)
}
