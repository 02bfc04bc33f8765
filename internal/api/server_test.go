package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenmeter/internal/api/health"
	"tokenmeter/internal/api/middleware"
	"tokenmeter/internal/api/spend"
	"tokenmeter/internal/api/tokens"
	"tokenmeter/internal/repository/memory"
	usagesvc "tokenmeter/internal/services/usage"
	"tokenmeter/internal/tokenizer"
	"tokenmeter/pkg/auth"
	"tokenmeter/pkg/logger"
)

type wordEncoder struct{}

func (wordEncoder) CountTokens(text, _ string) (int, error) {
	return len(strings.Fields(text)), nil
}

func newTestHandler(t *testing.T) (http.Handler, *auth.JWTService) {
	t.Helper()
	log := logger.NewNop()
	jwtSvc := auth.NewJWTService("test-secret", "tokenmeter", time.Hour)

	svc := usagesvc.NewService(memory.NewUsageStore(), "memory", log)
	return NewHandler(ServerConfig{ServiceName: "tokenmeter", Version: "test"}, Routes{
		Health: health.New(log, "tokenmeter", "test", nil),
		Auth:   middleware.NewAuthMiddleware(jwtSvc, log),
		Spend:  spend.New(svc, log),
		Tokens: tokens.New(wordEncoder{}, log),
	}, log), jwtSvc
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_SpendRoundTrip(t *testing.T) {
	h, jwtSvc := newTestHandler(t)
	token, err := jwtSvc.GenerateToken("user_42")
	require.NoError(t, err)

	rec := do(t, h, http.MethodPost, SpendPath, `{"action":"ingest","delta":{"inputTextTokens":10,"outputAudioTokens":2}}`, token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, SpendPath, "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"inputTextTokens":10`)
	assert.Contains(t, rec.Body.String(), `"outputAudioTokens":2`)
}

func TestServer_SpendRequiresToken(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodGet, SpendPath, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, SpendPath, "", "forged")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_Tokens(t *testing.T) {
	h, jwtSvc := newTestHandler(t)
	token, err := jwtSvc.GenerateToken("user_42")
	require.NoError(t, err)

	rec := do(t, h, http.MethodPost, TokensPath, `{"text":"one two three"}`, token)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tokens":3}`, rec.Body.String())
	assert.Equal(t, tokenizer.TokensPath, TokensPath)
}

func TestServer_RootAndProbes(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/", "", "")
	assert.JSONEq(t, `{"service":"tokenmeter","version":"test","status":"running"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/live", "", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/ready", "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/nope", "", "").Code)
}
