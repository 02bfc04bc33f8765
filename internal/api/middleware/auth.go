package middleware

import (
	"context"
	"net/http"
	"strings"

	"tokenmeter/internal/api/response"
	"tokenmeter/pkg/auth"
	"tokenmeter/pkg/errors"
	"tokenmeter/pkg/logger"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// AuthCookieName is the name of the JWT cookie
	AuthCookieName = "auth_token"
	// identityContextKey is the context key for the authenticated user id
	identityContextKey contextKey = "authenticated_user_id"
)

// TokenValidator defines interface for validating JWT tokens
// This allows mocking in tests
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Ensure auth.JWTService implements TokenValidator
var _ TokenValidator = (*auth.JWTService)(nil)

// AuthMiddleware resolves the caller identity from a JWT
type AuthMiddleware struct {
	validator TokenValidator
	log       *logger.Logger
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(validator TokenValidator, log *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		log:       log.With("middleware", "auth"),
	}
}

// Handler wraps HTTP handler with JWT authentication
// Token can be extracted from:
// 1. Authorization Bearer header (service-to-service and native clients)
// 2. HTTP-only cookie (browser sessions)
// Requests without a valid token continue with no identity in context.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, source := extractToken(r)
		if tokenString == "" {
			m.log.Debugw("No auth token found (no Bearer header, no cookie)",
				"path", r.URL.Path,
			)
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.validator.ValidateToken(tokenString)
		if err != nil {
			m.log.Warnw("Invalid auth token",
				"error", err,
				"source", source,
				"remote_addr", r.RemoteAddr,
			)
			next.ServeHTTP(w, r)
			return
		}

		userID := claims.UserID()
		if strings.TrimSpace(userID) == "" {
			m.log.Warnw("Auth token carries no subject", "source", source)
			next.ServeHTTP(w, r)
			return
		}

		m.log.Debugw("Caller authenticated",
			"user_id", userID,
			"source", source,
		)

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID)))
	})
}

// RequireIdentity answers 401 unless an identity is present
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); !ok {
			response.Error(w, http.StatusUnauthorized, response.MsgUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithIdentity stores the caller's user id in ctx
func WithIdentity(ctx context.Context, userID string) context.Context {
	ctx = context.WithValue(ctx, identityContextKey, userID)
	return errors.WithUserID(ctx, userID)
}

// IdentityFromContext extracts the authenticated user id from context
func IdentityFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityContextKey).(string)
	return id, ok && id != ""
}

func extractToken(r *http.Request) (token string, source string) {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:]), "bearer_header"
	}

	cookie, err := r.Cookie(AuthCookieName)
	if err != nil || cookie.Value == "" {
		return "", ""
	}
	return cookie.Value, "cookie"
}
