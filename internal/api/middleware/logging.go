package middleware

import (
	"net/http"
	"time"

	"tokenmeter/pkg/logger"
)

// LoggingMiddleware logs HTTP requests. Bodies are never logged.
type LoggingMiddleware struct {
	log *logger.Logger
}

// NewLoggingMiddleware creates a new logging middleware
func NewLoggingMiddleware(log *logger.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{
		log: log.With("component", "http"),
	}
}

// Handler logs one line per request once the response is written
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		fields := []interface{}{
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", wrapped.written,
		}
		if userID, ok := IdentityFromContext(r.Context()); ok {
			fields = append(fields, "user_id", userID)
		}

		if wrapped.statusCode >= http.StatusInternalServerError {
			m.log.Warnw("HTTP request failed", fields...)
			return
		}
		m.log.Debugw("HTTP request", fields...)
	})
}

// statusRecorder wraps http.ResponseWriter to capture status code and size
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += n
	return n, err
}
