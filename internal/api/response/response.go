package response

import (
	"encoding/json"
	"net/http"

	"tokenmeter/pkg/logger"
)

// Error body messages shared by every endpoint
const (
	MsgUnauthorized     = "Unauthorized"
	MsgInternal         = "Internal Server Error"
	MsgMethodNotAllowed = "Method Not Allowed"
)

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Error string `json:"error"`
}

// JSON writes v with the given status
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Get().Debugw("Failed to write response body", "status", status, "error", err)
	}
}

// Error writes {"error": msg} with the given status
func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, ErrorBody{Error: msg})
}

// MethodNotAllowed writes 405 and the Allow header
func MethodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	Error(w, http.StatusMethodNotAllowed, MsgMethodNotAllowed)
}
