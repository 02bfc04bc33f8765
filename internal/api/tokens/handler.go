package tokens

import (
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"tokenmeter/internal/api/middleware"
	"tokenmeter/internal/api/response"
	"tokenmeter/internal/metrics"
	"tokenmeter/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Encoder counts tokens for a model's encoding
type Encoder interface {
	CountTokens(text, model string) (int, error)
}

// CountResponse is the body of a successful tokenizer response
type CountResponse struct {
	Tokens int `json:"tokens"`
}

// Handler serves POST on the tokenizer endpoint
type Handler struct {
	encoder Encoder
	log     *logger.Logger
}

// New creates a tokenizer handler
func New(encoder Encoder, log *logger.Logger) *Handler {
	return &Handler{
		encoder: encoder,
		log:     log.Component("tokens_api"),
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.IdentityFromContext(r.Context()); !ok {
		response.Error(w, http.StatusUnauthorized, response.MsgUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		response.MethodNotAllowed(w, http.MethodPost)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		response.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	text := gjson.GetBytes(body, "text")
	if !gjson.ValidBytes(body) || text.Type != gjson.String {
		response.Error(w, http.StatusBadRequest, "text must be a string")
		return
	}

	model := gjson.GetBytes(body, "model")
	modelName := ""
	if model.Type == gjson.String {
		modelName = model.Str
	}

	n, err := h.encoder.CountTokens(text.Str, modelName)
	if err != nil {
		metrics.RecordTokenizerRequest("error")
		h.log.ErrorWithContext(r.Context(), err, map[string]string{
			"component": "tokens_api",
			"model":     modelName,
		})
		response.Error(w, http.StatusInternalServerError, response.MsgInternal)
		return
	}

	metrics.RecordTokenizerRequest("ok")
	response.JSON(w, http.StatusOK, CountResponse{Tokens: n})
}
