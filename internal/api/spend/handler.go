package spend

import (
	"context"
	"io"
	"math"
	"net/http"

	"github.com/tidwall/gjson"

	"tokenmeter/internal/api/middleware"
	"tokenmeter/internal/api/response"
	"tokenmeter/internal/domain/usage"
	"tokenmeter/internal/metrics"
	"tokenmeter/pkg/errors"
	"tokenmeter/pkg/logger"
)

// maxBodyBytes bounds a spend request body
const maxBodyBytes = 64 << 10

// maxExactInt is the largest integer a JSON number carries without loss
const maxExactInt = 1 << 53

// Service is what the handler needs from the usage service
type Service interface {
	Totals(ctx context.Context, userID string) (usage.Totals, error)
	Ingest(ctx context.Context, userID string, delta usage.Delta) (usage.Totals, error)
	Reset(ctx context.Context, userID string) (usage.Totals, error)
}

// Handler serves GET and POST on the spend endpoint.
// It expects middleware.AuthMiddleware to have run.
type Handler struct {
	svc Service
	log *logger.Logger
}

// New creates a spend handler
func New(svc Service, log *logger.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log.Component("spend_api"),
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		h.finish(w, "none", http.StatusUnauthorized, usage.Totals{}, response.MsgUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := h.svc.Totals(r.Context(), userID)
		h.respond(w, r, "read", rec, err)
	case http.MethodPost:
		h.handlePost(w, r, userID)
	default:
		metrics.RecordSpendRequest("none", http.StatusMethodNotAllowed)
		response.MethodNotAllowed(w, "GET, POST")
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request, userID string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.finish(w, "none", http.StatusRequestEntityTooLarge, usage.Totals{}, "request body too large")
		return
	}

	req, err := ParseRequest(body)
	if err != nil {
		h.log.Debugw("Rejected spend request", "user_id", userID, "error", err)
		msg := "invalid request body"
		if errors.Is(err, errors.ErrUnknownAction) {
			msg = "unknown action"
		}
		h.finish(w, "none", http.StatusBadRequest, usage.Totals{}, msg)
		return
	}

	switch req.Action {
	case usage.ActionReset:
		rec, err := h.svc.Reset(r.Context(), userID)
		h.respond(w, r, string(usage.ActionReset), rec, err)
	default:
		var delta usage.Delta
		if req.Delta != nil {
			delta = *req.Delta
		}
		rec, err := h.svc.Ingest(r.Context(), userID, delta)
		h.respond(w, r, string(usage.ActionIngest), rec, err)
	}
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, action string, rec usage.Totals, err error) {
	switch {
	case err == nil:
		h.finish(w, action, http.StatusOK, rec, "")
	case errors.Is(err, errors.ErrUnauthorized):
		h.finish(w, action, http.StatusUnauthorized, rec, response.MsgUnauthorized)
	default:
		h.log.ErrorWithContext(r.Context(), err, map[string]string{
			"component": "spend_api",
			"action":    action,
		})
		h.finish(w, action, http.StatusInternalServerError, rec, response.MsgInternal)
	}
}

func (h *Handler) finish(w http.ResponseWriter, action string, status int, rec usage.Totals, msg string) {
	metrics.RecordSpendRequest(action, status)
	if status != http.StatusOK {
		response.Error(w, status, msg)
		return
	}
	response.JSON(w, status, usage.TotalsResponse{Totals: rec.ToPayload()})
}

// ParseRequest decodes a spend request body. Only the body shape and the
// action are validated; unusable delta fields count as zero.
func ParseRequest(body []byte) (usage.SpendRequest, error) {
	if !gjson.ValidBytes(body) {
		return usage.SpendRequest{}, errors.Wrap(errors.ErrInvalidInput, "body must be a JSON object")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return usage.SpendRequest{}, errors.Wrap(errors.ErrInvalidInput, "body must be a JSON object")
	}

	req := usage.SpendRequest{Action: usage.ActionIngest}

	action := root.Get("action")
	switch {
	case !action.Exists() || action.Type == gjson.Null:
	case action.Type == gjson.String && (action.Str == string(usage.ActionIngest) || action.Str == string(usage.ActionReset)):
		req.Action = usage.Action(action.Str)
	default:
		return usage.SpendRequest{}, errors.Wrapf(errors.ErrUnknownAction, "unknown action %s", action.Raw)
	}

	if req.Action == usage.ActionIngest {
		delta := parseDelta(root.Get("delta"))
		req.Delta = &delta
	}

	return req, nil
}

func parseDelta(v gjson.Result) usage.Delta {
	if !v.IsObject() {
		return usage.Delta{}
	}
	return usage.Delta{
		InputTextTokens:   tokenCount(v.Get("inputTextTokens")),
		OutputTextTokens:  tokenCount(v.Get("outputTextTokens")),
		InputAudioTokens:  tokenCount(v.Get("inputAudioTokens")),
		OutputAudioTokens: tokenCount(v.Get("outputAudioTokens")),
	}
}

// tokenCount accepts only non-negative integral JSON numbers
func tokenCount(v gjson.Result) int64 {
	if v.Type != gjson.Number {
		return 0
	}
	f := v.Float()
	if f < 0 || f > maxExactInt || f != math.Trunc(f) {
		return 0
	}
	return int64(f)
}
