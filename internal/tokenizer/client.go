package tokenizer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"tokenmeter/internal/metrics"
	"tokenmeter/pkg/errors"
	"tokenmeter/pkg/logger"
)

// TokensPath is where the server exposes its tokenizer
const TokensPath = "/api/tokens"

// Ensure Client implements Counter
var _ Counter = (*Client)(nil)

// CountRequest is the body POSTed to the tokenizer endpoint
type CountRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// ClientConfig configures a tokenizer client
type ClientConfig struct {
	BaseURL       string
	Token         string
	RatePerMinute int
	Timeout       time.Duration
}

// Client counts tokens through the remote tokenizer endpoint.
// It never fails: any remote problem degrades to Estimate.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	limiter  *Limiter
	log      *logger.Logger
}

// NewClient creates a tokenizer client
func NewClient(cfg ClientConfig, httpClient *http.Client, log *logger.Logger) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + TokensPath,
		token:    cfg.Token,
		http:     httpClient,
		limiter:  NewLimiter("tokenizer", cfg.RatePerMinute),
		log:      log.Component("tokenizer_client"),
	}
}

// Count implements Counter
func (c *Client) Count(ctx context.Context, text, model string) (int, error) {
	if text == "" {
		return 0, nil
	}

	n, err := c.fetch(ctx, text, model)
	if err != nil {
		metrics.RecordTokenizerRequest("fallback")
		estimate := Estimate(text)
		c.log.Warnw("Tokenizer unavailable, using estimate",
			"model", model,
			"chars", len(text),
			"estimate", estimate,
			"error", err,
		)
		return estimate, nil
	}

	metrics.RecordTokenizerRequest("ok")
	return n, nil
}

func (c *Client) fetch(ctx context.Context, text, model string) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	payload, err := json.Marshal(CountRequest{Text: text, Model: model})
	if err != nil {
		return 0, errors.Wrap(err, "failed to marshal tokenizer request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, errors.Wrap(err, "failed to build tokenizer request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Wrap(errors.ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, errors.Wrap(err, "failed to read tokenizer response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &errors.StatusError{Endpoint: TokensPath, StatusCode: resp.StatusCode}
	}

	if !gjson.ValidBytes(body) {
		return 0, errors.Wrap(errors.ErrTokenizer, "tokenizer response is not JSON")
	}

	// a non-numeric count is taken as zero rather than as a failure
	tokens := gjson.GetBytes(body, "tokens")
	if tokens.Type != gjson.Number || tokens.Float() < 0 {
		return 0, nil
	}
	return int(tokens.Int()), nil
}
