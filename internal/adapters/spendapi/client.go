package spendapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"tokenmeter/internal/domain/usage"
	"tokenmeter/pkg/errors"
)

// SpendPath is where the server exposes per-user totals
const SpendPath = "/api/spend"

// maxResponseBytes bounds a spend response body
const maxResponseBytes = 1 << 16

// Client talks to the spend endpoint on behalf of one authenticated user
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// NewClient creates a spend API client. token is sent as a Bearer credential
// when set; httpClient defaults to one with a 10s timeout.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + SpendPath,
		token:    token,
		http:     httpClient,
	}
}

// Fetch returns the caller's current server totals
func (c *Client) Fetch(ctx context.Context) (usage.Totals, error) {
	return c.do(ctx, http.MethodGet, nil)
}

// Push adds delta to the caller's server totals
func (c *Client) Push(ctx context.Context, delta usage.Delta) (usage.Totals, error) {
	d := delta.Normalize()
	return c.do(ctx, http.MethodPost, &usage.SpendRequest{Action: usage.ActionIngest, Delta: &d})
}

// Reset zeroes the caller's server totals
func (c *Client) Reset(ctx context.Context) (usage.Totals, error) {
	return c.do(ctx, http.MethodPost, &usage.SpendRequest{Action: usage.ActionReset})
}

func (c *Client) do(ctx context.Context, method string, payload *usage.SpendRequest) (usage.Totals, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return usage.Totals{}, errors.Wrap(err, "failed to marshal spend request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint, body)
	if err != nil {
		return usage.Totals{}, errors.Wrap(err, "failed to build spend request")
	}
	req.Header.Set("Cache-Control", "no-store")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return usage.Totals{}, errors.Wrap(errors.ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return usage.Totals{}, &errors.StatusError{Endpoint: SpendPath, StatusCode: resp.StatusCode}
	}

	var decoded usage.TotalsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return usage.Totals{}, errors.Wrapf(errors.ErrExternal, "failed to decode spend response: %v", err)
	}

	return decoded.Totals.ToTotals(), nil
}
