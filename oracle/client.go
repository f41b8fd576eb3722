// Package oracle is the price feed collaborator:
// a plain HTTP client for a Coingecko-style API,
// with bounded retries so a flaky feed degrades a round
// instead of blocking it indefinitely.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultMaxAttempts bounds feed calls when the config leaves it zero.
const DefaultMaxAttempts = 5

// ErrAttemptsExhausted indicates every feed attempt failed.
// The caller turns this into a typed round event, never a crash.
var ErrAttemptsExhausted = errors.New("price feed attempts exhausted")

// ClientConfig configures a feed [Client].
type ClientConfig struct {
	// BaseURL is the fully formed request URL,
	// already templated with the token of interest.
	BaseURL string

	// APIKeyHeader and APIKey authenticate the request.
	// An empty header name disables authentication.
	APIKeyHeader string
	APIKey       string

	// MaxAttempts bounds calls per fetch; zero means DefaultMaxAttempts.
	MaxAttempts int

	// RetryDelay is slept between failed attempts.
	RetryDelay time.Duration

	// RequestTimeout bounds each individual HTTP call.
	RequestTimeout time.Duration

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client fetches prices from the configured feed.
type Client struct {
	log *slog.Logger

	cfg ClientConfig

	hc *http.Client
}

// NewClient returns a feed client.
func NewClient(log *slog.Logger, cfg ClientConfig) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Client{log: log, cfg: cfg, hc: hc}
}

// priceResponse covers both response shapes the feed serves:
// the ping endpoint's gecko_says and the price endpoint's price field.
type priceResponse struct {
	GeckoSays string          `json:"gecko_says"`
	Price     json.RawMessage `json:"price"`
}

// FetchPrice returns the feed's price as its canonical string form.
func (c *Client) FetchPrice(ctx context.Context) (string, error) {
	resp, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	if len(resp.Price) == 0 {
		return "", fmt.Errorf("feed response missing price field")
	}

	// The raw JSON number is already canonical;
	// unquote in case the feed serves it as a string.
	var asString string
	if err := json.Unmarshal(resp.Price, &asString); err == nil {
		return asString, nil
	}
	return string(resp.Price), nil
}

// Ping returns the feed's liveness message (the gecko_says field).
func (c *Client) Ping(ctx context.Context) (string, error) {
	resp, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	if resp.GeckoSays == "" {
		return "", fmt.Errorf("feed response missing gecko_says field")
	}
	return resp.GeckoSays, nil
}

func (c *Client) fetch(ctx context.Context) (priceResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		resp, err := c.doGet(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return priceResponse{}, context.Cause(ctx)
		}

		c.log.Info(
			"Price feed attempt failed",
			"attempt", attempt, "max", c.cfg.MaxAttempts, "err", err,
		)

		if attempt < c.cfg.MaxAttempts && c.cfg.RetryDelay > 0 {
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return priceResponse{}, context.Cause(ctx)
			}
		}
	}

	return priceResponse{}, fmt.Errorf("%w: %w", ErrAttemptsExhausted, lastErr)
}

func (c *Client) doGet(ctx context.Context) (priceResponse, error) {
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL, nil)
	if err != nil {
		return priceResponse{}, fmt.Errorf("failed to build feed request: %w", err)
	}
	if c.cfg.APIKeyHeader != "" {
		req.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return priceResponse{}, fmt.Errorf("feed request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		io.Copy(io.Discard, res.Body)
		return priceResponse{}, fmt.Errorf("feed returned status %d", res.StatusCode)
	}

	var out priceResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return priceResponse{}, fmt.Errorf("failed to decode feed response: %w", err)
	}
	return out, nil
}
