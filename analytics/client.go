// Package analytics is a client for the companion analytics service that
// serves quotes and predictions and caches per-user portfolio valuations.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 20 // requests per second

	maxBodySize = 8 << 20
)

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analytics: status %d: %s", e.Code, e.Body)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each request. It applies to a private copy of the
// http.Client, so a client passed to WithHTTPClient is left untouched.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRateLimit caps outgoing requests per second. Zero or less disables it.
func WithRateLimit(rps int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

// Reset asks the service to drop any cached valuation for userID.
func (c *Client) Reset(ctx context.Context, userID string) error {
	params := url.Values{"userId": {userID}}
	_, err := c.do(ctx, http.MethodDelete, "/api/reset/", params)
	return err
}

// Stock returns the raw price series for symbol at the given interval.
func (c *Client) Stock(ctx context.Context, symbol, interval string) (json.RawMessage, error) {
	params := url.Values{"interval": {interval}}
	return c.getJSON(ctx, "/api/stocks/"+url.PathEscape(symbol), params)
}

// Predict returns the raw price prediction for symbol over days.
func (c *Client) Predict(ctx context.Context, symbol string, days int) (json.RawMessage, error) {
	params := url.Values{"days": {strconv.Itoa(days)}}
	return c.getJSON(ctx, "/api/stocks/predict/"+url.PathEscape(symbol), params)
}

// Simulation returns the Monte Carlo projection of userID's portfolio.
func (c *Client) Simulation(ctx context.Context, userID string, simulations, horizon, confLevel int) (json.RawMessage, error) {
	params := url.Values{
		"userId":      {userID},
		"simulations": {strconv.Itoa(simulations)},
		"timeHorizon": {strconv.Itoa(horizon)},
		"confLevel":   {strconv.Itoa(confLevel)},
	}
	return c.getJSON(ctx, "/api/simulation/", params)
}

// Comparison returns userID's portfolio performance against the benchmark
// over period, e.g. "30D" or "1Y".
func (c *Client) Comparison(ctx context.Context, userID, period string) (json.RawMessage, error) {
	params := url.Values{"userId": {userID}, "time": {period}}
	return c.getJSON(ctx, "/api/comparison", params)
}

// Sentiment returns the news sentiment summary for company.
func (c *Client) Sentiment(ctx context.Context, company string) (json.RawMessage, error) {
	return c.getJSON(ctx, "/api/news/sentiment/"+url.PathEscape(company), nil)
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, path, params)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("analytics: %s returned invalid JSON", path)
	}
	return json.RawMessage(body), nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("analytics: rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("analytics: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analytics: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("analytics: read body: %w", err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("analytics request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
