// Package client is the Go counterpart of the portfolio page: it validates
// form input locally, calls the portfolio API, and reloads its snapshot of
// the user's holdings after every successful change.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"portfolio-tracker/models"
	"portfolio-tracker/tickers"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTicker   = errors.New("invalid stock ticker")
	ErrInvalidQuantity = errors.New("invalid number of stocks")
	ErrMissingUser     = errors.New("user id is required")
)

// APIError is a non-2xx answer from the portfolio API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("portfolio api: %d %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// Portfolio is the body of GET /api/portfolio.
type Portfolio struct {
	UserID    string           `json:"userId"`
	Stocks    []string         `json:"stocks"`
	Portfolio []models.Holding `json:"portfolio"`
}

type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client

	mu       sync.RWMutex
	snapshot *Portfolio
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New returns a client acting for userID against the API at baseURL.
func New(baseURL, userID string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the holdings as of the last reload, or nil before the
// first one.
func (c *Client) Snapshot() *Portfolio {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Reload re-fetches the user's holdings and replaces the snapshot.
func (c *Client) Reload(ctx context.Context) (*Portfolio, error) {
	p, err := c.Portfolio(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.snapshot = p
	c.mu.Unlock()
	return p, nil
}

// AddStock adds qty shares of ticker. Unknown tickers and non-positive
// quantities are rejected without contacting the server.
func (c *Client) AddStock(ctx context.Context, ticker string, qty decimal.Decimal) (*models.Holding, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" || !tickers.Known(ticker) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTicker, ticker)
	}
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuantity, qty)
	}
	if err := models.CheckStockAmt(qty); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuantity, err)
	}

	var h models.Holding
	err := c.do(ctx, http.MethodPost, "/api/addPortfolio", nil, map[string]interface{}{
		"stockTicker":  ticker,
		"no_of_Stocks": qty,
		"userId":       c.userID,
	}, &h)
	if err != nil {
		return nil, err
	}
	return &h, c.reloadAfterChange(ctx)
}

// EditStock sets the share count of ticker to qty.
func (c *Client) EditStock(ctx context.Context, ticker string, qty decimal.Decimal) (*models.Holding, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	if qty.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuantity, qty)
	}
	if err := models.CheckStockAmt(qty); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuantity, err)
	}

	var out struct {
		UpdatedPortfolio models.Holding `json:"updatedPortfolio"`
	}
	err := c.do(ctx, http.MethodPost, "/api/editPortfolio", nil, map[string]interface{}{
		"stockName": strings.ToUpper(strings.TrimSpace(ticker)),
		"userId":    c.userID,
		"stock_Amt": qty,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out.UpdatedPortfolio, c.reloadAfterChange(ctx)
}

// DeleteStock removes the holding for ticker and returns its last state.
func (c *Client) DeleteStock(ctx context.Context, ticker string) (*models.Holding, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}

	var out struct {
		DeletedPortfolio models.Holding `json:"deletedPortfolio"`
	}
	err := c.do(ctx, http.MethodDelete, "/api/deletePortfolio", nil, map[string]interface{}{
		"stockName": strings.ToUpper(strings.TrimSpace(ticker)),
		"userId":    c.userID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out.DeletedPortfolio, c.reloadAfterChange(ctx)
}

// Holding fetches a single holding; a missing one yields an *APIError with
// status 404.
func (c *Client) Holding(ctx context.Context, ticker string) (*models.Holding, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	var h models.Holding
	q := url.Values{"userId": {c.userID}, "ticker": {ticker}}
	if err := c.do(ctx, http.MethodGet, "/api/addPortfolio", q, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) Portfolio(ctx context.Context) (*Portfolio, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	var p Portfolio
	if err := c.do(ctx, http.MethodGet, "/api/portfolio", url.Values{"userId": {c.userID}}, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) requireUser() error {
	if strings.TrimSpace(c.userID) == "" {
		return ErrMissingUser
	}
	return nil
}

func (c *Client) reloadAfterChange(ctx context.Context) error {
	if _, err := c.Reload(ctx); err != nil {
		return fmt.Errorf("change saved but reload failed: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
