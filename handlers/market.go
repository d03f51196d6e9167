package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"portfolio-tracker/analytics"
	"portfolio-tracker/cache"
	"portfolio-tracker/tickers"

	"github.com/gin-gonic/gin"
)

const (
	defaultInterval       = "daily"
	defaultPredictionDays = 30
	maxPredictionDays     = 365
)

var intervalRE = regexp.MustCompile(`^[a-z0-9]{1,16}$`)

// GetStock proxies the analytics price series for :symbol, cached per interval.
func (h *Handler) GetStock(c *gin.Context) {
	symbol, err := tickers.Normalize(c.Param("symbol"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stock symbol"})
		return
	}
	interval := c.DefaultQuery("interval", defaultInterval)
	if !intervalRE.MatchString(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid interval"})
		return
	}

	h.proxy(c, cache.StockKey(symbol, interval), h.quoteTTL, "stock data", func(ctx context.Context) (json.RawMessage, error) {
		return h.market.Stock(ctx, symbol, interval)
	})
}

// GetPrediction proxies the analytics price prediction for :symbol.
func (h *Handler) GetPrediction(c *gin.Context) {
	symbol, err := tickers.Normalize(c.Param("symbol"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stock symbol"})
		return
	}
	days := defaultPredictionDays
	if raw := c.Query("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days < 1 || days > maxPredictionDays {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
			return
		}
	}

	h.proxy(c, cache.PredictionKey(symbol, days), h.predictionTTL, "predictions", func(ctx context.Context) (json.RawMessage, error) {
		return h.market.Predict(ctx, symbol, days)
	})
}

// proxy serves key from the cache or fetches and caches it. An empty key
// disables caching.
func (h *Handler) proxy(c *gin.Context, key string, ttl time.Duration, what string, fetch func(context.Context) (json.RawMessage, error)) {
	ctx := c.Request.Context()

	if key != "" {
		if cached, err := h.cache.Get(ctx, key); err == nil {
			c.Data(http.StatusOK, "application/json; charset=utf-8", cached)
			return
		} else if !errors.Is(err, cache.ErrMiss) {
			h.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
	}

	body, err := fetch(ctx)
	if err != nil {
		var se *analytics.StatusError
		switch {
		case errors.As(err, &se) && se.Code == http.StatusNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "No " + what + " found"})
		case errors.As(err, &se):
			h.fail(c, http.StatusBadGateway, "Failed to fetch "+what, err)
		default:
			h.fail(c, http.StatusServiceUnavailable, "Failed to fetch "+what, err)
		}
		return
	}

	if key != "" {
		if err := h.cache.Set(ctx, key, body, ttl); err != nil {
			h.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}
