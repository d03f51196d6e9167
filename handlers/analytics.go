package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"portfolio-tracker/cache"

	"github.com/gin-gonic/gin"
)

const (
	defaultSimulations = 1000
	maxSimulations     = 10000
	defaultHorizon     = 252 // trading days in a year
	maxHorizon         = 5 * 252
	defaultConfLevel   = 95
	defaultPeriod      = "30D"
)

var (
	comparisonPeriods = map[string]bool{"30D": true, "60D": true, "90D": true, "1Y": true, "2Y": true, "5Y": true}
	companyRE         = regexp.MustCompile(`^[a-z0-9][a-z0-9 .&-]{0,63}$`)
)

// GetSimulation proxies the Monte Carlo projection of ?userId='s holdings.
// Results are cached under the user's current generation, so any holding
// change makes them unreachable.
func (h *Handler) GetSimulation(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User id is required"})
		return
	}
	simulations, ok := intQuery(c, "simulations", defaultSimulations, 1, maxSimulations)
	if !ok {
		return
	}
	horizon, ok := intQuery(c, "timeHorizon", defaultHorizon, 1, maxHorizon)
	if !ok {
		return
	}
	confLevel, ok := intQuery(c, "confLevel", defaultConfLevel, 50, 99)
	if !ok {
		return
	}

	var key string
	if gen, cacheable := h.generation(c, userID); cacheable {
		key = cache.SimulationKey(userID, gen, simulations, horizon, confLevel)
	}
	h.proxy(c, key, h.portfolioTTL, "simulation", func(ctx context.Context) (json.RawMessage, error) {
		return h.market.Simulation(ctx, userID, simulations, horizon, confLevel)
	})
}

// GetComparison proxies the portfolio-versus-benchmark series for ?userId=
// over ?time=.
func (h *Handler) GetComparison(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User id is required"})
		return
	}
	period := strings.ToUpper(c.DefaultQuery("time", defaultPeriod))
	if !comparisonPeriods[period] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "time must be one of 30D, 60D, 90D, 1Y, 2Y or 5Y"})
		return
	}

	var key string
	if gen, cacheable := h.generation(c, userID); cacheable {
		key = cache.ComparisonKey(userID, gen, period)
	}
	h.proxy(c, key, h.portfolioTTL, "comparison", func(ctx context.Context) (json.RawMessage, error) {
		return h.market.Comparison(ctx, userID, period)
	})
}

// GetSentiment proxies the news sentiment summary for :company.
func (h *Handler) GetSentiment(c *gin.Context) {
	company := strings.ToLower(strings.TrimSpace(c.Param("company")))
	if !companyRE.MatchString(company) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid company"})
		return
	}

	h.proxy(c, cache.SentimentKey(company), h.quoteTTL, "sentiment", func(ctx context.Context) (json.RawMessage, error) {
		return h.market.Sentiment(ctx, company)
	})
}

// intQuery reads an optional integer parameter within [min, max], writing a
// 400 when it is malformed.
func intQuery(c *gin.Context, name string, def, min, max int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": name + " must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max),
		})
		return 0, false
	}
	return n, true
}
