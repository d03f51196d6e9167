package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"portfolio-tracker/cache"
	"portfolio-tracker/database"
	"portfolio-tracker/models"
	"portfolio-tracker/tickers"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type AddPortfolioInput struct {
	UserID      string           `json:"userId"`
	StockTicker string           `json:"stockTicker"`
	NoOfStocks  *decimal.Decimal `json:"no_of_Stocks"`
}

type HoldingInput struct {
	UserID    string `json:"userId"`
	StockName string `json:"stockName"`
}

type EditPortfolioInput struct {
	UserID    string           `json:"userId"`
	StockName string           `json:"stockName"`
	StockAmt  *decimal.Decimal `json:"stock_Amt"`
}

type portfolioView struct {
	UserID    string           `json:"userId"`
	Stocks    []string         `json:"stocks"`
	Portfolio []models.Holding `json:"portfolio"`
}

// AddPortfolio creates the holding or accumulates into the existing one.
func (h *Handler) AddPortfolio(c *gin.Context) {
	var input AddPortfolioInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	userID := strings.TrimSpace(input.UserID)
	if userID == "" || strings.TrimSpace(input.StockTicker) == "" || input.NoOfStocks == nil || input.NoOfStocks.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing userId, stockTicker or no_of_Stocks"})
		return
	}
	if input.NoOfStocks.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_of_Stocks must be positive"})
		return
	}
	if err := models.CheckStockAmt(*input.NoOfStocks); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid no_of_Stocks: " + err.Error()})
		return
	}
	ticker, err := tickers.Normalize(input.StockTicker)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stock ticker"})
		return
	}

	holding, created, err := h.store.AddHolding(c.Request.Context(), userID, ticker, *input.NoOfStocks)
	if errors.Is(err, database.ErrInvalidQuantity) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Resulting share count is out of range"})
		return
	}
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to add stock to portfolio", err)
		return
	}
	h.afterMutation(c, userID)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, holding)
}

// GetHolding reports the holding for ?userId=&ticker=.
func (h *Handler) GetHolding(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	rawTicker := c.Query("ticker")
	if userID == "" || strings.TrimSpace(rawTicker) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User id and ticker are required"})
		return
	}
	ticker, err := tickers.Normalize(rawTicker)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stock ticker"})
		return
	}

	holding, err := h.store.FindHolding(c.Request.Context(), userID, ticker)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stock not found in portfolio"})
		return
	}
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to fetch holding", err)
		return
	}
	c.JSON(http.StatusOK, holding)
}

func (h *Handler) DeletePortfolio(c *gin.Context) {
	var input HoldingInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	userID, ticker, ok := h.holdingKey(c, input.UserID, input.StockName)
	if !ok {
		return
	}

	deleted, err := h.store.DeleteHolding(c.Request.Context(), userID, ticker)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stock not found in portfolio"})
		return
	}
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to delete stock from portfolio", err)
		return
	}
	h.afterMutation(c, userID)

	c.JSON(http.StatusOK, gin.H{
		"message":          "Stock deleted successfully",
		"deletedPortfolio": deleted,
	})
}

// EditPortfolio overwrites the share count; unlike AddPortfolio it does not
// accumulate.
func (h *Handler) EditPortfolio(c *gin.Context) {
	var input EditPortfolioInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	userID, ticker, ok := h.holdingKey(c, input.UserID, input.StockName)
	if !ok {
		return
	}
	if input.StockAmt == nil || input.StockAmt.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stock_Amt must be a non-negative number"})
		return
	}
	if err := models.CheckStockAmt(*input.StockAmt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stock_Amt: " + err.Error()})
		return
	}

	updated, err := h.store.SetHoldingAmount(c.Request.Context(), userID, ticker, *input.StockAmt)
	if errors.Is(err, database.ErrInvalidQuantity) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stock_Amt"})
		return
	}
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stock not found in portfolio"})
		return
	}
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Internal Server Error", err)
		return
	}
	h.afterMutation(c, userID)

	c.JSON(http.StatusOK, gin.H{
		"message":          "Portfolio updated successfully",
		"updatedPortfolio": updated,
	})
}

// ListPortfolio returns every holding of ?userId=, served from the cache
// when possible.
func (h *Handler) ListPortfolio(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User id is required"})
		return
	}
	ctx := c.Request.Context()

	// The generation is read before the store so that a list computed
	// before a concurrent change is filed under the superseded key.
	gen, cacheable := h.generation(c, userID)
	key := cache.PortfolioKey(userID, gen)
	if cacheable {
		if cached, err := h.cache.Get(ctx, key); err == nil {
			c.Data(http.StatusOK, "application/json; charset=utf-8", cached)
			return
		} else if !errors.Is(err, cache.ErrMiss) {
			h.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
	}

	holdings, err := h.store.ListHoldings(ctx, userID)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to fetch portfolio", err)
		return
	}
	body, err := json.Marshal(portfolioView{
		UserID:    userID,
		Stocks:    models.Tickers(holdings),
		Portfolio: holdings,
	})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to fetch portfolio", err)
		return
	}
	if cacheable {
		if err := h.cache.Set(ctx, key, body, h.portfolioTTL); err != nil {
			h.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// holdingKey validates the (userId, stockName) pair shared by edit and
// delete, writing a 400 when it is unusable.
func (h *Handler) holdingKey(c *gin.Context, userID, stockName string) (string, string, bool) {
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.TrimSpace(stockName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing stockName or userId"})
		return "", "", false
	}
	ticker, err := tickers.Normalize(stockName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stock ticker"})
		return "", "", false
	}
	return userID, ticker, true
}

// afterMutation moves the user to a new cache generation and wakes the
// outbox. The reset itself was already recorded by the store; failures here
// only log.
func (h *Handler) afterMutation(c *gin.Context, userID string) {
	ctx := c.Request.Context()
	gen, err := cache.Bump(ctx, h.cache, userID)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("failed to advance portfolio cache generation")
	} else if err := h.cache.Delete(ctx, cache.PortfolioKey(userID, gen-1)); err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("failed to drop superseded portfolio cache")
	}
	h.notifier.Notify()
}

// generation returns the user's cache generation. ok is false when it
// cannot be read, in which case nothing derived from holdings is cached.
func (h *Handler) generation(c *gin.Context, userID string) (gen int64, ok bool) {
	gen, err := cache.Generation(c.Request.Context(), h.cache, userID)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("failed to read portfolio cache generation")
		return 0, false
	}
	return gen, true
}
