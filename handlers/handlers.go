package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"portfolio-tracker/cache"
	"portfolio-tracker/database"
	"portfolio-tracker/middleware"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// MarketClient fetches raw documents from the analytics service.
type MarketClient interface {
	Stock(ctx context.Context, symbol, interval string) (json.RawMessage, error)
	Predict(ctx context.Context, symbol string, days int) (json.RawMessage, error)
	Simulation(ctx context.Context, userID string, simulations, horizon, confLevel int) (json.RawMessage, error)
	Comparison(ctx context.Context, userID, period string) (json.RawMessage, error)
	Sentiment(ctx context.Context, company string) (json.RawMessage, error)
}

// Notifier is nudged after every holding mutation so pending cache resets
// go out promptly.
type Notifier interface {
	Notify()
}

type Config struct {
	Store    database.Store
	Cache    cache.Cache
	Market   MarketClient
	Notifier Notifier
	Logger   zerolog.Logger

	PortfolioTTL  time.Duration
	QuoteTTL      time.Duration
	PredictionTTL time.Duration
}

type Handler struct {
	store    database.Store
	cache    cache.Cache
	market   MarketClient
	notifier Notifier
	log      zerolog.Logger

	portfolioTTL  time.Duration
	quoteTTL      time.Duration
	predictionTTL time.Duration
}

type noopNotifier struct{}

func (noopNotifier) Notify() {}

func New(cfg Config) *Handler {
	h := &Handler{
		store:         cfg.Store,
		cache:         cfg.Cache,
		market:        cfg.Market,
		notifier:      cfg.Notifier,
		log:           cfg.Logger,
		portfolioTTL:  cfg.PortfolioTTL,
		quoteTTL:      cfg.QuoteTTL,
		predictionTTL: cfg.PredictionTTL,
	}
	if h.notifier == nil {
		h.notifier = noopNotifier{}
	}
	if h.cache == nil {
		h.cache = cache.NewMemory()
	}
	if h.portfolioTTL <= 0 {
		h.portfolioTTL = time.Minute
	}
	if h.quoteTTL <= 0 {
		h.quoteTTL = 5 * time.Minute
	}
	if h.predictionTTL <= 0 {
		h.predictionTTL = time.Hour
	}
	return h
}

// Router builds the gin engine with the service middleware and all routes.
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(h.log),
		middleware.UserContext(),
	)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	h.Register(router)
	return router
}

func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")
	{
		api.POST("/addPortfolio", h.AddPortfolio)
		api.GET("/addPortfolio", h.GetHolding)
		api.DELETE("/deletePortfolio", h.DeletePortfolio)
		api.POST("/editPortfolio", h.EditPortfolio)
		api.GET("/portfolio", h.ListPortfolio)

		api.GET("/portfolioStats", h.UserByEmail)
		api.POST("/users", h.RegisterUser)
		api.POST("/profile", middleware.RequireUser(), h.UpdateProfile)
		api.POST("/investment", middleware.RequireUser(), h.UpdateInvestment)

		api.GET("/stocks/:symbol", h.GetStock)
		api.GET("/predictions/:symbol", h.GetPrediction)
		api.GET("/simulation", h.GetSimulation)
		api.GET("/comparison", h.GetComparison)
		api.GET("/news/sentiment/:company", h.GetSentiment)
	}
}

// fail logs err against the request and writes the generic error body.
func (h *Handler) fail(c *gin.Context, status int, msg string, err error) {
	if err != nil {
		_ = c.Error(err)
		h.log.Error().
			Err(err).
			Str("request_id", middleware.RequestIDFrom(c)).
			Str("path", c.FullPath()).
			Msg(msg)
	}
	c.JSON(status, gin.H{"error": msg})
}
