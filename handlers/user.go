package handlers

import (
	"errors"
	"net/http"
	"strings"

	"portfolio-tracker/database"
	"portfolio-tracker/middleware"
	"portfolio-tracker/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RegisterUserInput struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type ProfileInput struct {
	Phone            string `json:"phone"`
	Location         string `json:"location"`
	Bio              string `json:"bio"`
	Avatar           string `json:"avatar"`
	RiskTolerance    string `json:"riskTolerance"`
	InvestmentGoals  string `json:"investmentGoals"`
	PreferredSectors string `json:"preferredSectors"`
}

type InvestmentInput struct {
	RiskTolerance        string          `json:"riskTolerance"`
	InvestmentHorizon    string          `json:"investmentHorizon"`
	MonthlyInvestment    decimal.Decimal `json:"monthlyInvestment"`
	PortfolioValue       decimal.Decimal `json:"portfolioValue"`
	DiversificationLevel string          `json:"diversificationLevel"`
}

// UserByEmail looks up ?mail= and returns the user with the tickers they hold.
func (h *Handler) UserByEmail(c *gin.Context) {
	mail := strings.ToLower(strings.TrimSpace(c.Query("mail")))
	if mail == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email is required"})
		return
	}
	ctx := c.Request.Context()

	user, err := h.store.FindUserByEmail(ctx, mail)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Internal server error", err)
		return
	}

	holdings, err := h.store.ListHoldings(ctx, user.ID)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Internal server error", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":   user,
		"stocks": models.Tickers(holdings),
	})
}

// RegisterUser records a user provisioned elsewhere. It is idempotent by
// email; a client-chosen id that already belongs to another email is a 409.
func (h *Handler) RegisterUser(c *gin.Context) {
	var input RegisterUserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || !strings.Contains(email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A valid email is required"})
		return
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	}

	user, created, err := h.store.EnsureUser(c.Request.Context(), &models.User{
		ID:    id,
		Email: email,
		Name:  strings.TrimSpace(input.Name),
	})
	if errors.Is(err, database.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "User id already in use"})
		return
	}
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Error creating user", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"user": user})
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	var input ProfileInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	profile, err := h.store.UpsertProfile(c.Request.Context(), &models.UserProfile{
		UserID:           userID,
		Phone:            input.Phone,
		Location:         input.Location,
		Bio:              input.Bio,
		Avatar:           input.Avatar,
		RiskTolerance:    input.RiskTolerance,
		InvestmentGoals:  input.InvestmentGoals,
		PreferredSectors: input.PreferredSectors,
	})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to update profile", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

func (h *Handler) UpdateInvestment(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	var input InvestmentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if input.MonthlyInvestment.IsNegative() || input.PortfolioValue.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Amounts must not be negative"})
		return
	}

	prefs, err := h.store.UpsertPreference(c.Request.Context(), &models.InvestmentPreference{
		UserID:               userID,
		RiskTolerance:        input.RiskTolerance,
		InvestmentHorizon:    input.InvestmentHorizon,
		MonthlyInvestment:    input.MonthlyInvestment,
		PortfolioValue:       input.PortfolioValue,
		DiversificationLevel: input.DiversificationLevel,
	})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to update preferences", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"preferences": prefs})
}
