package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is provisioned by the authentication service. The set of tickers a
// user follows is always derived from their holdings.
type User struct {
	ID        string    `gorm:"primaryKey;size:191" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null;size:320" json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type UserProfile struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           string    `gorm:"uniqueIndex;not null;size:191" json:"userId"`
	Phone            string    `json:"phone"`
	Location         string    `json:"location"`
	Bio              string    `json:"bio"`
	Avatar           string    `json:"avatar"`
	RiskTolerance    string    `json:"riskTolerance"`
	InvestmentGoals  string    `json:"investmentGoals"`
	PreferredSectors string    `json:"preferredSectors"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type InvestmentPreference struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	UserID               string          `gorm:"uniqueIndex;not null;size:191" json:"userId"`
	RiskTolerance        string          `json:"riskTolerance"`
	InvestmentHorizon    string          `json:"investmentHorizon"`
	MonthlyInvestment    decimal.Decimal `gorm:"type:numeric(20,2)" json:"monthlyInvestment"`
	PortfolioValue       decimal.Decimal `gorm:"type:numeric(20,2)" json:"portfolioValue"`
	DiversificationLevel string          `json:"diversificationLevel"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}
