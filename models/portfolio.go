package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// StockAmtScale is the number of fractional digits a share count keeps.
// Together with StockAmtLimit it matches the numeric(20,6) column.
const StockAmtScale = 6

var (
	// StockAmtLimit is the first magnitude a share count cannot hold.
	StockAmtLimit = decimal.New(1, 14)

	ErrStockAmtPrecision = errors.New("share count has more than 6 decimal places")
	ErrStockAmtRange     = errors.New("share count is too large")
)

func init() {
	// Share counts go over the wire as plain JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Holding is one user's position in one ticker. At most one row exists per
// (UserID, StockName).
type Holding struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    string          `gorm:"not null;size:191;uniqueIndex:idx_holdings_user_stock,priority:1" json:"userId"`
	StockName string          `gorm:"not null;size:16;uniqueIndex:idx_holdings_user_stock,priority:2" json:"stockName"`
	StockAmt  decimal.Decimal `gorm:"not null;type:numeric(20,6)" json:"stockAmt"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (Holding) TableName() string {
	return "holdings"
}

// CheckStockAmt reports whether d can be stored without rounding or
// overflow.
func CheckStockAmt(d decimal.Decimal) error {
	if !d.Equal(d.Truncate(StockAmtScale)) {
		return ErrStockAmtPrecision
	}
	if d.Abs().GreaterThanOrEqual(StockAmtLimit) {
		return ErrStockAmtRange
	}
	return nil
}

// Tickers returns the stock names of the given holdings, in order.
func Tickers(holdings []Holding) []string {
	out := make([]string, 0, len(holdings))
	for _, h := range holdings {
		out = append(out, h.StockName)
	}
	return out
}
