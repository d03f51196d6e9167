package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"portfolio-tracker/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidQuantity is returned when a share count, or the sum an add
	// would produce, does not fit the holdings column.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrConflict is returned when a new user's id already belongs to
	// another email.
	ErrConflict = errors.New("record already exists")
)

// HoldingStore persists holdings. Every mutation also schedules a
// ResetEvent for the user in the same transaction.
type HoldingStore interface {
	FindHolding(ctx context.Context, userID, ticker string) (*models.Holding, error)
	ListHoldings(ctx context.Context, userID string) ([]models.Holding, error)
	// AddHolding inserts the holding or adds qty to the existing amount in a
	// single atomic step. created reports whether a new row was inserted.
	AddHolding(ctx context.Context, userID, ticker string, qty decimal.Decimal) (h *models.Holding, created bool, err error)
	SetHoldingAmount(ctx context.Context, userID, ticker string, qty decimal.Decimal) (*models.Holding, error)
	DeleteHolding(ctx context.Context, userID, ticker string) (*models.Holding, error)
}

// UserStore holds user records and the per-user settings.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	// EnsureUser returns the user with u.Email, creating it from u when
	// absent. It fails with ErrConflict when u.ID is taken by another email.
	EnsureUser(ctx context.Context, u *models.User) (user *models.User, created bool, err error)
	UpsertProfile(ctx context.Context, p *models.UserProfile) (*models.UserProfile, error)
	UpsertPreference(ctx context.Context, p *models.InvestmentPreference) (*models.InvestmentPreference, error)
}

// OutboxStore is the dispatcher's view of pending ResetEvents.
type OutboxStore interface {
	// ClaimResetEvents leases up to limit due events: their attempt count is
	// incremented and NextAttemptAt pushed to now+lease.
	ClaimResetEvents(ctx context.Context, limit int, lease time.Duration) ([]models.ResetEvent, error)
	// MarkResetDelivered marks the event delivered, along with any older
	// pending events for the same user.
	MarkResetDelivered(ctx context.Context, ev models.ResetEvent) error
	RescheduleReset(ctx context.Context, id uint, at time.Time, lastErr string) error
	AbandonReset(ctx context.Context, id uint, lastErr string) error
}

type Store interface {
	HoldingStore
	UserStore
	OutboxStore
	Close() error
}

// AllModels lists every table the service owns, in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Holding{},
		&models.UserProfile{},
		&models.InvestmentPreference{},
		&models.ResetEvent{},
	}
}

func checkQuantity(qty decimal.Decimal) error {
	if err := models.CheckStockAmt(qty); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuantity, err)
	}
	return nil
}

func newResetEvent(userID, reason string, now time.Time) *models.ResetEvent {
	return &models.ResetEvent{
		UserID:        userID,
		Reason:        reason,
		Status:        models.ResetPending,
		NextAttemptAt: now,
	}
}
