package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"portfolio-tracker/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresStore implements Store on PostgreSQL through gorm.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("failed to migrate models: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PostgresStore) FindHolding(ctx context.Context, userID, ticker string) (*models.Holding, error) {
	var h models.Holding
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND stock_name = ?", userID, ticker).
		First(&h).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &h, nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, userID string) ([]models.Holding, error) {
	var holdings []models.Holding
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("stock_name").
		Find(&holdings).Error; err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	return holdings, nil
}

const upsertHoldingSQL = `
INSERT INTO holdings (user_id, stock_name, stock_amt, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id, stock_name)
DO UPDATE SET stock_amt = holdings.stock_amt + EXCLUDED.stock_amt, updated_at = EXCLUDED.updated_at
RETURNING id, user_id, stock_name, stock_amt, created_at, updated_at, (xmax = 0) AS inserted`

type upsertedHolding struct {
	ID        uint
	UserID    string
	StockName string
	StockAmt  decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
	Inserted  bool
}

func (s *PostgresStore) AddHolding(ctx context.Context, userID, ticker string, qty decimal.Decimal) (*models.Holding, bool, error) {
	if err := checkQuantity(qty); err != nil {
		return nil, false, err
	}
	var row upsertedHolding
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if err := tx.Raw(upsertHoldingSQL, userID, ticker, qty, now, now).Scan(&row).Error; err != nil {
			if isNumericOverflow(err) {
				return fmt.Errorf("%w: %v", ErrInvalidQuantity, models.ErrStockAmtRange)
			}
			return fmt.Errorf("upsert holding: %w", err)
		}
		if err := tx.Create(newResetEvent(userID, "add", now)).Error; err != nil {
			return fmt.Errorf("enqueue reset: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return &models.Holding{
		ID:        row.ID,
		UserID:    row.UserID,
		StockName: row.StockName,
		StockAmt:  row.StockAmt,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, row.Inserted, nil
}

func (s *PostgresStore) SetHoldingAmount(ctx context.Context, userID, ticker string, qty decimal.Decimal) (*models.Holding, error) {
	if err := checkQuantity(qty); err != nil {
		return nil, err
	}
	var h models.Holding
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND stock_name = ?", userID, ticker).
			First(&h).Error; err != nil {
			return notFound(err)
		}

		h.StockAmt = qty
		if err := tx.Save(&h).Error; err != nil {
			return fmt.Errorf("update holding: %w", err)
		}
		if err := tx.Create(newResetEvent(userID, "edit", time.Now().UTC())).Error; err != nil {
			return fmt.Errorf("enqueue reset: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *PostgresStore) DeleteHolding(ctx context.Context, userID, ticker string) (*models.Holding, error) {
	var h models.Holding
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND stock_name = ?", userID, ticker).
			First(&h).Error; err != nil {
			return notFound(err)
		}

		if err := tx.Delete(&models.Holding{}, h.ID).Error; err != nil {
			return fmt.Errorf("delete holding: %w", err)
		}
		if err := tx.Create(newResetEvent(userID, "delete", time.Now().UTC())).Error; err != nil {
			return fmt.Errorf("enqueue reset: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *PostgresStore) EnsureUser(ctx context.Context, u *models.User) (*models.User, bool, error) {
	var (
		out     models.User
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// No conflict target: a clash on either the email or the id is
		// absorbed here and told apart by the lookup below.
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.User{ID: u.ID, Email: u.Email, Name: u.Name})
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0
		err := tx.Where("email = ?", u.Email).First(&out).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConflict
		}
		return err
	})
	if errors.Is(err, ErrConflict) {
		return nil, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}
	return &out, created, nil
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, p *models.UserProfile) (*models.UserProfile, error) {
	var out models.UserProfile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"phone", "location", "bio", "avatar", "risk_tolerance",
				"investment_goals", "preferred_sectors", "updated_at",
			}),
		}).Create(p).Error; err != nil {
			return fmt.Errorf("upsert profile: %w", err)
		}
		return tx.Where("user_id = ?", p.UserID).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *PostgresStore) UpsertPreference(ctx context.Context, p *models.InvestmentPreference) (*models.InvestmentPreference, error) {
	var out models.InvestmentPreference
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"risk_tolerance", "investment_horizon", "monthly_investment",
				"portfolio_value", "diversification_level", "updated_at",
			}),
		}).Create(p).Error; err != nil {
			return fmt.Errorf("upsert investment preference: %w", err)
		}
		return tx.Where("user_id = ?", p.UserID).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

const claimResetEventsSQL = `
UPDATE reset_events
SET attempts = attempts + 1, next_attempt_at = ?, updated_at = ?
WHERE id IN (
	SELECT id FROM reset_events
	WHERE status = ? AND next_attempt_at <= ?
	ORDER BY id
	LIMIT ?
	FOR UPDATE SKIP LOCKED
)
RETURNING *`

func (s *PostgresStore) ClaimResetEvents(ctx context.Context, limit int, lease time.Duration) ([]models.ResetEvent, error) {
	now := time.Now().UTC()
	var events []models.ResetEvent
	if err := s.db.WithContext(ctx).
		Raw(claimResetEventsSQL, now.Add(lease), now, models.ResetPending, now, limit).
		Scan(&events).Error; err != nil {
		return nil, fmt.Errorf("claim reset events: %w", err)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events, nil
}

func (s *PostgresStore) MarkResetDelivered(ctx context.Context, ev models.ResetEvent) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).
		Model(&models.ResetEvent{}).
		Where("user_id = ? AND status = ? AND id <= ?", ev.UserID, models.ResetPending, ev.ID).
		Updates(map[string]interface{}{
			"status":       models.ResetDelivered,
			"delivered_at": now,
			"last_error":   "",
			"updated_at":   now,
		}).Error
	if err != nil {
		return fmt.Errorf("mark reset delivered: %w", err)
	}
	return nil
}

func (s *PostgresStore) RescheduleReset(ctx context.Context, id uint, at time.Time, lastErr string) error {
	return s.updateReset(ctx, id, map[string]interface{}{
		"next_attempt_at": at,
		"last_error":      lastErr,
	})
}

func (s *PostgresStore) AbandonReset(ctx context.Context, id uint, lastErr string) error {
	return s.updateReset(ctx, id, map[string]interface{}{
		"status":     models.ResetDead,
		"last_error": lastErr,
	})
}

func (s *PostgresStore) updateReset(ctx context.Context, id uint, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&models.ResetEvent{}).
		Where("id = ? AND status = ?", id, models.ResetPending).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update reset event %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// isNumericOverflow reports a PostgreSQL numeric_value_out_of_range error.
func isNumericOverflow(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22003"
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
