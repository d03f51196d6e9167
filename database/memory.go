package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"portfolio-tracker/models"

	"github.com/shopspring/decimal"
)

type holdingKey struct {
	userID string
	ticker string
}

// MemoryStore is an in-process Store for development and tests. A single
// mutex serialises every operation, which makes AddHolding atomic.
type MemoryStore struct {
	mu sync.Mutex

	now func() time.Time

	holdings    map[holdingKey]*models.Holding
	users       map[string]*models.User // by email
	userIDs     map[string]string       // id to email
	profiles    map[string]*models.UserProfile
	preferences map[string]*models.InvestmentPreference
	resets      []*models.ResetEvent

	nextHoldingID uint
	nextResetID   uint
	nextProfileID uint
	nextPrefID    uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         func() time.Time { return time.Now().UTC() },
		holdings:    make(map[holdingKey]*models.Holding),
		users:       make(map[string]*models.User),
		userIDs:     make(map[string]string),
		profiles:    make(map[string]*models.UserProfile),
		preferences: make(map[string]*models.InvestmentPreference),
	}
}

// SetClock replaces the store's time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) FindHolding(_ context.Context, userID, ticker string) (*models.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holdings[holdingKey{userID, ticker}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, userID string) ([]models.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Holding{}
	for k, h := range s.holdings {
		if k.userID == userID {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StockName < out[j].StockName })
	return out, nil
}

func (s *MemoryStore) AddHolding(_ context.Context, userID, ticker string, qty decimal.Decimal) (*models.Holding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkQuantity(qty); err != nil {
		return nil, false, err
	}
	now := s.now()
	key := holdingKey{userID, ticker}
	h, ok := s.holdings[key]
	if ok {
		sum := h.StockAmt.Add(qty)
		if err := checkQuantity(sum); err != nil {
			return nil, false, err
		}
		h.StockAmt = sum
		h.UpdatedAt = now
	} else {
		s.nextHoldingID++
		h = &models.Holding{
			ID:        s.nextHoldingID,
			UserID:    userID,
			StockName: ticker,
			StockAmt:  qty,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.holdings[key] = h
	}
	s.enqueueReset(userID, "add", now)

	cp := *h
	return &cp, !ok, nil
}

func (s *MemoryStore) SetHoldingAmount(_ context.Context, userID, ticker string, qty decimal.Decimal) (*models.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkQuantity(qty); err != nil {
		return nil, err
	}
	h, ok := s.holdings[holdingKey{userID, ticker}]
	if !ok {
		return nil, ErrNotFound
	}
	now := s.now()
	h.StockAmt = qty
	h.UpdatedAt = now
	s.enqueueReset(userID, "edit", now)

	cp := *h
	return &cp, nil
}

func (s *MemoryStore) DeleteHolding(_ context.Context, userID, ticker string) (*models.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := holdingKey{userID, ticker}
	h, ok := s.holdings[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.holdings, key)
	s.enqueueReset(userID, "delete", s.now())
	return h, nil
}

func (s *MemoryStore) enqueueReset(userID, reason string, now time.Time) {
	s.nextResetID++
	ev := newResetEvent(userID, reason, now)
	ev.ID = s.nextResetID
	ev.CreatedAt = now
	ev.UpdatedAt = now
	s.resets = append(s.resets, ev)
}

func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) EnsureUser(_ context.Context, u *models.User) (*models.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[u.Email]; ok {
		cp := *existing
		return &cp, false, nil
	}
	if _, taken := s.userIDs[u.ID]; taken {
		return nil, false, ErrConflict
	}
	now := s.now()
	created := *u
	created.CreatedAt = now
	created.UpdatedAt = now
	s.users[u.Email] = &created
	s.userIDs[u.ID] = u.Email

	cp := created
	return &cp, true, nil
}

func (s *MemoryStore) UpsertProfile(_ context.Context, p *models.UserProfile) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := *p
	if existing, ok := s.profiles[p.UserID]; ok {
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
	} else {
		s.nextProfileID++
		next.ID = s.nextProfileID
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	s.profiles[p.UserID] = &next

	cp := next
	return &cp, nil
}

func (s *MemoryStore) UpsertPreference(_ context.Context, p *models.InvestmentPreference) (*models.InvestmentPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := *p
	if existing, ok := s.preferences[p.UserID]; ok {
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
	} else {
		s.nextPrefID++
		next.ID = s.nextPrefID
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	s.preferences[p.UserID] = &next

	cp := next
	return &cp, nil
}

func (s *MemoryStore) ClaimResetEvents(_ context.Context, limit int, lease time.Duration) ([]models.ResetEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []models.ResetEvent
	for _, ev := range s.resets {
		if len(out) >= limit {
			break
		}
		if ev.Status != models.ResetPending || ev.NextAttemptAt.After(now) {
			continue
		}
		ev.Attempts++
		ev.NextAttemptAt = now.Add(lease)
		ev.UpdatedAt = now
		out = append(out, *ev)
	}
	return out, nil
}

func (s *MemoryStore) MarkResetDelivered(_ context.Context, delivered models.ResetEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, ev := range s.resets {
		if ev.UserID == delivered.UserID && ev.Status == models.ResetPending && ev.ID <= delivered.ID {
			ev.Status = models.ResetDelivered
			ev.DeliveredAt = &now
			ev.LastError = ""
			ev.UpdatedAt = now
		}
	}
	return nil
}

func (s *MemoryStore) RescheduleReset(_ context.Context, id uint, at time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := s.pendingReset(id)
	if ev == nil {
		return ErrNotFound
	}
	ev.NextAttemptAt = at
	ev.LastError = lastErr
	ev.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) AbandonReset(_ context.Context, id uint, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := s.pendingReset(id)
	if ev == nil {
		return ErrNotFound
	}
	ev.Status = models.ResetDead
	ev.LastError = lastErr
	ev.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) pendingReset(id uint) *models.ResetEvent {
	for _, ev := range s.resets {
		if ev.ID == id && ev.Status == models.ResetPending {
			return ev
		}
	}
	return nil
}

// ResetEvents returns a copy of every outbox row, oldest first.
func (s *MemoryStore) ResetEvents() []models.ResetEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ResetEvent, 0, len(s.resets))
	for _, ev := range s.resets {
		out = append(out, *ev)
	}
	return out
}
