package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"portfolio-tracker/database"
	"portfolio-tracker/logging"
	"portfolio-tracker/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResetter struct {
	mu    sync.Mutex
	calls []string
	fail  int // number of calls to fail before succeeding
}

func (f *fakeResetter) Reset(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
	if f.fail > 0 {
		f.fail--
		return errors.New("analytics unavailable")
	}
	return nil
}

func (f *fakeResetter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDispatcher(t *testing.T, r Resetter, opts Options) (*Dispatcher, *database.MemoryStore, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := database.NewMemoryStore()
	store.SetClock(clk.Now)
	d := NewDispatcher(store, r, opts, logging.Nop())
	d.now = clk.Now
	return d, store, clk
}

func statuses(events []models.ResetEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Status)
	}
	return out
}

func TestFlush_DeliversAndCoalesces(t *testing.T) {
	r := &fakeResetter{}
	d, store, _ := newTestDispatcher(t, r, Options{BatchSize: 10})
	ctx := context.Background()

	_, _, err := store.AddHolding(ctx, "u1", "AAPL", decimal.NewFromInt(10))
	require.NoError(t, err)
	_, _, err = store.AddHolding(ctx, "u1", "AAPL", decimal.NewFromInt(5))
	require.NoError(t, err)
	_, _, err = store.AddHolding(ctx, "u2", "MSFT", decimal.NewFromInt(1))
	require.NoError(t, err)

	n, err := d.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Both u1 events were claimed in the same batch; one reset covers them.
	assert.Equal(t, []string{"u1", "u2"}, r.Calls())
	assert.Equal(t, []string{models.ResetDelivered, models.ResetDelivered, models.ResetDelivered}, statuses(store.ResetEvents()))

	n, err = d.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFlush_LaterDeliveryCoversOlderEvents(t *testing.T) {
	r := &fakeResetter{fail: 1}
	d, store, clk := newTestDispatcher(t, r, Options{BatchSize: 10, BaseBackoff: time.Second})
	ctx := context.Background()

	_, _, err := store.AddHolding(ctx, "u1", "AAPL", decimal.NewFromInt(1))
	require.NoError(t, err)

	// First attempt fails and is rescheduled one second out.
	_, err = d.Flush(ctx)
	require.NoError(t, err)
	events := store.ResetEvents()
	require.Len(t, events, 1)
	assert.Equal(t, models.ResetPending, events[0].Status)
	assert.Equal(t, "analytics unavailable", events[0].LastError)
	assert.Equal(t, clk.Now().Add(time.Second), events[0].NextAttemptAt)

	// A newer mutation is delivered first and covers the older event.
	_, err = store.DeleteHolding(ctx, "u1", "AAPL")
	require.NoError(t, err)
	_, err = d.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{models.ResetDelivered, models.ResetDelivered}, statuses(store.ResetEvents()))
	assert.Equal(t, []string{"u1", "u1"}, r.Calls())
}

func TestFlush_RetriesUserWithinBatchAfterFailure(t *testing.T) {
	r := &fakeResetter{fail: 1}
	d, store, _ := newTestDispatcher(t, r, Options{BatchSize: 10, BaseBackoff: time.Second})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := store.AddHolding(ctx, "u1", "AAPL", decimal.NewFromInt(1))
		require.NoError(t, err)
	}

	n, err := d.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// The first send fails; the second succeeds and covers all three.
	assert.Equal(t, []string{"u1", "u1"}, r.Calls())
	assert.Equal(t, []string{models.ResetDelivered, models.ResetDelivered, models.ResetDelivered}, statuses(store.ResetEvents()))
}

func TestFlush_AbandonsAfterMaxAttempts(t *testing.T) {
	r := &fakeResetter{fail: 100}
	d, store, clk := newTestDispatcher(t, r, Options{BatchSize: 10, MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Minute})
	ctx := context.Background()

	_, _, err := store.AddHolding(ctx, "u1", "AAPL", decimal.NewFromInt(1))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		n, err := d.Flush(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "attempt %d", i+1)
		clk.Advance(time.Hour)
	}

	events := store.ResetEvents()
	require.Len(t, events, 1)
	assert.Equal(t, models.ResetDead, events[0].Status)
	assert.Equal(t, 3, events[0].Attempts)

	n, err := d.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, r.Calls(), 3)
}

func TestFlush_RespectsBackoffWindow(t *testing.T) {
	r := &fakeResetter{fail: 1}
	d, store, clk := newTestDispatcher(t, r, Options{BatchSize: 10, BaseBackoff: 10 * time.Second})
	ctx := context.Background()

	_, _, err := store.AddHolding(ctx, "u1", "AAPL", decimal.NewFromInt(1))
	require.NoError(t, err)

	_, err = d.Flush(ctx)
	require.NoError(t, err)

	clk.Advance(5 * time.Second)
	n, err := d.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(5 * time.Second)
	n, err = d.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.ResetDelivered, store.ResetEvents()[0].Status)
}

func TestBackoff(t *testing.T) {
	d := NewDispatcher(database.NewMemoryStore(), &fakeResetter{}, Options{BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}, logging.Nop())

	assert.Equal(t, time.Second, d.backoff(1))
	assert.Equal(t, 2*time.Second, d.backoff(2))
	assert.Equal(t, 4*time.Second, d.backoff(3))
	assert.Equal(t, 8*time.Second, d.backoff(4))
	assert.Equal(t, 10*time.Second, d.backoff(5))
	assert.Equal(t, 10*time.Second, d.backoff(30))
}

func TestRun_NotifyTriggersFlush(t *testing.T) {
	r := &fakeResetter{}
	store := database.NewMemoryStore()
	d := NewDispatcher(store, r, Options{PollInterval: time.Hour}, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	_, _, err := store.AddHolding(ctx, "u1", "AAPL", decimal.NewFromInt(1))
	require.NoError(t, err)
	d.Notify()

	assert.Eventually(t, func() bool { return len(r.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
