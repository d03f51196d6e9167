// Package outbox delivers pending cache-reset notifications to the
// analytics service. Delivery is at-least-once.
package outbox

import (
	"context"
	"errors"
	"time"

	"portfolio-tracker/database"
	"portfolio-tracker/models"

	"github.com/rs/zerolog"
)

// Resetter drops the downstream cached valuation for a user.
type Resetter interface {
	Reset(ctx context.Context, userID string) error
}

type Options struct {
	PollInterval time.Duration
	Lease        time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

func DefaultOptions() Options {
	return Options{
		PollInterval: 2 * time.Second,
		Lease:        30 * time.Second,
		BatchSize:    50,
		MaxAttempts:  8,
		BaseBackoff:  time.Second,
		MaxBackoff:   5 * time.Minute,
	}
}

// Dispatcher drains the outbox on a timer and whenever Notify is called.
type Dispatcher struct {
	store    database.OutboxStore
	resetter Resetter
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
	wake     chan struct{}
}

func NewDispatcher(store database.OutboxStore, resetter Resetter, opts Options, logger zerolog.Logger) *Dispatcher {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.Lease <= 0 {
		opts.Lease = def.Lease
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = def.BaseBackoff
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = opts.BaseBackoff
	}

	return &Dispatcher{
		store:    store,
		resetter: resetter,
		opts:     opts,
		logger:   logger.With().Str("component", "outbox").Logger(),
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
}

// Notify asks the dispatcher to flush soon. It never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run flushes until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	d.logger.Info().Dur("poll_interval", d.opts.PollInterval).Msg("outbox dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("outbox dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-d.wake:
		}

		for {
			n, err := d.Flush(ctx)
			if err != nil {
				if ctx.Err() == nil {
					d.logger.Error().Err(err).Msg("outbox flush failed")
				}
				break
			}
			if n < d.opts.BatchSize {
				break
			}
		}
	}
}

// Flush claims one batch of due events and attempts each. At most one reset
// per user is sent for the batch: a successful send is recorded against the
// user's newest claimed event, which covers the older ones. It returns the
// number of events claimed.
func (d *Dispatcher) Flush(ctx context.Context) (int, error) {
	events, err := d.store.ClaimResetEvents(ctx, d.opts.BatchSize, d.opts.Lease)
	if err != nil {
		return 0, err
	}

	latest := make(map[string]uint, len(events))
	for _, ev := range events {
		if ev.ID > latest[ev.UserID] {
			latest[ev.UserID] = ev.ID
		}
	}
	done := make(map[string]bool, len(latest))
	for _, ev := range events {
		if ctx.Err() != nil {
			return len(events), ctx.Err()
		}
		if done[ev.UserID] {
			continue
		}
		done[ev.UserID] = d.deliver(ctx, ev, latest[ev.UserID])
	}
	return len(events), nil
}

// deliver sends the reset for ev. On success every pending event of the
// user up to coverID is marked delivered and deliver reports true.
func (d *Dispatcher) deliver(ctx context.Context, ev models.ResetEvent, coverID uint) bool {
	log := d.logger.With().Uint("event_id", ev.ID).Str("user_id", ev.UserID).Int("attempt", ev.Attempts).Logger()

	sendErr := d.resetter.Reset(ctx, ev.UserID)
	if sendErr == nil {
		covered := ev
		covered.ID = coverID
		if err := d.store.MarkResetDelivered(ctx, covered); err != nil {
			log.Error().Err(err).Msg("reset delivered but not recorded")
			return true
		}
		log.Debug().Uint("covered_through", coverID).Msg("reset delivered")
		return true
	}

	var err error
	if ev.Attempts >= d.opts.MaxAttempts {
		err = d.store.AbandonReset(ctx, ev.ID, sendErr.Error())
		log.Error().Err(sendErr).Msg("reset abandoned after max attempts")
	} else {
		retryAt := d.now().Add(d.backoff(ev.Attempts))
		err = d.store.RescheduleReset(ctx, ev.ID, retryAt, sendErr.Error())
		log.Warn().Err(sendErr).Time("retry_at", retryAt).Msg("reset failed, rescheduled")
	}
	// ErrNotFound means a newer delivery for the same user already covered it.
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		log.Error().Err(err).Msg("failed to record reset failure")
	}
	return false
}

// backoff returns BaseBackoff doubled per previous attempt, capped at MaxBackoff.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	wait := d.opts.BaseBackoff
	for i := 1; i < attempts; i++ {
		wait *= 2
		if wait >= d.opts.MaxBackoff {
			return d.opts.MaxBackoff
		}
	}
	return wait
}
