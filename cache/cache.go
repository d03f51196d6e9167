// Package cache stores short-lived JSON documents: per-user holding lists
// and proxied analytics responses.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Incr atomically adds one to the integer stored at key, starting from
	// zero, and returns the new value. The key does not expire.
	Incr(ctx context.Context, key string) (int64, error)
}

// GenerationKey holds the counter bumped after every change to a user's
// holdings.
func GenerationKey(userID string) string {
	return fmt.Sprintf("gen:%s", userID)
}

// PortfolioKey addresses a user's holding list as of generation gen.
func PortfolioKey(userID string, gen int64) string {
	return fmt.Sprintf("portfolio:%s:%d", userID, gen)
}

func SimulationKey(userID string, gen int64, simulations, horizon, confLevel int) string {
	return fmt.Sprintf("simulation:%s:%d:%d:%d:%d", userID, gen, simulations, horizon, confLevel)
}

func ComparisonKey(userID string, gen int64, period string) string {
	return fmt.Sprintf("comparison:%s:%d:%s", userID, gen, period)
}

func SentimentKey(company string) string {
	return fmt.Sprintf("sentiment:%s", company)
}

// Generation returns the user's current generation, zero before the first
// change. Documents derived from holdings are keyed by it, so anything
// written under an older generation is never read again.
func Generation(ctx context.Context, c Cache, userID string) (int64, error) {
	b, err := c.Get(ctx, GenerationKey(userID))
	if errors.Is(err, ErrMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	gen, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("generation for %s: %w", userID, err)
	}
	return gen, nil
}

// Bump moves the user to a new generation and returns it.
func Bump(ctx context.Context, c Cache, userID string) (int64, error) {
	return c.Incr(ctx, GenerationKey(userID))
}

func StockKey(symbol, interval string) string {
	return fmt.Sprintf("stock:%s:%s", symbol, interval)
}

func PredictionKey(symbol string, days int) string {
	return fmt.Sprintf("predict:%s:%d", symbol, days)
}

// Redis is a Cache backed by a Redis server.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return n, nil
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process Cache with per-key expiry.
type Memory struct {
	mu      sync.RWMutex
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemory() *Memory {
	return &Memory{
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || (!e.expires.IsZero() && !m.now().Before(e.expires)) {
		return nil, ErrMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	if e, ok := m.entries[key]; ok && (e.expires.IsZero() || m.now().Before(e.expires)) {
		v, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("incr %s: value is not an integer", key)
		}
		n = v
	}
	n++
	m.entries[key] = memoryEntry{value: []byte(strconv.FormatInt(n, 10))}
	return n, nil
}
