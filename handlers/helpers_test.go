package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"

	"portfolio-tracker/cache"
	"portfolio-tracker/database"
	"portfolio-tracker/logging"
	"portfolio-tracker/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (n *countingNotifier) Notify() {
	n.mu.Lock()
	n.n++
	n.mu.Unlock()
}

func (n *countingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.n
}

type fakeMarket struct {
	mu       sync.Mutex
	stock    json.RawMessage
	predict  json.RawMessage
	analysis json.RawMessage
	err      error
	requests []string
}

func (f *fakeMarket) Stock(_ context.Context, symbol, interval string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, "stock:"+symbol+":"+interval)
	return f.stock, f.err
}

func (f *fakeMarket) Predict(_ context.Context, symbol string, days int) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, "predict:"+symbol)
	return f.predict, f.err
}

func (f *fakeMarket) Simulation(_ context.Context, userID string, simulations, horizon, confLevel int) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, fmt.Sprintf("simulation:%s:%d:%d:%d", userID, simulations, horizon, confLevel))
	return f.analysis, f.err
}

func (f *fakeMarket) Comparison(_ context.Context, userID, period string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, "comparison:"+userID+":"+period)
	return f.analysis, f.err
}

func (f *fakeMarket) Sentiment(_ context.Context, company string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, "sentiment:"+company)
	return f.analysis, f.err
}

func (f *fakeMarket) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type testEnv struct {
	router   *gin.Engine
	store    *database.MemoryStore
	cache    *cache.Memory
	market   *fakeMarket
	notifier *countingNotifier
}

// newTestEnv builds a router over fresh in-memory backends. Each opt may
// adjust the handler config, for example to wrap the store.
func newTestEnv(t *testing.T, opts ...func(*testEnv, *Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    database.NewMemoryStore(),
		cache:    cache.NewMemory(),
		market:   &fakeMarket{},
		notifier: &countingNotifier{},
	}
	cfg := Config{
		Store:    env.store,
		Cache:    env.cache,
		Market:   env.market,
		Notifier: env.notifier,
		Logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(env, &cfg)
	}
	env.router = New(cfg).Router()
	return env
}

// pausingStore holds the first ListHoldings call after it has read from the
// store until resume is closed.
type pausingStore struct {
	*database.MemoryStore
	once   sync.Once
	read   chan struct{}
	resume chan struct{}
}

func (s *pausingStore) ListHoldings(ctx context.Context, userID string) ([]models.Holding, error) {
	holdings, err := s.MemoryStore.ListHoldings(ctx, userID)
	s.once.Do(func() {
		close(s.read)
		<-s.resume
	})
	return holdings, err
}

func (e *testEnv) do(t *testing.T, method, target string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}
