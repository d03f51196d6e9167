package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"portfolio-tracker/client"
	"portfolio-tracker/database"
	"portfolio-tracker/handlers"
	"portfolio-tracker/logging"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type server struct {
	*httptest.Server
	store    *database.MemoryStore
	requests atomic.Int64
}

func newServer(t *testing.T) *server {
	t.Helper()
	s := &server{store: database.NewMemoryStore()}
	router := handlers.New(handlers.Config{
		Store:  s.store,
		Logger: logging.Nop(),
	}).Router()
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestClient_AddEditDelete(t *testing.T) {
	srv := newServer(t)
	c := client.New(srv.URL, "u1")
	ctx := context.Background()

	assert.Nil(t, c.Snapshot())

	h, err := c.AddStock(ctx, "aapl", dec("10"))
	require.NoError(t, err)
	assert.Equal(t, "AAPL", h.StockName)

	snap := c.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, []string{"AAPL"}, snap.Stocks)

	h, err = c.AddStock(ctx, "AAPL", dec("2.5"))
	require.NoError(t, err)
	assert.True(t, dec("12.5").Equal(h.StockAmt), h.StockAmt.String())
	assert.True(t, dec("12.5").Equal(c.Snapshot().Portfolio[0].StockAmt))

	h, err = c.EditStock(ctx, "AAPL", dec("4"))
	require.NoError(t, err)
	assert.True(t, dec("4").Equal(h.StockAmt))

	got, err := c.Holding(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, dec("4").Equal(got.StockAmt))

	h, err = c.DeleteStock(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", h.StockName)
	assert.Empty(t, c.Snapshot().Portfolio)

	_, err = c.Holding(ctx, "AAPL")
	assert.True(t, client.IsNotFound(err), "%v", err)

	events := srv.store.ResetEvents()
	assert.Len(t, events, 4)
}

func TestClient_AddStockValidatesLocally(t *testing.T) {
	srv := newServer(t)
	c := client.New(srv.URL, "u1")
	ctx := context.Background()

	_, err := c.AddStock(ctx, "NOTREAL", dec("1"))
	assert.ErrorIs(t, err, client.ErrInvalidTicker)

	_, err = c.AddStock(ctx, "", dec("1"))
	assert.ErrorIs(t, err, client.ErrInvalidTicker)

	for _, q := range []string{"0", "-3", "0.0000001", "100000000000000"} {
		_, err = c.AddStock(ctx, "MSFT", dec(q))
		assert.ErrorIs(t, err, client.ErrInvalidQuantity, q)
	}
	_, err = c.EditStock(ctx, "MSFT", dec("2.1234567"))
	assert.ErrorIs(t, err, client.ErrInvalidQuantity)

	_, err = client.New(srv.URL, " ").AddStock(ctx, "MSFT", dec("1"))
	assert.ErrorIs(t, err, client.ErrMissingUser)

	assert.Zero(t, srv.requests.Load())
	assert.Nil(t, c.Snapshot())
}

func TestClient_EditMissingHolding(t *testing.T) {
	srv := newServer(t)
	c := client.New(srv.URL, "u1")

	_, err := c.EditStock(context.Background(), "KO", dec("3"))
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Stock not found in portfolio", apiErr.Message)

	_, err = c.DeleteStock(context.Background(), "KO")
	assert.True(t, client.IsNotFound(err))
	assert.Nil(t, c.Snapshot(), "failed changes do not reload")
}

func TestClient_ReloadFailure(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/api/portfolio" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"Failed to fetch portfolio"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1,"userId":"u1","stockName":"KO","stockAmt":1}`))
	}))
	defer srv.Close()

	c := client.New(srv.URL, "u1", client.WithHTTPClient(srv.Client()))
	h, err := c.AddStock(context.Background(), "KO", dec("1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reload failed")
	require.NotNil(t, h)
	assert.Equal(t, "KO", h.StockName)
	assert.EqualValues(t, 2, calls.Load())
}
