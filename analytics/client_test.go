package analytics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReset_SendsDelete(t *testing.T) {
	var gotMethod, gotPath, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotUser = r.URL.Query().Get("userId")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithRateLimit(0))
	require.NoError(t, c.Reset(context.Background(), "u 1"))

	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/api/reset/", gotPath)
	assert.Equal(t, "u 1", gotUser)
}

func TestReset_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Reset(context.Background(), "u1")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "boom", se.Body)
}

func TestStockAndPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/stocks/AAPL":
			assert.Equal(t, "weekly", r.URL.Query().Get("interval"))
			w.Write([]byte(`{"Meta Data":{"symbol":"AAPL"}}`))
		case "/api/stocks/predict/AAPL":
			assert.Equal(t, "7", r.URL.Query().Get("days"))
			w.Write([]byte(`[1.5,2.5]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	stock, err := c.Stock(ctx, "AAPL", "weekly")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Meta Data":{"symbol":"AAPL"}}`, string(stock))

	pred, err := c.Predict(ctx, "AAPL", 7)
	require.NoError(t, err)
	assert.JSONEq(t, `[1.5,2.5]`, string(pred))

	_, err = c.Stock(ctx, "NOPE", "daily")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestStock_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Stock(context.Background(), "AAPL", "daily")
	assert.Error(t, err)
}

func TestPortfolioAnalytics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/api/simulation/":
			assert.Equal(t, "u1", q.Get("userId"))
			assert.Equal(t, "500", q.Get("simulations"))
			assert.Equal(t, "126", q.Get("timeHorizon"))
			assert.Equal(t, "99", q.Get("confLevel"))
			w.Write([]byte(`{"var":12.5}`))
		case "/api/comparison":
			assert.Equal(t, "u1", q.Get("userId"))
			assert.Equal(t, "1Y", q.Get("time"))
			w.Write([]byte(`{"portfolio":[1],"benchmark":[2]}`))
		case "/api/news/sentiment/tesla":
			w.Write([]byte(`{"overall":"positive"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRateLimit(0))
	ctx := context.Background()

	sim, err := c.Simulation(ctx, "u1", 500, 126, 99)
	require.NoError(t, err)
	assert.JSONEq(t, `{"var":12.5}`, string(sim))

	cmp, err := c.Comparison(ctx, "u1", "1Y")
	require.NoError(t, err)
	assert.JSONEq(t, `{"portfolio":[1],"benchmark":[2]}`, string(cmp))

	sent, err := c.Sentiment(ctx, "tesla")
	require.NoError(t, err)
	assert.JSONEq(t, `{"overall":"positive"}`, string(sent))
}

func TestWithTimeout_LeavesSharedClientAlone(t *testing.T) {
	shared := &http.Client{}
	c := NewClient("http://analytics", WithHTTPClient(shared), WithTimeout(3*time.Second))

	assert.Zero(t, shared.Timeout)
	assert.Zero(t, http.DefaultClient.Timeout)
	assert.NotSame(t, shared, c.httpClient)
	assert.Equal(t, 3*time.Second, c.httpClient.Timeout)

	// Option order does not matter.
	c = NewClient("http://analytics", WithTimeout(time.Second), WithHTTPClient(http.DefaultClient))
	assert.Zero(t, http.DefaultClient.Timeout)
	assert.Equal(t, time.Second, c.httpClient.Timeout)

	c = NewClient("http://analytics")
	assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)
}
