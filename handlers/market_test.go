package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"portfolio-tracker/analytics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStock_CachesUpstreamResponse(t *testing.T) {
	env := newTestEnv(t)
	env.market.stock = json.RawMessage(`{"Meta Data":{"2. Symbol":"AAPL"}}`)

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodGet, "/api/stocks/aapl", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"Meta Data":{"2. Symbol":"AAPL"}}`, rec.Body.String())
	}
	assert.Equal(t, 1, env.market.Requests())
	assert.Equal(t, []string{"stock:AAPL:daily"}, env.market.requests)

	rec := env.do(t, http.MethodGet, "/api/stocks/AAPL?interval=weekly", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, env.market.Requests())
}

func TestGetStock_Validation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/stocks/1bad", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/stocks/AAPL?interval=DAILY", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.market.Requests())
}

func TestGetStock_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", &analytics.StatusError{Code: http.StatusNotFound}, http.StatusNotFound},
		{"upstream failure", &analytics.StatusError{Code: http.StatusInternalServerError}, http.StatusBadGateway},
		{"unreachable", errors.New("connection refused"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.market.err = tt.err
			rec := env.do(t, http.MethodGet, "/api/stocks/AAPL", nil)
			assert.Equal(t, tt.want, rec.Code)

			// Failures are not cached.
			env.market.err = nil
			env.market.stock = json.RawMessage(`{}`)
			rec = env.do(t, http.MethodGet, "/api/stocks/AAPL", nil)
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestGetPrediction(t *testing.T) {
	env := newTestEnv(t)
	env.market.predict = json.RawMessage(`{"predictions":[101.2,102.4]}`)

	rec := env.do(t, http.MethodGet, "/api/predictions/MSFT?days=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"predictions":[101.2,102.4]}`, rec.Body.String())

	for _, days := range []string{"0", "366", "abc"} {
		rec = env.do(t, http.MethodGet, "/api/predictions/MSFT?days="+days, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, days)
	}
	assert.Equal(t, 1, env.market.Requests())
}
