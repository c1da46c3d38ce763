package brokerapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"riskbot/internal/broker"
	"riskbot/internal/pkg/circuit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, APIToken: "tok", RatePerSecond: 1000, Burst: 100, BreakerThreshold: 2, BreakerCooldown: time.Hour})
	require.NoError(t, err)
	return c
}

func TestClient_Account(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/account/portfolio", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"equity":"10250.75"}`))
	})
	mux.HandleFunc("/v1/account/positions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[
			{"symbol":"aapl","quantity":"1.5","average_buy_price":"180.10","current_price":"185","created_at":"2024-05-01T14:30:00Z"},
			{"symbol":"ZERO","quantity":"0"}
		]}`))
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	eq, err := c.PortfolioEquity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10250.75", eq.String())

	pos, err := c.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, pos, 1)
	h := pos["AAPL"]
	assert.Equal(t, 1.5, h.Quantity)
	assert.Equal(t, 180.10, h.EntryPrice)
	assert.Equal(t, 185.0, h.CurrentPrice)
	assert.Equal(t, 2024, h.EntryTime.Year())
}

func TestClient_Orders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/account/orders", func(w http.ResponseWriter, r *http.Request) {
		var p orderPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "buy", p.Side)
		assert.Equal(t, "2500.00", p.AmountUSD)
		assert.Equal(t, "gfd", p.TimeInForce)
		w.Write([]byte(`{"id":"ord-9","state":"queued"}`))
	})
	mux.HandleFunc("/v1/account/orders/ord-9", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"ord-9","state":"filled"}`))
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	id, err := c.SubmitFractionalBuy(ctx, "abc", 2500)
	require.NoError(t, err)
	assert.Equal(t, "ord-9", id)
	st, err := c.OrderStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, broker.OrderFilled, st)
}

func TestClient_UnavailableOpensBreaker(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.PortfolioEquity(ctx)
		assert.ErrorIs(t, err, broker.ErrCollaboratorUnavailable)
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, circuit.StateOpen, c.breaker.State())
}

func TestClient_ClientErrorsDoNotTrip(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"insufficient buying power"}`))
	}))
	for i := 0; i < 3; i++ {
		_, err := c.SubmitFractionalBuy(context.Background(), "ABC", 100)
		require.Error(t, err)
		assert.NotErrorIs(t, err, broker.ErrCollaboratorUnavailable)
	}
	assert.Equal(t, circuit.StateClosed, c.breaker.State())
}

func TestClient_History(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/marketdata/MSFT/historicals", r.URL.Path)
		assert.Equal(t, "day", r.URL.Query().Get("interval"))
		w.Write([]byte(`{"historicals":[
			{"begins_at":"2024-05-01T00:00:00Z","open_price":"1","high_price":"2","low_price":"0.5","close_price":"1.5","volume":100},
			{"begins_at":"2024-05-02T00:00:00Z","open_price":"1.5","high_price":"2.5","low_price":"1","close_price":"2","volume":120},
			{"begins_at":"2024-05-03T00:00:00Z","open_price":"2","high_price":"3","low_price":"1.5","close_price":"2.5","volume":90}
		]}`))
	}))
	bars, err := c.FetchDailyBars(context.Background(), "msft", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 2.0, bars[0].Close)
	assert.Equal(t, 2.5, bars[1].Close)
}
