package history

import (
	"context"
	"testing"

	"riskbot/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tagged(tag float64) market.HistoryFunc {
	return func(context.Context, string, int) (market.Bars, error) {
		return market.Bars{{Close: tag}}, nil
	}
}

func TestRouter_FetchDailyBars(t *testing.T) {
	r := NewRouter(tagged(1), tagged(2), nil)
	ctx := context.Background()

	cases := map[string]float64{
		"AAPL":     1,
		"BRK.B":    1,
		"BTCUSDT":  2,
		"eth/usdt": 2,
		"sol-usdc": 2,
		"USDT":     1,
	}
	for sym, want := range cases {
		t.Run(sym, func(t *testing.T) {
			bars, err := r.FetchDailyBars(ctx, sym, 10)
			require.NoError(t, err)
			assert.Equal(t, want, bars.LastClose())
		})
	}
}

func TestRouter_MissingSource(t *testing.T) {
	r := NewRouter(tagged(1), nil, nil)
	_, err := r.FetchDailyBars(context.Background(), "BTCUSDT", 10)
	assert.ErrorIs(t, err, market.ErrDataUnavailable)
}
