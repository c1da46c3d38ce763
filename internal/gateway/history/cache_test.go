package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"riskbot/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingSource(calls *int, n int) market.HistoryFunc {
	return func(_ context.Context, _ string, lookback int) (market.Bars, error) {
		*calls++
		if lookback > n {
			lookback = n
		}
		bars := make(market.Bars, lookback)
		for i := range bars {
			bars[i] = market.Bar{Close: float64(i + 1)}
		}
		return bars, nil
	}
}

func TestCache_ReusesWithinTTL(t *testing.T) {
	calls := 0
	now := time.Date(2024, 6, 14, 15, 0, 0, 0, time.UTC)
	c := NewCache(countingSource(&calls, 200), time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	bars, err := c.FetchDailyBars(ctx, "aaa", 100)
	require.NoError(t, err)
	assert.Len(t, bars, 100)

	bars, err = c.FetchDailyBars(ctx, "AAA", 15)
	require.NoError(t, err)
	assert.Len(t, bars, 15)
	assert.Equal(t, 100.0, bars.LastClose())
	assert.Equal(t, 1, calls)

	_, err = c.FetchDailyBars(ctx, "AAA", 150)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	now = now.Add(2 * time.Minute)
	_, err = c.FetchDailyBars(ctx, "AAA", 15)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, c.Purge())
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	calls := 0
	c := NewCache(market.HistoryFunc(func(context.Context, string, int) (market.Bars, error) {
		calls++
		return nil, market.ErrDataUnavailable
	}), time.Minute)

	for i := 0; i < 2; i++ {
		_, err := c.FetchDailyBars(context.Background(), "AAA", 60)
		assert.True(t, errors.Is(err, market.ErrDataUnavailable))
	}
	assert.Equal(t, 2, calls)
}

func TestCache_ZeroTTLPassesThrough(t *testing.T) {
	calls := 0
	c := NewCache(countingSource(&calls, 60), 0)
	for i := 0; i < 3; i++ {
		_, err := c.FetchDailyBars(context.Background(), "AAA", 60)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
}
