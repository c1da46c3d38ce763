package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"riskbot/internal/broker"
	"riskbot/internal/ledger"
	"riskbot/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccount_OpenPositions(t *testing.T) {
	ctx := context.Background()
	repo := ledger.NewMemoryRepository()
	open := ledger.NewPosition(ledger.Entry{Symbol: "AAA", Quantity: 2, Price: 100, ATR: 4, Time: time.Now()})
	require.NoError(t, repo.SavePosition(ctx, open))
	closed := ledger.NewPosition(ledger.Entry{Symbol: "BBB", Quantity: 1, Price: 50, ATR: 1, Time: time.Now()})
	closed.Status = ledger.StatusClosed
	require.NoError(t, repo.SavePosition(ctx, closed))

	history := market.HistoryFunc(func(_ context.Context, symbol string, _ int) (market.Bars, error) {
		return market.Bars{{Close: 99}, {Close: 103.5}}, nil
	})
	acc := NewAccount(repo, history, decimal.NewFromInt(20000))

	got, err := acc.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 103.5, got["AAA"].CurrentPrice)
	assert.Equal(t, 2.0, got["AAA"].Quantity)

	eq, err := acc.PortfolioEquity(ctx)
	require.NoError(t, err)
	assert.True(t, eq.Equal(decimal.NewFromInt(20000)))
}

func TestAccount_HistoryFailureKeepsStoredPrice(t *testing.T) {
	ctx := context.Background()
	repo := ledger.NewMemoryRepository()
	p := ledger.NewPosition(ledger.Entry{Symbol: "AAA", Quantity: 1, Price: 10, ATR: 1, Time: time.Now()})
	p.CurrentPrice = 11
	require.NoError(t, repo.SavePosition(ctx, p))
	acc := NewAccount(repo, market.HistoryFunc(func(context.Context, string, int) (market.Bars, error) {
		return nil, errors.New("down")
	}), decimal.NewFromInt(1000))

	got, err := acc.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 11.0, got["AAA"].CurrentPrice)
}

func TestAccount_Orders(t *testing.T) {
	ctx := context.Background()
	acc := NewAccount(ledger.NewMemoryRepository(), nil, decimal.Zero)

	id, err := acc.SubmitFractionalBuy(ctx, "AAA", 100)
	require.NoError(t, err)
	assert.Contains(t, id, "PAPER-")
	st, err := acc.OrderStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, broker.OrderFilled, st)

	_, err = acc.SubmitMarketSell(ctx, "AAA", 0)
	assert.ErrorIs(t, err, broker.ErrOrderRejected)

	_, err = acc.PortfolioEquity(ctx)
	assert.ErrorIs(t, err, broker.ErrCollaboratorUnavailable)
}
