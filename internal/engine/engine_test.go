package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"riskbot/internal/broker"
	"riskbot/internal/executor"
	"riskbot/internal/gateway/paper"
	"riskbot/internal/ledger"
	"riskbot/internal/market"
	"riskbot/internal/risk"
	"riskbot/internal/runlock"
	"riskbot/internal/signal"
	"riskbot/internal/store/journal"
	"riskbot/internal/universe"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func rallyBars() market.Bars {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make(market.Bars, 0, 60)
	for i := 0; i < 60; i++ {
		c := 100.0
		if i >= 55 {
			c = 100 + float64(i-54)*6
		}
		bars = append(bars, market.Bar{Time: start.AddDate(0, 0, i), Open: c, High: c + 2, Low: c - 2, Close: c})
	}
	return bars
}

func flatBars() market.Bars {
	bars := rallyBars()
	for i := range bars {
		bars[i].Close, bars[i].High, bars[i].Low = 100, 102, 98
	}
	return bars
}

var testHistory = market.HistoryFunc(func(_ context.Context, symbol string, _ int) (market.Bars, error) {
	switch symbol {
	case "FAIL":
		return nil, errors.New("timeout")
	case "FLAT":
		return flatBars(), nil
	default:
		return rallyBars(), nil
	}
})

type recorder struct {
	mu   sync.Mutex
	runs []journal.RunRecord
}

func (r *recorder) Record(_ context.Context, rec journal.RunRecord) error {
	r.mu.Lock()
	r.runs = append(r.runs, rec)
	r.mu.Unlock()
	return nil
}

type closedClock struct{}

func (closedClock) IsOpen(time.Time) bool { return false }

type fixture struct {
	engine *Engine
	ledger *ledger.Ledger
	risk   *risk.Accountant
	repo   *ledger.MemoryRepository
	rec    *recorder
}

func newFixture(t *testing.T, symbols []string, topK int) fixture {
	t.Helper()
	repo := ledger.NewMemoryRepository()
	l := ledger.New(repo, testHistory, ledger.Config{})
	acc := risk.NewAccountant(risk.Limits{MaxDailyLoss: 0.06, RiskPerTrade: 0.02, Overflow: risk.DefaultOverflowPolicy()})
	account := paper.NewAccount(repo, testHistory, decimal.NewFromInt(10000))
	coord := executor.NewCoordinator(l, acc, account, closedClock{}, executor.Config{})
	rec := &recorder{}
	eng, err := New(Deps{
		Universe: universe.SourceFunc(func(context.Context) ([]string, error) { return symbols, nil }),
		History:  testHistory,
		Account:  account,
		Ledger:   l,
		Risk:     acc,
		Executor: coord,
		Journal:  rec,
		Clock:    closedClock{},
	}, Config{TopK: topK, Concurrency: 2})
	require.NoError(t, err)
	return fixture{engine: eng, ledger: l, risk: acc, repo: repo, rec: rec}
}

func skipReason(rep Report, symbol string) string {
	for _, s := range rep.Skips {
		if s.Symbol == symbol {
			return s.Reason
		}
	}
	return ""
}

func TestEngine_Run(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"AAA", "BBB", "FAIL", "FLAT", "CCC", "DDD"}, 4)

	rep, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeSimulated, rep.Mode)
	assert.Equal(t, 10000.0, rep.Portfolio)
	assert.Equal(t, 6, rep.SymbolsAnalyzed)
	assert.Equal(t, 3, rep.TradesMade)
	assert.InDelta(t, 6.0, rep.RiskAfter.PercentUsed, 1e-9)
	assert.Equal(t, f.risk.Snapshot(), rep.RiskAfter)

	assert.Equal(t, "data unavailable: timeout", skipReason(rep, "FAIL"))
	assert.Equal(t, signal.ReasonNoCrossover, skipReason(rep, "FLAT"))
	assert.Equal(t, executor.ReasonDailyLimitReached, skipReason(rep, "DDD"))
	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		assert.True(t, f.ledger.Held(sym), sym)
	}
	assert.False(t, f.ledger.Held("DDD"))

	require.Len(t, f.rec.runs, 1)
	assert.Equal(t, OutcomeOK, f.rec.runs[0].Outcome)
	assert.Equal(t, 3, f.rec.runs[0].TradesMade)
	assert.NotEmpty(t, f.rec.runs[0].Report)

	last, ok := f.engine.Last()
	require.True(t, ok)
	assert.Equal(t, rep.RunID, last.RunID)

	// 第二轮：持仓由账本重建，风险从持仓重算，预算已满不再开仓。
	rep2, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep2.Reconcile.Kept)
	assert.Equal(t, 0, rep2.TradesMade)
	assert.Greater(t, rep2.RiskBefore.PercentUsed, 5.0)
	assert.Len(t, rep2.Positions, 3)
}

func TestEngine_RunOutranked(t *testing.T) {
	f := newFixture(t, []string{"AAA", "BBB"}, 1)
	rep, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.TradesMade)
	assert.Equal(t, reasonOutranked, skipReason(rep, "BBB"))
}

type MockAccount struct {
	mock.Mock
}

func (m *MockAccount) OpenPositions(ctx context.Context) (map[string]broker.Holding, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]broker.Holding), args.Error(1)
}

func (m *MockAccount) PortfolioEquity(ctx context.Context) (decimal.Decimal, error) {
	args := m.Called(ctx)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func TestEngine_RunAbortsWhenAccountUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"AAA"}, 3)
	f.risk.Reset(risk.State{DollarUsed: 100, PercentUsed: 1})
	acc := new(MockAccount)
	acc.On("PortfolioEquity", mock.Anything).Return(decimal.Zero, errors.New("502 bad gateway")).Once()
	f.engine.deps.Account = acc

	_, err := f.engine.Run(ctx)
	require.ErrorIs(t, err, ErrCollaboratorUnavailable)
	assert.Equal(t, OutcomeUnavailable, Outcome(err))
	assert.Equal(t, risk.State{DollarUsed: 100, PercentUsed: 1}, f.risk.Snapshot())
	assert.False(t, f.ledger.Held("AAA"))
	require.Len(t, f.rec.runs, 1)
	assert.Equal(t, OutcomeUnavailable, f.rec.runs[0].Outcome)

	acc.On("PortfolioEquity", mock.Anything).Return(decimal.NewFromInt(10000), nil).Once()
	acc.On("OpenPositions", mock.Anything).Return(nil, broker.ErrCollaboratorUnavailable).Once()
	_, err = f.engine.Run(ctx)
	require.ErrorIs(t, err, ErrCollaboratorUnavailable)
	assert.Equal(t, risk.State{DollarUsed: 100, PercentUsed: 1}, f.risk.Snapshot())
	acc.AssertExpectations(t)
}

type busyLock struct{}

func (busyLock) Acquire(context.Context) (func(), error) { return nil, runlock.ErrBusy }

func TestEngine_RunSkippedWhenLocked(t *testing.T) {
	f := newFixture(t, []string{"AAA"}, 3)
	f.engine.deps.Lock = busyLock{}
	_, err := f.engine.Run(context.Background())
	require.ErrorIs(t, err, ErrRunSkipped)
	assert.Equal(t, OutcomeSkipped, Outcome(err))
	assert.Empty(t, f.rec.runs)
}

func TestEngine_CloseAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"AAA", "BBB"}, 3)
	_, err := f.engine.Run(ctx)
	require.NoError(t, err)
	require.Len(t, f.ledger.Positions(), 2)

	rep, err := f.engine.CloseAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rep.Sales, 2)
	assert.Empty(t, f.ledger.Positions())
	sales, err := f.repo.ListSales(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, ledger.ReasonManual, sales[0].Reason)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeOK, Outcome(nil))
	assert.Equal(t, OutcomeCancelled, Outcome(context.Canceled))
	assert.Equal(t, OutcomeFailed, Outcome(errors.New("x")))
	assert.Equal(t, OutcomeSkipped, Outcome(runlock.ErrBusy))
}
