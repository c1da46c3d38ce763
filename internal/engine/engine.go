// Package engine 编排一轮完整运行：对账、出场、风险重建、分类、执行、记录。
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"riskbot/internal/broker"
	"riskbot/internal/executor"
	"riskbot/internal/ledger"
	"riskbot/internal/logger"
	"riskbot/internal/market"
	"riskbot/internal/metrics"
	"riskbot/internal/risk"
	"riskbot/internal/signal"
	"riskbot/internal/store/journal"
	"riskbot/internal/universe"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	ModeLive      = "LIVE"
	ModeSimulated = "SIMULATED"

	reasonOutranked = "not in top ranked"
)

// Recorder 持久化运行记录。
type Recorder interface {
	Record(ctx context.Context, rec journal.RunRecord) error
}

// Locker 提供整轮互斥。
type Locker interface {
	Acquire(ctx context.Context) (func(), error)
}

// Summarizer 在运行结束后推送摘要，失败不影响运行结果。
type Summarizer interface {
	Summarize(ctx context.Context, r Report)
}

// Deps 是一轮运行用到的全部协作方。Journal、Lock、Summary、Clock 可为空。
type Deps struct {
	Universe   universe.Source
	History    market.HistoryProvider
	Account    broker.AccountQuery
	Ledger     *ledger.Ledger
	Risk       *risk.Accountant
	Classifier *signal.Classifier
	Executor   *executor.Coordinator
	Journal    Recorder
	Lock       Locker
	Summary    Summarizer
	Clock      executor.MarketClock
}

type Config struct {
	Live        bool
	Buckets     []float64
	TopK        int
	Concurrency int
	Lookback    int
	SymbolTTL   time.Duration
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 3
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.Lookback < market.MinBars {
		c.Lookback = 100
	}
	if c.SymbolTTL <= 0 {
		c.SymbolTTL = 30 * time.Second
	}
	if len(c.Buckets) == 0 {
		c.Buckets = signal.DefaultBuckets
	}
	return c
}

type Engine struct {
	deps Deps
	cfg  Config
	now  func() time.Time

	mu   sync.Mutex
	last *Report
}

func New(deps Deps, cfg Config) (*Engine, error) {
	switch {
	case deps.Universe == nil:
		return nil, fmt.Errorf("engine: universe source is required")
	case deps.History == nil:
		return nil, fmt.Errorf("engine: history provider is required")
	case deps.Account == nil:
		return nil, fmt.Errorf("engine: account query is required")
	case deps.Ledger == nil || deps.Risk == nil || deps.Executor == nil:
		return nil, fmt.Errorf("engine: ledger, risk accountant and executor are required")
	}
	if deps.Classifier == nil {
		deps.Classifier = signal.NewClassifier(deps.Risk.Limits().MaxDailyLoss)
	}
	return &Engine{deps: deps, cfg: cfg.withDefaults(), now: time.Now}, nil
}

func (e *Engine) Mode() string {
	if e.cfg.Live {
		return ModeLive
	}
	return ModeSimulated
}

// Last 返回最近一次完成的报告。
func (e *Engine) Last() (Report, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Report{}, false
	}
	return *e.last, true
}

// Run 执行一轮。协作方不可达时在修改风险状态前中止并返回 ErrCollaboratorUnavailable。
func (e *Engine) Run(ctx context.Context) (Report, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		metrics.RunsTotal.WithLabelValues(Outcome(err)).Inc()
		return Report{}, err
	}
	defer release()

	rep := Report{RunID: uuid.NewString(), Mode: e.Mode(), StartedAt: e.now()}
	if e.deps.Clock != nil {
		rep.MarketOpen = e.deps.Clock.IsOpen(rep.StartedAt)
	}
	log := logger.With("run_id", rep.RunID, "mode", rep.Mode)
	log.Info("run started", "market_open", rep.MarketOpen)

	err = e.run(ctx, &rep)
	rep.FinishedAt = e.now()
	outcome := Outcome(err)
	metrics.RunsTotal.WithLabelValues(outcome).Inc()
	metrics.RunDuration.Observe(rep.FinishedAt.Sub(rep.StartedAt).Seconds())
	e.record(ctx, rep, outcome, err)
	if err != nil {
		log.Error("run aborted", "outcome", outcome, "error", err)
		return rep, err
	}

	e.mu.Lock()
	snapshot := rep
	e.last = &snapshot
	e.mu.Unlock()
	log.Info("run finished", "trades", rep.TradesMade, "risk", rep.RiskAfter.String(), "elapsed", rep.FinishedAt.Sub(rep.StartedAt).Truncate(time.Millisecond))
	logger.InfoBlock(rep.Text())
	if e.deps.Summary != nil {
		e.deps.Summary.Summarize(ctx, rep)
	}
	return rep, nil
}

func (e *Engine) acquire(ctx context.Context) (func(), error) {
	if e.deps.Lock == nil {
		return func() {}, nil
	}
	release, err := e.deps.Lock.Acquire(ctx)
	if err != nil {
		logger.Warnf("engine: %v, skip this tick", err)
		return nil, fmt.Errorf("%w: %v", ErrRunSkipped, err)
	}
	return release, nil
}

func (e *Engine) run(ctx context.Context, rep *Report) error {
	equity, err := e.deps.Account.PortfolioEquity(ctx)
	if err != nil {
		return wrapUnavailable("portfolio equity", err)
	}
	portfolio, _ := equity.Float64()
	if portfolio <= 0 {
		return fmt.Errorf("portfolio equity %s: %w", equity.String(), ErrCollaboratorUnavailable)
	}
	rep.Portfolio = portfolio

	rec, err := e.deps.Ledger.Reconcile(ctx, e.deps.Account)
	if err != nil {
		return err
	}
	rep.Reconcile = rec
	rep.Sales = append(rep.Sales, rec.Finalized...)

	e.processExits(ctx, rep)

	held := e.deps.Ledger.Positions()
	state, risks, err := e.deps.Ledger.CalculateCurrentRisk(ctx, held, portfolio)
	if err != nil {
		return err
	}
	e.deps.Risk.Reset(state)
	rep.RiskBefore = state
	rep.PositionRisks = risks
	metrics.RiskPercentUsed.Set(state.PercentUsed)

	symbols, err := e.deps.Universe.LoadSymbols(ctx)
	if err != nil {
		return wrapUnavailable("load symbols", err)
	}
	cands := e.classifyAll(ctx, symbols, portfolio, e.deps.Risk.Snapshot(), rep)
	if err := ctx.Err(); err != nil {
		return err
	}

	ranked := signal.Rank(cands, e.cfg.TopK)
	inTop := make(map[string]bool, len(ranked))
	for _, c := range ranked {
		inTop[c.Symbol] = true
	}
	for _, c := range cands {
		if c.Eligible && !inTop[c.Symbol] {
			rep.skip(c.Symbol, reasonOutranked)
		}
	}

	rep.Candidates = e.deps.Executor.ExecuteRanked(ctx, ranked, portfolio, e.cfg.Live)
	for _, c := range rep.Candidates {
		if c.TradeMade {
			rep.TradesMade++
			continue
		}
		rep.skip(c.Symbol, c.Reason)
	}

	rep.RiskAfter = e.deps.Risk.Snapshot()
	rep.Positions = e.deps.Ledger.Positions()
	metrics.RiskPercentUsed.Set(rep.RiskAfter.PercentUsed)
	metrics.OpenPositions.Set(float64(len(rep.Positions)))
	return nil
}

// processExits 把触发出场条件的持仓平掉；失败的留在 Closing 等下一轮。
func (e *Engine) processExits(ctx context.Context, rep *Report) {
	exits, err := e.deps.Ledger.EvaluateExits(ctx)
	if err != nil {
		logger.Errorf("engine: evaluate exits: %v", err)
	}
	for _, ex := range exits {
		sale, err := e.deps.Executor.Close(ctx, ex.Position, e.cfg.Live)
		if err != nil {
			rep.CloseFailures = append(rep.CloseFailures, journal.Skip{Symbol: ex.Position.Symbol, Reason: err.Error()})
			logger.Warnf("engine: close %s (%s) deferred: %v", ex.Position.Symbol, ex.Reason, err)
			continue
		}
		rep.Sales = append(rep.Sales, sale)
	}
}

// classifyAll 并发拉取历史并分类；结果按输入顺序返回，拉取失败的标的记入跳过列表。
func (e *Engine) classifyAll(ctx context.Context, symbols []string, portfolio float64, snap risk.State, rep *Report) []signal.TradeCandidate {
	results := make([]signal.TradeCandidate, len(symbols))
	fetchErr := make([]error, len(symbols))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.Concurrency)
	for i, sym := range symbols {
		i, sym := i, sym
		group.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, e.cfg.SymbolTTL)
			defer cancel()
			bars, err := e.deps.History.FetchDailyBars(sctx, sym, e.cfg.Lookback)
			if err != nil {
				fetchErr[i] = err
				return nil
			}
			results[i] = e.deps.Classifier.Classify(sym, bars, portfolio, snap, e.cfg.Buckets)
			return nil
		})
	}
	_ = group.Wait()

	out := make([]signal.TradeCandidate, 0, len(symbols))
	for i, sym := range symbols {
		rep.SymbolsAnalyzed++
		if err := fetchErr[i]; err != nil {
			reason := "data unavailable"
			if !errors.Is(err, ErrDataUnavailable) {
				reason = "data unavailable: " + err.Error()
			}
			rep.skip(sym, reason)
			logger.Debugf("engine: skip %s: %v", sym, err)
			continue
		}
		c := results[i]
		if !c.Eligible {
			rep.skip(sym, c.Reason)
		}
		out = append(out, c)
	}
	return out
}

// CloseAll 平掉账本中的全部持仓（手动清仓）。
func (e *Engine) CloseAll(ctx context.Context) (Report, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return Report{}, err
	}
	defer release()
	rep := Report{RunID: uuid.NewString(), Mode: e.Mode(), StartedAt: e.now()}
	rec, err := e.deps.Ledger.Reconcile(ctx, e.deps.Account)
	if err != nil {
		return rep, err
	}
	rep.Reconcile = rec
	rep.Sales = append(rep.Sales, rec.Finalized...)
	for _, p := range e.deps.Ledger.Positions() {
		pos, err := e.deps.Ledger.BeginClose(ctx, p.Symbol, ledger.ReasonManual)
		if err != nil {
			rep.CloseFailures = append(rep.CloseFailures, journal.Skip{Symbol: p.Symbol, Reason: err.Error()})
			continue
		}
		sale, err := e.deps.Executor.Close(ctx, pos, e.cfg.Live)
		if err != nil {
			rep.CloseFailures = append(rep.CloseFailures, journal.Skip{Symbol: p.Symbol, Reason: err.Error()})
			continue
		}
		rep.Sales = append(rep.Sales, sale)
	}
	rep.Positions = e.deps.Ledger.Positions()
	rep.FinishedAt = e.now()
	metrics.OpenPositions.Set(float64(len(rep.Positions)))
	if len(rep.CloseFailures) > 0 {
		return rep, fmt.Errorf("close-all: %d position(s) still closing: %w", len(rep.CloseFailures), ErrOrderRejected)
	}
	return rep, nil
}

func (e *Engine) record(ctx context.Context, rep Report, outcome string, runErr error) {
	if e.deps.Journal == nil {
		return
	}
	rec := journal.RunRecord{
		ID:                rep.RunID,
		StartedAt:         rep.StartedAt,
		FinishedAt:        rep.FinishedAt,
		Mode:              rep.Mode,
		Outcome:           outcome,
		PortfolioSize:     rep.Portfolio,
		RiskPercentBefore: rep.RiskBefore.PercentUsed,
		RiskPercentAfter:  rep.RiskAfter.PercentUsed,
		RiskDollarAfter:   rep.RiskAfter.DollarUsed,
		SymbolsAnalyzed:   rep.SymbolsAnalyzed,
		TradesMade:        rep.TradesMade,
		Skips:             rep.Skips,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if raw, err := json.Marshal(rep); err == nil {
		rec.Report = raw
	}
	// 取消的运行也要落库，换一个不会被取消的 ctx。
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.deps.Journal.Record(wctx, rec); err != nil {
		logger.Errorf("engine: record run %s: %v", rep.RunID, err)
	}
}

func wrapUnavailable(what string, err error) error {
	if errors.Is(err, ErrCollaboratorUnavailable) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%s: %w: %v", what, ErrCollaboratorUnavailable, err)
}
