package app

import (
	"context"
	"fmt"
	"time"

	"riskbot/internal/analysis/indicator"
	brcfg "riskbot/internal/config"
	"riskbot/internal/engine"
	"riskbot/internal/executor"
	"riskbot/internal/ledger"
	"riskbot/internal/logger"
	"riskbot/internal/market"
	"riskbot/internal/risk"
	"riskbot/internal/runlock"
	"riskbot/internal/scheduler"
	"riskbot/internal/signal"
	"riskbot/internal/store/journal"
	"riskbot/internal/store/sqlite"
	apihttp "riskbot/internal/transport/http/api"
)

// Stores 汇总持久化依赖；Journal 在 memory 驱动下为空。
type Stores struct {
	Ledger  ledger.Repository
	Journal *journal.Store
	Closers []func() error
}

type AppBuilder struct {
	cfg *brcfg.Config

	storesFn   func(brcfg.StoreConfig) (*Stores, error)
	gatewaysFn func(*brcfg.Config, ledger.Repository) (*Gateways, error)
	universeFn func(brcfg.UniverseConfig, *Gateways) (*UniverseSetup, error)
	notifierFn func(brcfg.NotifyConfig) engine.Summarizer
	httpFn     func(brcfg.HTTPConfig, *App, *ledger.Ledger, *risk.Accountant, *journal.Store) (*apihttp.Server, error)
	now        func() time.Time
}

type AppBuilderOption func(*AppBuilder)

// WithGateways 替换券商/行情网关（测试用）。
func WithGateways(fn func(*brcfg.Config, ledger.Repository) (*Gateways, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.gatewaysFn = fn }
}

// WithUniverse 替换标的来源（测试用）。
func WithUniverse(fn func(brcfg.UniverseConfig, *Gateways) (*UniverseSetup, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.universeFn = fn }
}

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		storesFn:   buildStores,
		gatewaysFn: buildGateways,
		universeFn: buildUniverse,
		notifierFn: buildSummarizer,
		httpFn:     buildHTTPServer,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	app := &App{cfg: cfg, trigger: make(chan struct{}, 1)}
	built := false
	defer func() {
		if !built {
			_ = app.Close()
		}
	}()

	stores, err := b.storesFn(cfg.Store)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, stores.Closers...)

	gw, err := b.gatewaysFn(cfg, stores.Ledger)
	if err != nil {
		return nil, err
	}
	uni, err := b.universeFn(cfg.Universe, gw)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, uni.Closers...)

	session, err := market.NewSession(cfg.Schedule.Timezone, cfg.Schedule.MarketOpen, cfg.Schedule.MarketClose)
	if err != nil {
		return nil, err
	}

	l := ledger.New(stores.Ledger, gw.History, ledger.Config{
		MaxHoldDays:     cfg.Strategy.MaxHoldDays,
		ATRPeriod:       cfg.Strategy.ATRPeriod,
		HistoryLookback: cfg.Strategy.HistoryLookback,
		ATRFloorPercent: cfg.Strategy.ATRFloor,
	})
	if err := l.Load(ctx); err != nil {
		return nil, err
	}
	acc := risk.NewAccountant(riskLimits(cfg.Trading))
	exec := executor.NewCoordinator(l, acc, gw.Orders, session, executor.Config{
		PollAttempts: cfg.Trading.PollAttempts,
		PollInterval: cfg.Trading.PollInterval(),
	})
	lock, err := runlock.New(cfg.Store.LockPath, time.Duration(cfg.Store.LockWaitSeconds)*time.Second)
	if err != nil {
		return nil, err
	}

	deps := engine.Deps{
		Universe:   uni.Source,
		History:    gw.History,
		Account:    gw.Account,
		Ledger:     l,
		Risk:       acc,
		Classifier: buildClassifier(cfg),
		Executor:   exec,
		Lock:       lock,
		Summary:    b.notifierFn(cfg.Notify),
		Clock:      session,
	}
	if stores.Journal != nil {
		deps.Journal = stores.Journal
	}
	eng, err := engine.New(deps, engine.Config{
		Live:        !cfg.Trading.Simulated,
		Buckets:     cfg.Strategy.ATRBucketsAllowed,
		TopK:        cfg.Trading.TopK,
		Concurrency: cfg.Trading.Concurrency,
		Lookback:    cfg.Strategy.HistoryLookback,
	})
	if err != nil {
		return nil, err
	}
	app.engine = eng
	app.ledger = l
	app.risk = acc
	app.journal = stores.Journal

	openEvery, _ := scheduler.ParseInterval(cfg.Schedule.OpenInterval)
	closedEvery, _ := scheduler.ParseInterval(cfg.Schedule.ClosedInterval)
	sched := scheduler.NewMarketScheduler(session, openEvery, closedEvery)
	sched.RunImmediately = cfg.Schedule.RunImmediately
	app.scheduler = sched

	srv, err := b.httpFn(cfg.HTTP, app, l, acc, stores.Journal)
	if err != nil {
		return nil, err
	}
	app.http = srv

	app.Summary = &StartupSummary{
		Mode:          eng.Mode(),
		Portfolio:     cfg.Trading.SimulatedPortfolioSize,
		MaxDailyLoss:  cfg.Trading.MaxDailyLoss,
		RiskPerTrade:  cfg.Trading.RiskPerTrade,
		Buckets:       cfg.Strategy.ATRBucketsAllowed,
		Source:        uni.Description,
		Session:       fmt.Sprintf("%s %s-%s", cfg.Schedule.Timezone, cfg.Schedule.MarketOpen, cfg.Schedule.MarketClose),
		Intervals:     fmt.Sprintf("open=%s closed=%s", openEvery, closedEvery),
		StoreDriver:   cfg.Store.Driver,
		HTTPAddr:      srv.Addr(),
		Notifiers:     notifierNames(cfg.Notify),
		HeldPositions: len(l.Positions()),
	}
	logger.Infof("✓ riskbot 初始化完成（mode=%s, source=%s）", eng.Mode(), uni.Description)
	built = true
	return app, nil
}

func riskLimits(t brcfg.TradingConfig) risk.Limits {
	return risk.Limits{
		MaxDailyLoss: t.MaxDailyLoss,
		RiskPerTrade: t.RiskPerTrade,
		Overflow: risk.OverflowPolicy{
			Enabled:     t.Overflow.Enabled,
			TolerancePP: t.Overflow.TolerancePP,
			MinTradePct: t.Overflow.MinTradePct,
		},
	}
}

func buildClassifier(cfg *brcfg.Config) *signal.Classifier {
	c := signal.NewClassifier(cfg.Trading.MaxDailyLoss)
	c.Params = indicator.Params{
		ShortPeriod: cfg.Strategy.ShortPeriod,
		LongPeriod:  cfg.Strategy.LongPeriod,
		ATRPeriod:   cfg.Strategy.ATRPeriod,
		Lookback:    cfg.Strategy.CrossoverLookback,
	}
	c.ATRFloor = cfg.Strategy.ATRFloor
	c.RiskPerTrade = cfg.Trading.RiskPerTrade
	c.RewardMultiple = cfg.Strategy.RewardMultiple
	c.RejectRecentBearish = cfg.Strategy.RejectRecentBearish
	return c
}

func buildStores(cfg brcfg.StoreConfig) (*Stores, error) {
	if cfg.Driver == "memory" {
		logger.Warnf("store.driver=memory: 持仓与运行记录不会落盘")
		return &Stores{Ledger: ledger.NewMemoryRepository()}, nil
	}
	st, err := sqlite.NewSqliteStore(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}
	out := &Stores{Ledger: sqlite.NewLedgerRepository(st), Closers: []func() error{st.Close}}
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		out.Journal = j
		out.Closers = append(out.Closers, j.Close)
	}
	logger.Infof("✓ 账本数据库: %s", cfg.Path)
	return out, nil
}
