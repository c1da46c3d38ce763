package app

import (
	"context"
	"errors"
	"fmt"

	brcfg "riskbot/internal/config"
	"riskbot/internal/engine"
	"riskbot/internal/ledger"
	"riskbot/internal/logger"
	"riskbot/internal/risk"
	"riskbot/internal/scheduler"
	"riskbot/internal/store/journal"
	apihttp "riskbot/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动调度与状态接口。
type App struct {
	cfg       *brcfg.Config
	engine    *engine.Engine
	ledger    *ledger.Ledger
	risk      *risk.Accountant
	journal   *journal.Store
	scheduler *scheduler.MarketScheduler
	http      *apihttp.Server
	trigger   chan struct{}
	closers   []func() error
	Summary   *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *brcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动调度循环与 HTTP 服务，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.engine == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("status http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		a.scheduler.Start(ctx, a.tick)
		return nil
	})
	group.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-a.trigger:
				logger.Infof("manual run requested")
				a.tick(ctx)
			}
		}
	})
	return group.Wait()
}

func (a *App) tick(ctx context.Context) {
	if _, err := a.engine.Run(ctx); err != nil && !errors.Is(err, engine.ErrRunSkipped) {
		logger.Errorf("run failed: %v", err)
	}
}

// RequestRun 排队一次立即运行；已有待处理请求时返回 false。
func (a *App) RequestRun() bool {
	select {
	case a.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunOnce 执行单轮运行并返回报告。
func (a *App) RunOnce(ctx context.Context) (engine.Report, error) {
	return a.engine.Run(ctx)
}

// CloseAll 平掉全部持仓。
func (a *App) CloseAll(ctx context.Context) (engine.Report, error) {
	return a.engine.CloseAll(ctx)
}

// Engine exposes the underlying engine (for tests and commands).
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Close 释放数据库等资源。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Status 是 status 命令输出的快照。
type Status struct {
	Mode      string             `json:"mode"`
	Positions []ledger.Position  `json:"positions"`
	Risk      risk.State         `json:"risk"`
	Limits    risk.Limits        `json:"limits"`
	LastRun   *journal.RunRecord `json:"last_run,omitempty"`
	Sales     []ledger.Sale      `json:"recent_sales,omitempty"`
}

// Status 读取账本、风险与最近一次运行记录，不访问券商。
func (a *App) Status(ctx context.Context) (Status, error) {
	st := Status{
		Mode:      a.engine.Mode(),
		Positions: a.ledger.Positions(),
		Risk:      a.risk.Snapshot(),
		Limits:    a.risk.Limits(),
	}
	if a.journal != nil {
		rec, err := a.journal.Latest(ctx)
		switch {
		case err == nil:
			st.LastRun = &rec
			st.Risk = risk.State{DollarUsed: rec.RiskDollarAfter, PercentUsed: rec.RiskPercentAfter}
		case !errors.Is(err, journal.ErrNoRuns):
			return st, err
		}
	}
	sales, err := a.ledger.Sales(ctx, 10)
	if err != nil {
		return st, err
	}
	st.Sales = sales
	return st, nil
}
