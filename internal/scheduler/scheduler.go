// Package scheduler 按交易时段调整节奏循环触发运行。
package scheduler

import (
	"context"
	"time"

	"riskbot/internal/logger"
)

// Clock 判断某一时刻市场是否开盘。
type Clock interface {
	IsOpen(t time.Time) bool
}

// MarketScheduler 开盘时每 OpenInterval 运行一次，休市时每 ClosedInterval 运行一次。
type MarketScheduler struct {
	Name           string
	Clock          Clock
	OpenInterval   time.Duration
	ClosedInterval time.Duration
	RunImmediately bool

	nowFn func() time.Time
	after func(time.Duration) <-chan time.Time
}

func NewMarketScheduler(clock Clock, open, closed time.Duration) *MarketScheduler {
	if open <= 0 {
		open = time.Minute
	}
	if closed <= 0 {
		closed = 5 * time.Hour
	}
	return &MarketScheduler{
		Name:           "run",
		Clock:          clock,
		OpenInterval:   open,
		ClosedInterval: closed,
		RunImmediately: true,
		nowFn:          time.Now,
		after:          time.After,
	}
}

// Next 返回本次运行后的等待时长。
func (s *MarketScheduler) Next(now time.Time) time.Duration {
	if s.Clock != nil && s.Clock.IsOpen(now) {
		return s.OpenInterval
	}
	return s.ClosedInterval
}

// Start 阻塞直到 ctx 结束；task 内的 panic 会被记录，不会终止循环。
func (s *MarketScheduler) Start(ctx context.Context, task func(ctx context.Context)) {
	if task == nil {
		logger.Warnf("scheduler[%s]: task is nil, exit", s.Name)
		return
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	if s.after == nil {
		s.after = time.After
	}
	logger.Infof("scheduler[%s]: started open=%s closed=%s run_immediately=%v",
		s.Name, s.OpenInterval, s.ClosedInterval, s.RunImmediately)

	if s.RunImmediately {
		s.runSafe(ctx, task)
	}
	for {
		now := s.nowFn()
		wait := s.Next(now)
		logger.Infof("scheduler[%s]: market_open=%v next run at %s (in %s)",
			s.Name, s.Clock != nil && s.Clock.IsOpen(now), now.Add(wait).Format(time.RFC3339), wait)
		select {
		case <-ctx.Done():
			logger.Infof("scheduler[%s]: ctx done, exit", s.Name)
			return
		case <-s.after(wait):
		}
		s.runSafe(ctx, task)
	}
}

func (s *MarketScheduler) runSafe(ctx context.Context, task func(ctx context.Context)) {
	if ctx.Err() != nil {
		return
	}
	defer safeRecover("scheduler " + s.Name)
	task(ctx)
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}
