package engine

import (
	"context"
	"errors"

	"riskbot/internal/broker"
	"riskbot/internal/ledger"
	"riskbot/internal/market"
	"riskbot/internal/runlock"
	"riskbot/internal/signal"
)

// 错误分类。除 ErrCollaboratorUnavailable 外都只影响单个标的或候选，不会中止整轮。
var (
	ErrDataUnavailable         = market.ErrDataUnavailable
	ErrRiskBudgetExceeded      = signal.ErrRiskBudgetExceeded
	ErrOrderRejected           = broker.ErrOrderRejected
	ErrDuplicatePosition       = ledger.ErrDuplicatePosition
	ErrCollaboratorUnavailable = broker.ErrCollaboratorUnavailable
	ErrRunSkipped              = errors.New("run skipped")
)

// 运行结果标签，用于指标与运行日志。
const (
	OutcomeOK          = "ok"
	OutcomeSkipped     = "skipped"
	OutcomeUnavailable = "unavailable"
	OutcomeCancelled   = "cancelled"
	OutcomeFailed      = "failed"
)

// Outcome 把 Run 返回的错误归类。
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrRunSkipped), errors.Is(err, runlock.ErrBusy):
		return OutcomeSkipped
	case errors.Is(err, ErrCollaboratorUnavailable):
		return OutcomeUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}
