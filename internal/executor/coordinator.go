// Package executor 把排序后的候选转换为订单，并在成交确认后更新账本与风险状态。
//
// 同一标的在账本中已持有时直接跳过；风险在执行时重新校验，
// 只有确认成交（或模拟成交）的订单才会建仓并计入风险。
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"riskbot/internal/broker"
	"riskbot/internal/ledger"
	"riskbot/internal/logger"
	"riskbot/internal/metrics"
	"riskbot/internal/risk"
	"riskbot/internal/signal"
)

// 执行阶段的原因文本。
const (
	ReasonAlreadyHeld       = "already held"
	ReasonDailyLimitReached = "daily loss limit reached"
	ReasonInsufficientRisk  = "insufficient risk allowance"
	ReasonOrderRejected     = "order rejected"
	ReasonOrderNotFilled    = "order not filled"
	ReasonTradeExecuted     = "trade executed"
)

// MarketClock 判断某一时刻是否处于交易时段。
type MarketClock interface {
	IsOpen(t time.Time) bool
}

type Config struct {
	PollAttempts int
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollAttempts <= 0 {
		c.PollAttempts = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	return c
}

type Coordinator struct {
	mu     sync.Mutex
	ledger *ledger.Ledger
	risk   *risk.Accountant
	orders broker.OrderSubmitter
	clock  MarketClock
	cfg    Config
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewCoordinator(l *ledger.Ledger, acc *risk.Accountant, orders broker.OrderSubmitter, clock MarketClock, cfg Config) *Coordinator {
	return &Coordinator{
		ledger: l,
		risk:   acc,
		orders: orders,
		clock:  clock,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func syntheticOrderID() string {
	return "SIM-" + uuid.NewString()
}

// submitsLive 报告本次是否真实下单：实盘且处于交易时段。
func (c *Coordinator) submitsLive(live bool) bool {
	if !live || c.orders == nil {
		return false
	}
	if c.clock == nil {
		return true
	}
	return c.clock.IsOpen(c.now())
}

// Execute 尝试为一个可交易候选建仓，返回是否成交。结果回填到 cand。
func (c *Coordinator) Execute(ctx context.Context, cand *signal.TradeCandidate, portfolio float64, live bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execute(ctx, cand, portfolio, live)
}

func (c *Coordinator) execute(ctx context.Context, cand *signal.TradeCandidate, portfolio float64, live bool) bool {
	log := logger.With("symbol", cand.Symbol)
	cand.TradeMade = false
	if c.ledger.Held(cand.Symbol) {
		cand.Reason = ReasonAlreadyHeld
		metrics.OrdersSuppressed.WithLabelValues("already_held").Inc()
		log.Debug("skip candidate: already held")
		return false
	}
	verdict := c.risk.Admit(cand.PotentialLoss, portfolio)
	if !verdict.Allowed {
		cand.Reason = signal.ReasonRiskBudgetExceeded
		metrics.OrdersSuppressed.WithLabelValues("risk_budget").Inc()
		log.Info("skip candidate: risk budget exceeded", "new_pct", verdict.NewPercent, "total_pct", verdict.TotalPercent)
		return false
	}
	if verdict.Overflow {
		log.Warn("accepting trade within overflow tolerance", "new_pct", verdict.NewPercent, "total_pct", verdict.TotalPercent)
	}

	var orderID string
	submitted := c.submitsLive(live)
	if submitted {
		metrics.OrdersAttempted.Inc()
		id, err := c.orders.SubmitFractionalBuy(ctx, cand.Symbol, cand.DollarAmount)
		if err != nil || id == "" {
			metrics.OrdersFailed.Inc()
			cand.Reason = ReasonOrderRejected
			cand.OrderStatus = string(broker.OrderRejected)
			log.Warn("buy order submission failed", "error", err)
			return false
		}
		state := c.awaitTerminal(ctx, id)
		cand.OrderID = id
		cand.OrderStatus = string(state)
		if state != broker.OrderFilled {
			metrics.OrdersFailed.Inc()
			cand.Reason = ReasonOrderNotFilled
			log.Warn("buy order not filled", "order_id", id, "status", state)
			return false
		}
		orderID = id
	} else {
		orderID = syntheticOrderID()
		cand.OrderID = orderID
		cand.OrderStatus = string(broker.OrderFilled)
	}

	pos := ledger.NewPosition(ledger.Entry{
		Symbol:     cand.Symbol,
		Quantity:   cand.Shares,
		Price:      cand.SharePrice,
		ATR:        cand.ATR,
		ATRPercent: cand.ATRPercent,
		OrderID:    orderID,
		Time:       c.now(),
		Simulated:  !submitted,
	})
	if err := c.ledger.Open(ctx, pos); err != nil {
		if errors.Is(err, ledger.ErrDuplicatePosition) {
			cand.Reason = ReasonAlreadyHeld
			return false
		}
		// 订单已成交，风险照常计入；账本会在下一轮对账时接管该持仓。
		log.Error("persist position failed after fill", "order_id", orderID, "error", err)
	}
	state := c.risk.Commit(cand.PotentialLoss, portfolio)
	metrics.OrdersPlaced.Inc()
	metrics.RiskPercentUsed.Set(state.PercentUsed)
	cand.TradeMade = true
	cand.Reason = ReasonTradeExecuted
	log.Info("trade executed", "order_id", orderID, "amount", cand.DollarAmount, "shares", cand.Shares, "risk", state.String())
	return true
}

// ExecuteRanked 依次执行排序后的候选。日内风险用尽后停止，单个候选超出剩余额度则跳过。
func (c *Coordinator) ExecuteRanked(ctx context.Context, ranked []signal.TradeCandidate, portfolio float64, live bool) []signal.TradeCandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range ranked {
		cand := &ranked[i]
		if ctx.Err() != nil {
			cand.Reason = ctx.Err().Error()
			continue
		}
		if c.risk.Exhausted() {
			for j := i; j < len(ranked); j++ {
				ranked[j].TradeMade = false
				ranked[j].Reason = ReasonDailyLimitReached
			}
			metrics.OrdersSuppressed.WithLabelValues("daily_limit").Add(float64(len(ranked) - i))
			logger.Warnf("executor: daily loss limit reached, %d candidate(s) not attempted", len(ranked)-i)
			break
		}
		if v := c.risk.Admit(cand.PotentialLoss, portfolio); !v.Allowed {
			cand.Reason = ReasonInsufficientRisk
			metrics.OrdersSuppressed.WithLabelValues("insufficient_allowance").Inc()
			logger.Infof("executor: %s needs %.2f%% risk, only $%.2f allowance left", cand.Symbol, v.NewPercent, c.risk.Remaining(portfolio))
			continue
		}
		c.execute(ctx, cand, portfolio, live)
	}
	return ranked
}

// awaitTerminal 轮询订单状态，直到终态或次数用尽。
func (c *Coordinator) awaitTerminal(ctx context.Context, orderID string) broker.OrderState {
	state := broker.OrderUnknown
	for attempt := 0; attempt < c.cfg.PollAttempts; attempt++ {
		st, err := c.orders.OrderStatus(ctx, orderID)
		if err != nil {
			logger.Warnf("executor: order %s status check failed: %v", orderID, err)
		} else {
			state = st
			if st.Terminal() {
				return st
			}
		}
		if attempt == c.cfg.PollAttempts-1 {
			break
		}
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return state
		}
	}
	return state
}

// Close 以市价卖出全部数量；确认成交后结算为 Closed，否则保持 Closing 等待下一轮重试。
// 上一轮已提交的平仓单会先查询状态，避免重复下单。
func (c *Coordinator) Close(ctx context.Context, pos ledger.Position, live bool) (ledger.Sale, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	log := logger.With("symbol", pos.Symbol, "reason", pos.CloseReason)

	if !live || c.orders == nil {
		sale, err := c.ledger.Finalize(ctx, pos.Symbol, pos.CurrentPrice, syntheticOrderID())
		if err != nil {
			return sale, err
		}
		metrics.ClosesTotal.WithLabelValues(pos.CloseReason, "simulated").Inc()
		log.Info("position closed (simulated)", "exit", sale.ExitPrice, "profit", sale.Profit)
		return sale, nil
	}

	orderID := pos.CloseOrderID
	if orderID != "" {
		st, err := c.orders.OrderStatus(ctx, orderID)
		switch {
		case err == nil && st == broker.OrderFilled:
			return c.finalize(ctx, pos, orderID, log)
		case err == nil && st.Terminal():
			orderID = ""
		default:
			// 未知或仍在挂单，不重复提交。
			if err := c.ledger.MarkCloseFailed(ctx, pos.Symbol, orderID); err != nil {
				log.Error("mark close retry failed", "error", err)
			}
			metrics.ClosesTotal.WithLabelValues(pos.CloseReason, "pending").Inc()
			return ledger.Sale{}, fmt.Errorf("close %s: order %s still %s: %w", pos.Symbol, orderID, st, broker.ErrOrderRejected)
		}
	}

	id, err := c.orders.SubmitMarketSell(ctx, pos.Symbol, pos.Quantity)
	if err != nil || id == "" {
		if markErr := c.ledger.MarkCloseFailed(ctx, pos.Symbol, ""); markErr != nil {
			log.Error("mark close retry failed", "error", markErr)
		}
		metrics.ClosesTotal.WithLabelValues(pos.CloseReason, "failed").Inc()
		if err == nil {
			err = errors.New("empty order id")
		}
		return ledger.Sale{}, fmt.Errorf("close %s: %w: %v", pos.Symbol, broker.ErrOrderRejected, err)
	}
	state := c.awaitTerminal(ctx, id)
	if state != broker.OrderFilled {
		if err := c.ledger.MarkCloseFailed(ctx, pos.Symbol, id); err != nil {
			log.Error("mark close retry failed", "error", err)
		}
		metrics.ClosesTotal.WithLabelValues(pos.CloseReason, "not_filled").Inc()
		return ledger.Sale{}, fmt.Errorf("close %s: order %s %s: %w", pos.Symbol, id, state, broker.ErrOrderRejected)
	}
	return c.finalize(ctx, pos, id, log)
}

func (c *Coordinator) finalize(ctx context.Context, pos ledger.Position, orderID string, log *slog.Logger) (ledger.Sale, error) {
	sale, err := c.ledger.Finalize(ctx, pos.Symbol, pos.CurrentPrice, orderID)
	if err != nil {
		return sale, err
	}
	metrics.ClosesTotal.WithLabelValues(pos.CloseReason, "filled").Inc()
	log.Info("position closed", "order_id", orderID, "exit", sale.ExitPrice, "profit", sale.Profit)
	return sale, nil
}
