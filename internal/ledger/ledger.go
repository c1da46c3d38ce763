// Package ledger 维护持仓账本与 Open → Closing → Closed 状态机。
//
// 账本每轮都会与账户侧持仓对账：账户里有、账本里没有的持仓会被接管；
// 账本里有、账户里已消失的持仓才会被移除。所有写操作经同一把锁串行化。
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"riskbot/internal/analysis/indicator"
	"riskbot/internal/broker"
	"riskbot/internal/logger"
	"riskbot/internal/market"
	"riskbot/internal/risk"
)

// Repository 持久化未平仓记录与成交后的卖出记录。
type Repository interface {
	LoadPositions(ctx context.Context) ([]Position, error)
	SavePosition(ctx context.Context, p Position) error
	DeletePosition(ctx context.Context, symbol string) error
	RecordSale(ctx context.Context, s Sale) error
	ListSales(ctx context.Context, limit int) ([]Sale, error)
}

type Config struct {
	MaxHoldDays     int
	ATRPeriod       int
	HistoryLookback int
	// ATRFloorPercent 是无任何 ATR 可用时估算风险所用的保守 ATR（占价格百分比）。
	ATRFloorPercent float64
}

func (c Config) withDefaults() Config {
	if c.MaxHoldDays <= 0 {
		c.MaxHoldDays = 10
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
	if c.HistoryLookback <= 0 {
		c.HistoryLookback = 100
	}
	if c.ATRFloorPercent <= 0 {
		c.ATRFloorPercent = 3.0
	}
	return c
}

type Ledger struct {
	mu        sync.Mutex
	repo      Repository
	history   market.HistoryProvider
	cfg       Config
	positions map[string]*Position
	now       func() time.Time
}

func New(repo Repository, history market.HistoryProvider, cfg Config) *Ledger {
	return &Ledger{
		repo:      repo,
		history:   history,
		cfg:       cfg.withDefaults(),
		positions: make(map[string]*Position),
		now:       time.Now,
	}
}

// SetClock 替换时间源（测试用）。
func (l *Ledger) SetClock(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// ReconcileReport 汇总一次对账的变化。
type ReconcileReport struct {
	Adopted   []string `json:"adopted"`
	Removed   []string `json:"removed"`
	Finalized []Sale   `json:"finalized"`
	Kept      int      `json:"kept"`
}

// Reconcile 用账户实时持仓重建账本。账户不可达时返回 ErrCollaboratorUnavailable 且不修改账本。
func (l *Ledger) Reconcile(ctx context.Context, account broker.AccountQuery) (ReconcileReport, error) {
	var report ReconcileReport
	holdings, err := account.OpenPositions(ctx)
	if err != nil {
		return report, fmt.Errorf("load account positions: %w: %v", broker.ErrCollaboratorUnavailable, err)
	}
	stored, err := l.repo.LoadPositions(ctx)
	if err != nil {
		return report, fmt.Errorf("load ledger positions: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	next := make(map[string]*Position, len(holdings))
	for i := range stored {
		p := stored[i]
		if !p.Held() {
			continue
		}
		h, ok := holdings[p.Symbol]
		if !ok {
			sale, err := l.finalizeLocked(ctx, &p, p.CurrentPrice, now, vanishedReason(p))
			if err != nil {
				return report, err
			}
			report.Removed = append(report.Removed, p.Symbol)
			report.Finalized = append(report.Finalized, sale)
			continue
		}
		if h.Quantity > 0 {
			p.Quantity = h.Quantity
		}
		if h.CurrentPrice > 0 {
			p.CurrentPrice = h.CurrentPrice
		}
		p.DaysHeld = HeldDays(p.EntryTime, now)
		p.UpdatedAt = now
		if !p.HasStops() {
			l.backfillStops(ctx, &p)
		}
		if err := l.repo.SavePosition(ctx, p); err != nil {
			return report, fmt.Errorf("save position %s: %w", p.Symbol, err)
		}
		next[p.Symbol] = &p
		report.Kept++
	}

	symbols := make([]string, 0, len(holdings))
	for sym := range holdings {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		if _, ok := next[sym]; ok {
			continue
		}
		p := l.adopt(ctx, holdings[sym], now)
		if err := l.repo.SavePosition(ctx, p); err != nil {
			return report, fmt.Errorf("save adopted position %s: %w", sym, err)
		}
		next[sym] = &p
		report.Adopted = append(report.Adopted, sym)
	}
	l.positions = next
	return report, nil
}

func vanishedReason(p Position) string {
	if p.Status == StatusClosing && p.CloseReason != "" {
		return p.CloseReason
	}
	return ReasonExternal
}

// adopt 接管账户中未登记的持仓，止损位按平均买入价与最新 ATR 计算。
func (l *Ledger) adopt(ctx context.Context, h broker.Holding, now time.Time) Position {
	entryTime := h.EntryTime
	if entryTime.IsZero() {
		entryTime = now
	}
	atr, err := l.freshATR(ctx, h.Symbol)
	if err != nil {
		logger.Warnf("ledger: adopt %s without stops: %v", h.Symbol, err)
		atr = 0
	}
	p := NewPosition(Entry{
		Symbol:   h.Symbol,
		Quantity: h.Quantity,
		Price:    h.EntryPrice,
		ATR:      atr,
		Time:     entryTime,
	})
	if h.CurrentPrice > 0 {
		p.CurrentPrice = h.CurrentPrice
	}
	p.Adopted = true
	p.DaysHeld = HeldDays(entryTime, now)
	p.UpdatedAt = now
	return p
}

// backfillStops 为接管时缺少 ATR 的持仓补设止损，历史仍不可用则保持无止损。
func (l *Ledger) backfillStops(ctx context.Context, p *Position) {
	atr, err := l.freshATR(ctx, p.Symbol)
	if err != nil || atr <= 0 {
		logger.Debugf("ledger: %s still without stops: %v", p.Symbol, err)
		return
	}
	p.setStops(atr, 0)
	logger.Infof("ledger: %s stops set to %.4f / %.4f (atr %.4f)", p.Symbol, p.StopLoss, p.StopLimit, atr)
}

func (l *Ledger) freshATR(ctx context.Context, symbol string) (float64, error) {
	if l.history == nil {
		return 0, market.ErrDataUnavailable
	}
	bars, err := l.history.FetchDailyBars(ctx, symbol, l.cfg.HistoryLookback)
	if err != nil {
		return 0, err
	}
	return indicator.AverageTrueRange(bars, l.cfg.ATRPeriod)
}

// Load 从仓储恢复持仓到内存，不与券商对账（启动与状态查询用）。
func (l *Ledger) Load(ctx context.Context) error {
	stored, err := l.repo.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("load ledger positions: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	next := make(map[string]*Position, len(stored))
	for i := range stored {
		p := stored[i]
		if p.Held() {
			next[p.Symbol] = &p
		}
	}
	l.positions = next
	return nil
}

// Held 报告该标的是否已有 Open 或 Closing 记录。
func (l *Ledger) Held(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	return ok && p.Held()
}

func (l *Ledger) Get(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions 返回按标的排序的持仓副本。
func (l *Ledger) Positions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Open 记录一笔确认成交的新持仓；同一标的只允许一条未平仓记录。
func (l *Ledger) Open(ctx context.Context, p Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.positions[p.Symbol]; ok && existing.Held() {
		return fmt.Errorf("%s: %w", p.Symbol, ErrDuplicatePosition)
	}
	p.Status = StatusOpen
	if err := l.repo.SavePosition(ctx, p); err != nil {
		return fmt.Errorf("save position %s: %w", p.Symbol, err)
	}
	l.positions[p.Symbol] = &p
	return nil
}

// ExitDecision 描述一条需要平仓的持仓。
type ExitDecision struct {
	Position Position
	Reason   string
}

// exitReason 按 止损 > 止盈 > 超时 的优先级判定。
func (l *Ledger) exitReason(p Position) string {
	price := decimal.NewFromFloat(p.CurrentPrice)
	if p.CurrentPrice > 0 && p.StopLoss > 0 && price.LessThanOrEqual(decimal.NewFromFloat(p.StopLoss)) {
		return ReasonStopLoss
	}
	if p.CurrentPrice > 0 && p.StopLimit > 0 && price.GreaterThanOrEqual(decimal.NewFromFloat(p.StopLimit)) {
		return ReasonStopLimit
	}
	if p.DaysHeld >= l.cfg.MaxHoldDays {
		return ReasonTimeExit
	}
	return ""
}

// EvaluateExits 把满足条件的 Open 持仓转为 Closing，并返回所有待平仓（含上轮重试）的持仓。
func (l *Ledger) EvaluateExits(ctx context.Context) ([]ExitDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	var out []ExitDecision
	symbols := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		p := l.positions[sym]
		switch p.Status {
		case StatusClosing:
			out = append(out, ExitDecision{Position: *p, Reason: p.CloseReason})
		case StatusOpen:
			p.DaysHeld = HeldDays(p.EntryTime, now)
			reason := l.exitReason(*p)
			if reason == "" {
				continue
			}
			p.Status = StatusClosing
			p.CloseReason = reason
			p.UpdatedAt = now
			if err := l.repo.SavePosition(ctx, *p); err != nil {
				return out, fmt.Errorf("save closing %s: %w", sym, err)
			}
			out = append(out, ExitDecision{Position: *p, Reason: reason})
		}
	}
	return out, nil
}

// BeginClose 手动把持仓置为 Closing（close-all 使用）。
func (l *Ledger) BeginClose(ctx context.Context, symbol, reason string) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok || !p.Held() {
		return Position{}, fmt.Errorf("%s: %w", symbol, ErrPositionNotFound)
	}
	if p.Status == StatusOpen {
		p.Status = StatusClosing
		p.CloseReason = reason
		p.UpdatedAt = l.now()
		if err := l.repo.SavePosition(ctx, *p); err != nil {
			return *p, err
		}
	}
	return *p, nil
}

// MarkCloseFailed 保持 Closing 并标记下一轮重试。
func (l *Ledger) MarkCloseFailed(ctx context.Context, symbol, orderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return fmt.Errorf("%s: %w", symbol, ErrPositionNotFound)
	}
	p.Status = StatusClosing
	p.RetryClose = true
	if orderID != "" {
		p.CloseOrderID = orderID
	}
	p.UpdatedAt = l.now()
	return l.repo.SavePosition(ctx, *p)
}

// Finalize 在平仓成交后把持仓置为 Closed，记录 Sale 并从账本移除。
func (l *Ledger) Finalize(ctx context.Context, symbol string, exitPrice float64, closeOrderID string) (Sale, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return Sale{}, fmt.Errorf("%s: %w", symbol, ErrPositionNotFound)
	}
	if closeOrderID != "" {
		p.CloseOrderID = closeOrderID
	}
	reason := p.CloseReason
	if reason == "" {
		reason = ReasonManual
	}
	sale, err := l.finalizeLocked(ctx, p, exitPrice, l.now(), reason)
	if err != nil {
		return sale, err
	}
	delete(l.positions, symbol)
	return sale, nil
}

func (l *Ledger) finalizeLocked(ctx context.Context, p *Position, exitPrice float64, at time.Time, reason string) (Sale, error) {
	if exitPrice <= 0 {
		exitPrice = p.CurrentPrice
	}
	sale := Sale{
		Symbol:     p.Symbol,
		Profit:     decimal.NewFromFloat(exitPrice).GreaterThan(decimal.NewFromFloat(p.EntryPrice)),
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   p.Quantity,
		Time:       at,
		Reason:     reason,
		OrderID:    p.CloseOrderID,
	}
	if err := l.repo.RecordSale(ctx, sale); err != nil {
		return sale, fmt.Errorf("record sale %s: %w", p.Symbol, err)
	}
	if err := l.repo.DeletePosition(ctx, p.Symbol); err != nil {
		return sale, fmt.Errorf("delete position %s: %w", p.Symbol, err)
	}
	p.Status = StatusClosed
	return sale, nil
}

// PositionRisk 是单个持仓的当前风险。
type PositionRisk struct {
	Symbol string  `json:"symbol"`
	ATR    float64 `json:"atr"`
	Dollar float64 `json:"dollar"`
	Stale  bool    `json:"stale"`
}

// CalculateCurrentRisk 用最新 ATR 重算每个仍持有的仓位风险（数量 × 2 × ATR）。
// 拉取历史失败时回退到入场 ATR；入场 ATR 也没有时按 ATR 下限估算，宁可高估也不漏报。
func (l *Ledger) CalculateCurrentRisk(ctx context.Context, positions []Position, portfolio float64) (risk.State, []PositionRisk, error) {
	details := make([]PositionRisk, 0, len(positions))
	dollars := make([]float64, 0, len(positions))
	for _, p := range positions {
		if !p.Held() {
			continue
		}
		pr := PositionRisk{Symbol: p.Symbol}
		atr, err := l.freshATR(ctx, p.Symbol)
		if err != nil || atr <= 0 {
			if ctx.Err() != nil {
				return risk.State{}, details, ctx.Err()
			}
			atr = p.ATR
			pr.Stale = true
			if atr <= 0 {
				atr = l.floorATR(p)
				logger.Warnf("ledger: no ATR for %s, estimating %.4f from %.1f%% floor: %v", p.Symbol, atr, l.cfg.ATRFloorPercent, err)
			} else {
				logger.Warnf("ledger: fresh ATR for %s unavailable, using entry ATR %.4f: %v", p.Symbol, atr, err)
			}
		}
		pr.ATR = atr
		d, _ := decimal.NewFromFloat(p.Quantity).Mul(decimal.NewFromFloat(2 * atr)).Float64()
		pr.Dollar = d
		details = append(details, pr)
		dollars = append(dollars, d)
	}
	return risk.Sum(portfolio, dollars...), details, nil
}

// floorATR 取入场价与现价中较高者乘以 ATR 下限。
func (l *Ledger) floorATR(p Position) float64 {
	price := p.EntryPrice
	if p.CurrentPrice > price {
		price = p.CurrentPrice
	}
	v, _ := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(l.cfg.ATRFloorPercent)).Div(decimal.NewFromInt(100)).Float64()
	return v
}

// Sales 返回最近的卖出记录。
func (l *Ledger) Sales(ctx context.Context, limit int) ([]Sale, error) {
	return l.repo.ListSales(ctx, limit)
}
