// Package risk 维护单次运行内的风险预算累计值。
//
// State 每轮从账本的持仓重建，随后每成交一笔就累加一次；它是派生值，不是事实来源。
// 所有读写经过 Accountant 的互斥锁，保证风险累计是严格有序的。
package risk

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// State 是当前已占用的风险（美元与占组合百分比）。
type State struct {
	DollarUsed  float64 `json:"dollar_used"`
	PercentUsed float64 `json:"percent_used"`
}

func (s State) String() string {
	return fmt.Sprintf("risk=%.2f%% ($%.2f)", s.PercentUsed, s.DollarUsed)
}

// OverflowPolicy 允许在总预算之上有限度地超出：
// 总和不超过 MaxDailyLoss% + TolerancePP，且该笔自身风险不低于 MinTradePct。
type OverflowPolicy struct {
	Enabled     bool    `json:"enabled"`
	TolerancePP float64 `json:"tolerance_pp"`
	MinTradePct float64 `json:"min_trade_pct"`
}

// DefaultOverflowPolicy 对应 +0.5pp / 单笔 ≥1.25%。
func DefaultOverflowPolicy() OverflowPolicy {
	return OverflowPolicy{Enabled: true, TolerancePP: 0.5, MinTradePct: 1.25}
}

// Limits 描述风险上限，比例均以小数表示（0.06 = 6%）。
type Limits struct {
	MaxDailyLoss float64        `json:"max_daily_loss"`
	RiskPerTrade float64        `json:"risk_per_trade"`
	Overflow     OverflowPolicy `json:"overflow"`
}

// MaxPercent 返回预算上限的百分数形式。
func (l Limits) MaxPercent() float64 {
	return toFloat(l.maxPercent())
}

func (l Limits) maxPercent() decimal.Decimal {
	return decimal.NewFromFloat(l.MaxDailyLoss).Mul(hundred)
}

// Ceiling 返回允许达到的最高百分比（含溢出容忍）。
func (l Limits) Ceiling() float64 {
	if l.Overflow.Enabled {
		return toFloat(l.maxPercent().Add(decimal.NewFromFloat(l.Overflow.TolerancePP)))
	}
	return l.MaxPercent()
}

// Verdict 是一次预算检查的结果。
type Verdict struct {
	Allowed      bool    `json:"allowed"`
	Overflow     bool    `json:"overflow"`
	NewPercent   float64 `json:"new_percent"`
	TotalPercent float64 `json:"total_percent"`
	Reason       string  `json:"reason,omitempty"`
}

// Accountant 是风险状态的唯一写入方。
type Accountant struct {
	mu     sync.Mutex
	limits Limits
	state  State
}

func NewAccountant(limits Limits) *Accountant {
	return &Accountant{limits: limits}
}

func (a *Accountant) Limits() Limits {
	return a.limits
}

// Reset 用持仓重算的结果覆盖当前状态（每轮开始时调用）。
func (a *Accountant) Reset(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Accountant) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Exhausted 表示已用风险达到日内上限，后续候选全部停止。
func (a *Accountant) Exhausted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return decimal.NewFromFloat(a.state.PercentUsed).GreaterThanOrEqual(a.limits.maxPercent())
}

// Remaining 返回距离日内上限还剩多少美元风险额度（不含溢出容忍）。
func (a *Accountant) Remaining(portfolio float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	budget := decimal.NewFromFloat(a.limits.MaxDailyLoss).Mul(decimal.NewFromFloat(portfolio))
	rest, _ := budget.Sub(decimal.NewFromFloat(a.state.DollarUsed)).Float64()
	return rest
}

// Admit 判断新增 lossDollar 风险是否还在预算内，不修改状态。
func (a *Accountant) Admit(lossDollar, portfolio float64) Verdict {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.admit(lossDollar, portfolio)
}

func (a *Accountant) admit(lossDollar, portfolio float64) Verdict {
	if portfolio <= 0 {
		return Verdict{Reason: "portfolio size unavailable"}
	}
	newPct := PercentOf(lossDollar, portfolio)
	used := decimal.NewFromFloat(a.state.PercentUsed)
	total := used.Add(newPct)
	v := Verdict{NewPercent: toFloat(newPct), TotalPercent: toFloat(total)}
	max := a.limits.maxPercent()
	if total.LessThanOrEqual(max) {
		v.Allowed = true
		return v
	}
	ov := a.limits.Overflow
	if ov.Enabled &&
		total.LessThanOrEqual(max.Add(decimal.NewFromFloat(ov.TolerancePP))) &&
		newPct.GreaterThanOrEqual(decimal.NewFromFloat(ov.MinTradePct)) {
		v.Allowed = true
		v.Overflow = true
		return v
	}
	v.Reason = "risk budget exceeded"
	return v
}

// Commit 记入一笔已成交交易的风险，返回更新后的状态。
func (a *Accountant) Commit(lossDollar, portfolio float64) State {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.DollarUsed = toFloat(decimal.NewFromFloat(a.state.DollarUsed).Add(decimal.NewFromFloat(lossDollar)))
	if portfolio > 0 {
		a.state.PercentUsed = toFloat(decimal.NewFromFloat(a.state.PercentUsed).Add(PercentOf(lossDollar, portfolio)))
	}
	return a.state
}

// PercentOf 计算 dollar 占 portfolio 的百分比。
func PercentOf(dollar, portfolio float64) decimal.Decimal {
	if portfolio == 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(dollar).Div(decimal.NewFromFloat(portfolio)).Mul(hundred)
}

// Sum 把若干持仓风险（美元）汇总为 State。
func Sum(portfolio float64, dollars ...float64) State {
	total := decimal.Zero
	for _, d := range dollars {
		total = total.Add(decimal.NewFromFloat(d))
	}
	s := State{DollarUsed: toFloat(total)}
	if portfolio > 0 {
		s.PercentUsed = toFloat(total.Div(decimal.NewFromFloat(portfolio)).Mul(hundred))
	}
	return s
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
