// Package signal 把单个标的的指标结果转换为入场判定和仓位建议。
package signal

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"riskbot/internal/analysis/indicator"
	"riskbot/internal/market"
	"riskbot/internal/risk"
)

// 拒绝原因，同时写入运行日志与运行报告。
const (
	ReasonEligible           = "Bullish Crossover"
	ReasonInsufficient       = "insufficient history"
	ReasonATRFloor           = "ATR below floor"
	ReasonNoCrossover        = "no bullish crossover"
	ReasonBearishConflict    = "recent bearish crossover"
	ReasonBucketNotAllowed   = "ATR bucket not allowed"
	ReasonRiskBudgetExceeded = "risk budget exceeded"
	ReasonInvalidPrice       = "invalid price"
)

// ErrRiskBudgetExceeded 是 ReasonRiskBudgetExceeded 的错误形式。
var ErrRiskBudgetExceeded = errors.New(ReasonRiskBudgetExceeded)

// DefaultBuckets 是允许入场的 ATR 档位（百分比）。
var DefaultBuckets = []float64{3.0, 4.0, 5.0}

// TradeCandidate 是本轮对一个标的的完整判定，执行结果由 executor 回填。
type TradeCandidate struct {
	Symbol        string              `json:"symbol"`
	ATR           float64             `json:"atr"`
	ATRPercent    float64             `json:"atr_percent"`
	Bucket        float64             `json:"bucket"`
	SharePrice    float64             `json:"share_price"`
	Eligible      bool                `json:"eligible"`
	DollarAmount  float64             `json:"dollar_amount"`
	Shares        float64             `json:"shares"`
	PotentialLoss float64             `json:"potential_loss"`
	PotentialGain float64             `json:"potential_gain"`
	RiskPercent   float64             `json:"risk_percent"`
	Reason        string              `json:"reason"`
	Crossover     indicator.Crossover `json:"crossover"`

	TradeMade   bool   `json:"trade_made"`
	OrderID     string `json:"order_id,omitempty"`
	OrderStatus string `json:"order_status,omitempty"`
}

// TwoATRPercent 返回按档位计算的 2×ATR 百分比（用于报告）。
func (c TradeCandidate) TwoATRPercent() float64 {
	return 2 * c.Bucket
}

func (c TradeCandidate) String() string {
	return fmt.Sprintf("%s eligible=%v bucket=%.1f amount=$%.2f shares=%.4f risk=%.2f%% ($%.2f) atr=%.2f (%.2f%%) reason=%s",
		c.Symbol, c.Eligible, c.Bucket, c.DollarAmount, c.Shares, c.RiskPercent, c.PotentialLoss, c.ATR, c.ATRPercent, c.Reason)
}

// Classifier 持有分类所需的全部阈值。
type Classifier struct {
	Params              indicator.Params
	MinBars             int
	ATRFloor            float64
	RiskPerTrade        float64
	MaxDailyLoss        float64
	RewardMultiple      float64
	RejectRecentBearish bool
}

// NewClassifier 使用默认阈值（ATR 下限 3%，单笔 2%，盈亏比 1:1）。
func NewClassifier(maxDailyLoss float64) *Classifier {
	return &Classifier{
		Params:         indicator.DefaultParams(),
		MinBars:        market.MinBars,
		ATRFloor:       3.0,
		RiskPerTrade:   0.02,
		MaxDailyLoss:   maxDailyLoss,
		RewardMultiple: 1,
	}
}

// Bucket 把 ATR 百分比归入 3/4/5 三档。
func Bucket(atrPercent float64) float64 {
	switch {
	case atrPercent < 3.5:
		return 3.0
	case atrPercent < 4.5:
		return 4.0
	default:
		return 5.0
	}
}

// Classify 对单个标的给出入场判定；state 是分类时的风险快照，执行前会再次校验。
func (c *Classifier) Classify(symbol string, bars market.Bars, portfolio float64, state risk.State, buckets []float64) TradeCandidate {
	cand := TradeCandidate{Symbol: symbol}
	minBars := c.MinBars
	if minBars <= 0 {
		minBars = market.MinBars
	}
	if len(bars) < minBars {
		cand.Reason = ReasonInsufficient
		return cand
	}
	snap, err := indicator.Compute(bars, c.Params)
	if err != nil {
		cand.Reason = ReasonInsufficient
		return cand
	}
	cand.ATR = snap.ATR
	cand.ATRPercent = snap.ATRPercent
	cand.SharePrice = snap.LastClose
	cand.Crossover = snap.Crossover
	if snap.LastClose <= 0 {
		cand.Reason = ReasonInvalidPrice
		return cand
	}
	if snap.ATRPercent < c.ATRFloor {
		cand.Reason = ReasonATRFloor
		return cand
	}
	cand.Bucket = Bucket(snap.ATRPercent)
	if snap.Crossover != indicator.CrossoverBullish {
		cand.Reason = ReasonNoCrossover
		return cand
	}
	if c.RejectRecentBearish {
		lookback := c.Params.Lookback
		if lookback <= 0 {
			lookback = indicator.DefaultParams().Lookback
		}
		if indicator.DetectRecentBearish(snap.ShortMA, snap.LongMA, lookback) == indicator.CrossoverBearish {
			cand.Reason = ReasonBearishConflict
			return cand
		}
	}
	if !allowed(cand.Bucket, buckets) {
		cand.Reason = ReasonBucketNotAllowed
		return cand
	}

	twoATR := 2 * cand.Bucket / 100
	perTrade := c.RiskPerTrade * portfolio
	cand.DollarAmount = perTrade / twoATR
	cand.Shares = cand.DollarAmount / snap.LastClose
	cand.PotentialLoss = cand.DollarAmount * twoATR
	reward := c.RewardMultiple
	if reward <= 0 {
		reward = 1
	}
	cand.PotentialGain = cand.PotentialLoss * reward
	if portfolio > 0 {
		cand.RiskPercent = cand.PotentialLoss / portfolio * 100
	}

	loss := decimal.NewFromFloat(cand.PotentialLoss)
	// 容忍浮点误差：loss 由 perTrade 反算得到，只比较到分。
	if loss.Round(2).GreaterThan(decimal.NewFromFloat(perTrade).Round(2)) {
		cand.Reason = ReasonRiskBudgetExceeded
		return cand
	}
	budget := decimal.NewFromFloat(c.MaxDailyLoss).Mul(decimal.NewFromFloat(portfolio))
	if decimal.NewFromFloat(state.DollarUsed).Add(loss).Round(2).GreaterThan(budget.Round(2)) {
		cand.Reason = ReasonRiskBudgetExceeded
		return cand
	}
	cand.Eligible = true
	cand.Reason = ReasonEligible
	return cand
}

func allowed(bucket float64, buckets []float64) bool {
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}
	for _, b := range buckets {
		if b == bucket {
			return true
		}
	}
	return false
}

// Rank 只保留可交易候选，按 ATR 百分比降序稳定排序后取前 k 个。
func Rank(cands []TradeCandidate, k int) []TradeCandidate {
	out := make([]TradeCandidate, 0, len(cands))
	for _, c := range cands {
		if c.Eligible {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ATRPercent > out[j].ATRPercent
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
