package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"riskbot/internal/market"
)

// ErrInsufficientData 表示样本数量不足以计算指标，调用方不得使用部分结果。
var ErrInsufficientData = errors.New("insufficient data")

// Crossover 表示均线交叉信号。
type Crossover int

const (
	CrossoverNone Crossover = iota
	CrossoverBullish
	CrossoverBearish
)

func (c Crossover) String() string {
	switch c {
	case CrossoverBullish:
		return "Bullish Crossover"
	case CrossoverBearish:
		return "Bearish Crossover"
	default:
		return "None"
	}
}

// Params 描述一次指标计算所需的周期配置。
type Params struct {
	ShortPeriod int `json:"short_period"`
	LongPeriod  int `json:"long_period"`
	ATRPeriod   int `json:"atr_period"`
	Lookback    int `json:"lookback"`
}

// DefaultParams 对应 20/50 均线、14 日 ATR、最近 5 日交叉。
func DefaultParams() Params {
	return Params{ShortPeriod: 20, LongPeriod: 50, ATRPeriod: 14, Lookback: 5}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.ShortPeriod <= 0 {
		p.ShortPeriod = def.ShortPeriod
	}
	if p.LongPeriod <= 0 {
		p.LongPeriod = def.LongPeriod
	}
	if p.ATRPeriod <= 0 {
		p.ATRPeriod = def.ATRPeriod
	}
	if p.Lookback <= 0 {
		p.Lookback = def.Lookback
	}
	return p
}

// Snapshot 是单个标的本轮的指标结果，不落库。
type Snapshot struct {
	ShortMA    []float64 `json:"short_ma"`
	LongMA     []float64 `json:"long_ma"`
	ATR        float64   `json:"atr"`
	ATRPercent float64   `json:"atr_percent"`
	LastClose  float64   `json:"last_close"`
	Crossover  Crossover `json:"crossover"`
}

// MovingAverage 返回长度为 len(values)-period+1 的简单移动平均序列。
func MovingAverage(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("moving average period %d: %w", period, ErrInsufficientData)
	}
	if len(values) < period {
		return nil, fmt.Errorf("moving average needs %d values, got %d: %w", period, len(values), ErrInsufficientData)
	}
	series := talib.Sma(values, period)
	out := make([]float64, 0, len(values)-period+1)
	for _, v := range series[period-1:] {
		out = append(out, sanitize(v))
	}
	return out, nil
}

// AverageTrueRange 以 Wilder 平滑计算 ATR，返回最后一个值。
// 首个 ATR 为前 period 个真实波幅的均值，需要至少 period+1 根 K 线。
func AverageTrueRange(bars market.Bars, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("atr period %d: %w", period, ErrInsufficientData)
	}
	if len(bars) < period+1 {
		return 0, fmt.Errorf("atr needs %d bars, got %d: %w", period+1, len(bars), ErrInsufficientData)
	}
	highs, lows, closes := bars.Highs(), bars.Lows(), bars.Closes()
	var series []float64
	if period == 1 {
		series = talib.TRange(highs, lows, closes)
	} else {
		series = talib.Atr(highs, lows, closes, period)
	}
	atr := lastValid(series)
	if atr < 0 {
		return 0, fmt.Errorf("atr negative (%f)", atr)
	}
	return atr, nil
}

// TrueRanges 返回从第二根 K 线开始的真实波幅序列。
func TrueRanges(bars market.Bars) []float64 {
	if len(bars) < 2 {
		return nil
	}
	tr := talib.TRange(bars.Highs(), bars.Lows(), bars.Closes())
	return tr[1:]
}

// DetectRecentCrossover 从最近一天往前检查 lookback 个对齐点，
// 找到第一个短均线由下向上穿越长均线的位置即返回 CrossoverBullish。
// 两条序列需右对齐，且各自至少有 lookback+1 个点。
func DetectRecentCrossover(short, long []float64, lookback int) Crossover {
	if crossed(short, long, lookback, func(ps, pl, s, l float64) bool {
		return ps <= pl && s > l
	}) {
		return CrossoverBullish
	}
	return CrossoverNone
}

// DetectRecentBearish 是 DetectRecentCrossover 的镜像，只作为可选的确认过滤。
func DetectRecentBearish(short, long []float64, lookback int) Crossover {
	if crossed(short, long, lookback, func(ps, pl, s, l float64) bool {
		return ps >= pl && s < l
	}) {
		return CrossoverBearish
	}
	return CrossoverNone
}

func crossed(short, long []float64, lookback int, hit func(prevShort, prevLong, curShort, curLong float64) bool) bool {
	if lookback <= 0 || len(short) < lookback+1 || len(long) < lookback+1 {
		return false
	}
	ns, nl := len(short), len(long)
	for i := 1; i <= lookback; i++ {
		s, l := short[ns-i], long[nl-i]
		ps, pl := short[ns-i-1], long[nl-i-1]
		if hit(ps, pl, s, l) {
			return true
		}
	}
	return false
}

// Compute 计算分类器所需的全部指标。
func Compute(bars market.Bars, p Params) (Snapshot, error) {
	p = p.withDefaults()
	var snap Snapshot
	if len(bars) < p.LongPeriod {
		return snap, fmt.Errorf("need %d bars, got %d: %w", p.LongPeriod, len(bars), ErrInsufficientData)
	}
	closes := bars.Closes()
	shortMA, err := MovingAverage(closes, p.ShortPeriod)
	if err != nil {
		return snap, err
	}
	longMA, err := MovingAverage(closes, p.LongPeriod)
	if err != nil {
		return snap, err
	}
	atr, err := AverageTrueRange(bars, p.ATRPeriod)
	if err != nil {
		return snap, err
	}
	aligned := alignRight(shortMA, len(longMA))
	snap = Snapshot{
		ShortMA:   aligned,
		LongMA:    longMA,
		ATR:       atr,
		LastClose: bars.LastClose(),
		Crossover: DetectRecentCrossover(aligned, longMA, p.Lookback),
	}
	if snap.LastClose != 0 {
		snap.ATRPercent = atr / snap.LastClose * 100
	}
	return snap, nil
}

func alignRight(series []float64, n int) []float64 {
	if n >= len(series) {
		return series
	}
	return series[len(series)-n:]
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}
