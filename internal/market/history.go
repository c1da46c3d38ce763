package market

import (
	"context"
	"errors"
)

// MinBars 是分类器需要的最少日线数量（长均线周期）。
const MinBars = 50

// ErrDataUnavailable 表示行情拉取失败或日线数量不足，调用方跳过该标的。
var ErrDataUnavailable = errors.New("market data unavailable")

// HistoryProvider 提供日线历史。实现方需要自行设置超时。
type HistoryProvider interface {
	FetchDailyBars(ctx context.Context, symbol string, lookback int) (Bars, error)
}

// HistoryFunc 让普通函数满足 HistoryProvider。
type HistoryFunc func(ctx context.Context, symbol string, lookback int) (Bars, error)

func (f HistoryFunc) FetchDailyBars(ctx context.Context, symbol string, lookback int) (Bars, error) {
	return f(ctx, symbol, lookback)
}
