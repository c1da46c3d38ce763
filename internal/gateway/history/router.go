// Package history 按标的类型把日线请求路由到股票或加密货币数据源。
package history

import (
	"context"
	"fmt"
	"strings"

	"riskbot/internal/market"
)

// DefaultCryptoQuotes 是识别加密货币交易对的计价币后缀。
var DefaultCryptoQuotes = []string{"USDT", "USDC", "BUSD", "FDUSD"}

// Router 实现 market.HistoryProvider。
type Router struct {
	stocks market.HistoryProvider
	crypto market.HistoryProvider
	quotes []string
}

func NewRouter(stocks, crypto market.HistoryProvider, quotes []string) *Router {
	if len(quotes) == 0 {
		quotes = DefaultCryptoQuotes
	}
	norm := make([]string, 0, len(quotes))
	for _, q := range quotes {
		if q = strings.ToUpper(strings.TrimSpace(q)); q != "" {
			norm = append(norm, q)
		}
	}
	return &Router{stocks: stocks, crypto: crypto, quotes: norm}
}

// IsCrypto 判断 BTCUSDT、ETH/USDT、sol-usdc 之类的写法。
func (r *Router) IsCrypto(symbol string) bool {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.ContainsAny(s, "/") {
		return true
	}
	s = strings.ReplaceAll(s, "-", "")
	for _, q := range r.quotes {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return true
		}
	}
	return false
}

func (r *Router) FetchDailyBars(ctx context.Context, symbol string, lookback int) (market.Bars, error) {
	target := r.stocks
	kind := "stock"
	if r.IsCrypto(symbol) {
		target = r.crypto
		kind = "crypto"
	}
	if target == nil {
		return nil, fmt.Errorf("no %s history source for %s: %w", kind, symbol, market.ErrDataUnavailable)
	}
	return target.FetchDailyBars(ctx, symbol, lookback)
}
