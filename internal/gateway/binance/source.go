package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"riskbot/internal/config"
	"riskbot/internal/market"

	gobinance "github.com/adshao/go-binance/v2"
)

const maxHistoryLimit = 1000

// Source 基于 go-binance 现货接口提供加密货币日线。
type Source struct {
	client *gobinance.Client
	now    func() time.Time
}

// New 按 history.binance 配置创建日线源，rest_base_url 为空时沿用 go-binance 默认地址。
func New(cfg config.BinanceConfig) (*Source, error) {
	client := gobinance.NewClient("", "")
	if base := strings.TrimSpace(cfg.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	httpClient := &http.Client{Timeout: cfg.Timeout()}
	if proxy := strings.TrimSpace(cfg.RESTProxyURL); cfg.ProxyEnabled && proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Source{client: client, now: time.Now}, nil
}

// ExchangeSymbol 把 BTC/USDT、btc-usdt 等写法转换为 BTCUSDT。
func ExchangeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

// FetchDailyBars 拉取最近 lookback 根已收盘的 1d K 线。
func (s *Source) FetchDailyBars(ctx context.Context, symbol string, lookback int) (market.Bars, error) {
	if lookback <= 0 {
		lookback = 100
	}
	// 多取一根，丢弃未收盘的当日 K 线后仍能满足数量。
	limit := lookback + 1
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	clean := ExchangeSymbol(symbol)
	if clean == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(clean).Interval("1d").Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s: %w: %v", clean, market.ErrDataUnavailable, err)
	}
	nowMs := s.now().UnixMilli()
	out := make(market.Bars, 0, len(kls))
	for _, kl := range kls {
		if kl == nil || kl.CloseTime > nowMs {
			continue
		}
		out = append(out, market.Bar{
			Time:   time.UnixMilli(kl.OpenTime).UTC(),
			Open:   parseFloat(kl.Open),
			High:   parseFloat(kl.High),
			Low:    parseFloat(kl.Low),
			Close:  parseFloat(kl.Close),
			Volume: parseFloat(kl.Volume),
		})
	}
	if len(out) > lookback {
		out = out[len(out)-lookback:]
	}
	return out, nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}
