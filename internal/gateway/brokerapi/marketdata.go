package brokerapi

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"riskbot/internal/market"

	"github.com/tidwall/gjson"
)

// FetchDailyBars 拉取股票日线（最近一年），只保留最后 lookback 根。
func (c *Client) FetchDailyBars(ctx context.Context, symbol string, lookback int) (market.Bars, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	res, err := c.get(ctx, "/v1/marketdata/"+url.PathEscape(sym)+"/historicals", url.Values{
		"interval": {"day"},
		"span":     {"year"},
	})
	if err != nil {
		return nil, fmt.Errorf("history %s: %w: %v", sym, market.ErrDataUnavailable, err)
	}
	items := res.Get("historicals")
	if !items.Exists() {
		items = res.Get("results")
	}
	bars := make(market.Bars, 0, 260)
	items.ForEach(func(_, item gjson.Result) bool {
		ts, err := time.Parse(time.RFC3339, item.Get("begins_at").String())
		if err != nil {
			return true
		}
		bar := market.Bar{
			Time:   ts,
			Open:   item.Get("open_price").Float(),
			High:   item.Get("high_price").Float(),
			Low:    item.Get("low_price").Float(),
			Close:  item.Get("close_price").Float(),
			Volume: item.Get("volume").Float(),
		}
		if bar.Close <= 0 {
			return true
		}
		bars = append(bars, bar)
		return true
	})
	if lookback > 0 && len(bars) > lookback {
		bars = bars[len(bars)-lookback:]
	}
	return bars, nil
}

// TopMovers 返回当日涨幅榜上的标的。
func (c *Client) TopMovers(ctx context.Context, direction string) ([]string, error) {
	if direction == "" {
		direction = "up"
	}
	res, err := c.get(ctx, "/v1/markets/movers", url.Values{"direction": {direction}})
	if err != nil {
		return nil, err
	}
	var out []string
	res.Get("results").ForEach(func(_, item gjson.Result) bool {
		if sym := strings.ToUpper(strings.TrimSpace(item.Get("symbol").String())); sym != "" {
			out = append(out, sym)
		}
		return true
	})
	return out, nil
}
