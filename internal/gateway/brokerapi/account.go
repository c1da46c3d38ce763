package brokerapi

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"riskbot/internal/broker"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

var _ broker.Broker = (*Client)(nil)

func (c *Client) accountPath(suffix string) string {
	if c.accountID == "" {
		return "/v1/account" + suffix
	}
	return "/v1/accounts/" + url.PathEscape(c.accountID) + suffix
}

// PortfolioEquity 读取账户总权益。
func (c *Client) PortfolioEquity(ctx context.Context) (decimal.Decimal, error) {
	res, err := c.get(ctx, c.accountPath("/portfolio"), nil)
	if err != nil {
		return decimal.Zero, err
	}
	raw := firstString(res, "equity", "total_equity", "portfolio.equity")
	if raw == "" {
		return decimal.Zero, fmt.Errorf("portfolio response missing equity: %w", broker.ErrCollaboratorUnavailable)
	}
	eq, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse equity %q: %w", raw, err)
	}
	return eq, nil
}

// OpenPositions 返回数量大于 0 的持仓。
func (c *Client) OpenPositions(ctx context.Context) (map[string]broker.Holding, error) {
	res, err := c.get(ctx, c.accountPath("/positions"), url.Values{"nonzero": {"true"}})
	if err != nil {
		return nil, err
	}
	items := res.Get("results")
	if !items.Exists() {
		items = res
	}
	out := make(map[string]broker.Holding)
	items.ForEach(func(_, item gjson.Result) bool {
		sym := strings.ToUpper(strings.TrimSpace(item.Get("symbol").String()))
		qty := item.Get("quantity").Float()
		if sym == "" || qty <= 0 {
			return true
		}
		h := broker.Holding{
			Symbol:       sym,
			Quantity:     qty,
			EntryPrice:   firstFloat(item, "average_buy_price", "average_price", "entry_price"),
			CurrentPrice: firstFloat(item, "current_price", "last_trade_price", "price"),
		}
		if ts := firstString(item, "created_at", "opened_at"); ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				h.EntryTime = t
			}
		}
		out[sym] = h
		return true
	})
	return out, nil
}

func firstString(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := res.Get(p); v.Exists() && strings.TrimSpace(v.String()) != "" {
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}

func firstFloat(res gjson.Result, paths ...string) float64 {
	for _, p := range paths {
		if v := res.Get(p); v.Exists() {
			if f := v.Float(); f != 0 {
				return f
			}
		}
	}
	return 0
}
