package brokerapi

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"riskbot/internal/broker"

	"github.com/shopspring/decimal"
)

type orderPayload struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	AmountUSD   string `json:"amount_usd,omitempty"`
	Quantity    string `json:"quantity,omitempty"`
}

// SubmitFractionalBuy 以美元金额下市价买单（当日有效）。
func (c *Client) SubmitFractionalBuy(ctx context.Context, symbol string, dollars float64) (string, error) {
	if dollars <= 0 {
		return "", fmt.Errorf("buy %s: amount must be positive", symbol)
	}
	return c.submit(ctx, orderPayload{
		Symbol:      strings.ToUpper(symbol),
		Side:        "buy",
		Type:        "market",
		TimeInForce: "gfd",
		AmountUSD:   decimal.NewFromFloat(dollars).StringFixed(2),
	})
}

// SubmitMarketSell 卖出指定数量。
func (c *Client) SubmitMarketSell(ctx context.Context, symbol string, quantity float64) (string, error) {
	if quantity <= 0 {
		return "", fmt.Errorf("sell %s: quantity must be positive", symbol)
	}
	return c.submit(ctx, orderPayload{
		Symbol:      strings.ToUpper(symbol),
		Side:        "sell",
		Type:        "market",
		TimeInForce: "gfd",
		Quantity:    decimal.NewFromFloat(quantity).String(),
	})
}

func (c *Client) submit(ctx context.Context, payload orderPayload) (string, error) {
	res, err := c.post(ctx, c.accountPath("/orders"), payload)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", payload.Side, payload.Symbol, err)
	}
	id := firstString(res, "id", "order_id")
	if id == "" {
		return "", fmt.Errorf("%s %s: response missing order id: %w", payload.Side, payload.Symbol, broker.ErrOrderRejected)
	}
	return id, nil
}

// OrderStatus 查询订单状态。
func (c *Client) OrderStatus(ctx context.Context, orderID string) (broker.OrderState, error) {
	res, err := c.get(ctx, c.accountPath("/orders/"+url.PathEscape(orderID)), nil)
	if err != nil {
		return broker.OrderUnknown, err
	}
	return broker.ParseOrderState(strings.ToLower(firstString(res, "state", "status"))), nil
}
