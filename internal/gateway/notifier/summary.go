package notifier

import (
	"fmt"
	"time"

	"riskbot/internal/ledger"
	"riskbot/internal/signal"
)

// Summary 是一轮运行后推送的交易摘要。
type Summary struct {
	Simulated   bool
	Sales       []ledger.Sale
	TopTrades   []signal.TradeCandidate
	Portfolio   float64
	RiskPercent float64
	Positions   []ledger.Position
	Risks       []ledger.PositionRisk
	At          time.Time
}

// Message 把摘要整理成结构化消息。
func (s Summary) Message() StructuredMessage {
	mode := "LIVE"
	if s.Simulated {
		mode = "SIMULATED"
	}
	msg := StructuredMessage{Title: "Trade Summary", Timestamp: s.At}
	msg.AddSection("", "Mode: "+mode)

	if len(s.Sales) > 0 {
		lines := make([]string, 0, len(s.Sales))
		for _, sale := range s.Sales {
			kind := "Loss"
			if sale.Profit {
				kind = "Profit"
			}
			lines = append(lines, fmt.Sprintf("%s - %s at $%.2f on %s (%s)",
				sale.Symbol, kind, sale.ExitPrice, sale.Time.Format("2006-01-02 15:04"), sale.Reason))
		}
		msg.AddSection("Sales Made", lines...)
	}

	trades := make([]string, 0, len(s.TopTrades)*4)
	for _, c := range s.TopTrades {
		trades = append(trades, fmt.Sprintf("%s trade_made=%v %s", c.Symbol, c.TradeMade, c.Reason))
		if !c.TradeMade {
			continue
		}
		trades = append(trades,
			fmt.Sprintf("  amount $%.2f, %.4f shares @ $%.2f", c.DollarAmount, c.Shares, c.SharePrice),
			fmt.Sprintf("  gain $%.2f, risk %.2f%%, ATR $%.2f (%.2f%%)", c.PotentialGain, c.RiskPercent, c.ATR, c.ATRPercent),
			fmt.Sprintf("  stop loss $%.2f, stop limit $%.2f", c.SharePrice-2*c.ATR, c.SharePrice+2*c.ATR),
		)
	}
	msg.AddSection("Top Trades", trades...)

	msg.AddSection("Account",
		fmt.Sprintf("Portfolio Size: $%.2f", s.Portfolio),
		fmt.Sprintf("Current Risk: %.2f%%", s.RiskPercent),
	)

	riskBy := make(map[string]ledger.PositionRisk, len(s.Risks))
	for _, r := range s.Risks {
		riskBy[r.Symbol] = r
	}
	open := make([]string, 0, len(s.Positions)*3)
	for _, p := range s.Positions {
		if !p.Held() {
			continue
		}
		open = append(open, fmt.Sprintf("%s %s qty %.4f entry $%.2f now $%.2f", p.Symbol, p.Status, p.Quantity, p.EntryPrice, p.CurrentPrice))
		if r, ok := riskBy[p.Symbol]; ok {
			open = append(open, fmt.Sprintf("  risk $%.2f, ATR $%.2f", r.Dollar, r.ATR))
		}
		open = append(open, fmt.Sprintf("  stop loss $%.2f (%.2f%% away), stop limit $%.2f (%.2f%% away), held %d days",
			p.StopLoss, p.StopDistancePercent(), p.StopLimit, limitDistance(p), p.DaysHeld))
	}
	msg.AddSection("Open Trades", open...)
	return msg
}

func limitDistance(p ledger.Position) float64 {
	if p.CurrentPrice <= 0 || p.StopLimit <= 0 {
		return 0
	}
	return (p.StopLimit - p.CurrentPrice) / p.CurrentPrice * 100
}
