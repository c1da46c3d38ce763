package engine

import (
	"fmt"
	"strings"
	"time"

	"riskbot/internal/ledger"
	"riskbot/internal/risk"
	"riskbot/internal/signal"
	"riskbot/internal/store/journal"
)

// Report 是一轮运行的完整结果，风险数值始终取自 risk.Accountant。
type Report struct {
	RunID           string                  `json:"run_id"`
	Mode            string                  `json:"mode"`
	StartedAt       time.Time               `json:"started_at"`
	FinishedAt      time.Time               `json:"finished_at"`
	MarketOpen      bool                    `json:"market_open"`
	Portfolio       float64                 `json:"portfolio"`
	RiskBefore      risk.State              `json:"risk_before"`
	RiskAfter       risk.State              `json:"risk_after"`
	Reconcile       ledger.ReconcileReport  `json:"reconcile"`
	Sales           []ledger.Sale           `json:"sales,omitempty"`
	CloseFailures   []journal.Skip          `json:"close_failures,omitempty"`
	SymbolsAnalyzed int                     `json:"symbols_analyzed"`
	Candidates      []signal.TradeCandidate `json:"candidates,omitempty"`
	Skips           []journal.Skip          `json:"skips,omitempty"`
	TradesMade      int                     `json:"trades_made"`
	Positions       []ledger.Position       `json:"positions,omitempty"`
	PositionRisks   []ledger.PositionRisk   `json:"position_risks,omitempty"`
}

func (r *Report) skip(symbol, reason string) {
	r.Skips = append(r.Skips, journal.Skip{Symbol: symbol, Reason: reason})
}

// Text 生成日志用的多行摘要。
func (r Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%s) portfolio=$%.2f market_open=%v\n", r.RunID, r.Mode, r.Portfolio, r.MarketOpen)
	fmt.Fprintf(&b, "risk before=%s after=%s\n", r.RiskBefore, r.RiskAfter)
	fmt.Fprintf(&b, "reconcile kept=%d adopted=%v removed=%v\n", r.Reconcile.Kept, r.Reconcile.Adopted, r.Reconcile.Removed)
	for _, s := range r.Sales {
		fmt.Fprintf(&b, "sold %s at %.2f (%s, profit=%v)\n", s.Symbol, s.ExitPrice, s.Reason, s.Profit)
	}
	for _, f := range r.CloseFailures {
		fmt.Fprintf(&b, "close pending %s: %s\n", f.Symbol, f.Reason)
	}
	fmt.Fprintf(&b, "analyzed=%d ranked=%d trades=%d skipped=%d\n", r.SymbolsAnalyzed, len(r.Candidates), r.TradesMade, len(r.Skips))
	for _, c := range r.Candidates {
		b.WriteString(c.String())
		b.WriteString("\n")
	}
	return b.String()
}
