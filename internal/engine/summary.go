package engine

import (
	"context"

	"riskbot/internal/gateway/notifier"
)

// NotifySummary 把报告渲染为交易摘要并推送。
type NotifySummary struct {
	Notifier notifier.TextNotifier
	Markdown bool
}

func (n NotifySummary) Summarize(_ context.Context, r Report) {
	if n.Notifier == nil {
		return
	}
	msg := notifier.Summary{
		Simulated:   r.Mode == ModeSimulated,
		Sales:       r.Sales,
		TopTrades:   r.Candidates,
		Portfolio:   r.Portfolio,
		RiskPercent: r.RiskAfter.PercentUsed,
		Positions:   r.Positions,
		Risks:       r.PositionRisks,
		At:          r.FinishedAt,
	}.Message()
	text := msg.RenderPlain()
	if n.Markdown {
		text = msg.RenderMarkdown()
	}
	notifier.Send(n.Notifier, text)
}
