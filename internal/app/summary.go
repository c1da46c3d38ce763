package app

import (
	"fmt"
	"strings"

	"riskbot/internal/engine"
)

// StartupSummary 在启动时打印一次关键配置。
type StartupSummary struct {
	Mode          string
	Portfolio     float64
	MaxDailyLoss  float64
	RiskPerTrade  float64
	Buckets       []float64
	Source        string
	Session       string
	Intervals     string
	StoreDriver   string
	HTTPAddr      string
	Notifiers     []string
	HeldPositions int
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[交易 (TRADING)]")
	fmt.Printf("  模式: %s\n", s.Mode)
	if s.Mode != engine.ModeLive {
		fmt.Printf("  模拟资金: $%.2f\n", s.Portfolio)
	}
	fmt.Printf("  日内风险上限: %.2f%%\n", s.MaxDailyLoss*100)
	fmt.Printf("  单笔风险: %.2f%%\n", s.RiskPerTrade*100)
	fmt.Printf("  ATR 档位: %s\n", formatBuckets(s.Buckets))
	fmt.Printf("  账本持仓: %d\n", s.HeldPositions)
	fmt.Println()

	fmt.Println("[调度 (SCHEDULE)]")
	fmt.Printf("  标的来源: %s\n", orDash(s.Source))
	fmt.Printf("  交易时段: %s\n", s.Session)
	fmt.Printf("  运行间隔: %s\n", s.Intervals)
	fmt.Println()

	fmt.Println("[服务 (SERVICES)]")
	fmt.Printf("  存储: %s\n", s.StoreDriver)
	fmt.Printf("  HTTP: %s\n", orDash(s.HTTPAddr))
	fmt.Printf("  通知: %s\n", formatList(s.Notifiers))
	fmt.Println(strings.Repeat("=", 80))
}

func formatBuckets(items []float64) string {
	parts := make([]string, 0, len(items))
	for _, b := range items {
		parts = append(parts, fmt.Sprintf("%g%%", b))
	}
	return formatList(parts)
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
