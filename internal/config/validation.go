package config

import (
	"fmt"
	"strings"

	"riskbot/internal/market"
	"riskbot/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	checks := []func() error{
		c.Trading.validate,
		c.Strategy.validate,
		c.Universe.validate,
		func() error { return c.Broker.validate(c.Trading.Simulated, c.Universe.Source) },
		c.Schedule.validate,
		c.Store.validate,
		c.Notify.validate,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.MaxDailyLoss <= 0 || t.MaxDailyLoss >= 1 {
		return fmt.Errorf("trading.max_daily_loss must be within (0, 1), got %v", t.MaxDailyLoss)
	}
	if t.RiskPerTrade <= 0 || t.RiskPerTrade > t.MaxDailyLoss {
		return fmt.Errorf("trading.risk_per_trade must be within (0, max_daily_loss], got %v", t.RiskPerTrade)
	}
	if t.Simulated && t.SimulatedPortfolioSize <= 0 {
		return fmt.Errorf("trading.simulated_portfolio_size must be > 0 in simulated mode")
	}
	if t.TopK <= 0 {
		return fmt.Errorf("trading.top_k must be > 0")
	}
	if t.Concurrency <= 0 {
		return fmt.Errorf("trading.concurrency must be > 0")
	}
	if t.Overflow.TolerancePP < 0 || t.Overflow.MinTradePct < 0 {
		return fmt.Errorf("trading.overflow values must be >= 0")
	}
	return nil
}

func (s *StrategyConfig) validate() error {
	if s.ShortPeriod <= 0 || s.LongPeriod <= 0 || s.ATRPeriod <= 0 {
		return fmt.Errorf("strategy periods must be > 0")
	}
	if s.ShortPeriod >= s.LongPeriod {
		return fmt.Errorf("strategy.short_period (%d) must be < long_period (%d)", s.ShortPeriod, s.LongPeriod)
	}
	if s.HistoryLookback < s.LongPeriod {
		return fmt.Errorf("strategy.history_lookback (%d) must be >= long_period (%d)", s.HistoryLookback, s.LongPeriod)
	}
	for _, b := range s.ATRBucketsAllowed {
		if b != 3 && b != 4 && b != 5 {
			return fmt.Errorf("strategy.atr_buckets_allowed only accepts 3, 4, 5 (got %v)", b)
		}
	}
	if s.MaxHoldDays <= 0 {
		return fmt.Errorf("strategy.max_hold_days must be > 0")
	}
	return nil
}

func (u *UniverseConfig) validate() error {
	switch u.Source {
	case SourceCSV:
		if len(u.CSVFiles) == 0 {
			return fmt.Errorf("universe.csv_files is required when source=csv")
		}
	case SourceWatchlist:
		if strings.TrimSpace(u.WatchlistPath) == "" {
			return fmt.Errorf("universe.watchlist_path is required when source=watchlist")
		}
	case SourceTopMovers:
	default:
		return fmt.Errorf("universe.source must be csv, top_movers or watchlist (got %q)", u.Source)
	}
	return nil
}

func (b *BrokerConfig) validate(simulated bool, source string) error {
	if !b.Configured() {
		if !simulated {
			return fmt.Errorf("broker.base_url is required when trading.simulated=false")
		}
		if source == SourceTopMovers {
			return fmt.Errorf("broker.base_url is required for universe.source=top_movers")
		}
	}
	if b.RatePerSecond <= 0 || b.Burst <= 0 {
		return fmt.Errorf("broker.rate_per_second and broker.burst must be > 0")
	}
	return nil
}

func (s *ScheduleConfig) validate() error {
	if _, err := market.NewSession(s.Timezone, s.MarketOpen, s.MarketClose); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	for key, raw := range map[string]string{"open_interval": s.OpenInterval, "closed_interval": s.ClosedInterval} {
		if _, ok := scheduler.ParseInterval(raw); !ok {
			return fmt.Errorf("schedule.%s: invalid interval %q", key, raw)
		}
	}
	return nil
}

func (s *StoreConfig) validate() error {
	switch s.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("store.driver must be sqlite or memory (got %q)", s.Driver)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled && (strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "") {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}
