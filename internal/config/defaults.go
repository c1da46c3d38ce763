package config

import "strings"

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppLogFormat      = "text"
	defaultAppEnvFile        = ".env"
	defaultPortfolioSize     = 20000
	defaultMaxDailyLoss      = 0.06
	defaultRiskPerTrade      = 0.02
	defaultTopK              = 3
	defaultConcurrency       = 8
	defaultPollAttempts      = 10
	defaultPollInterval      = 2
	defaultTolerancePP       = 0.5
	defaultMinTradePct       = 1.25
	defaultShortPeriod       = 20
	defaultLongPeriod        = 50
	defaultATRPeriod         = 14
	defaultCrossoverLookback = 5
	defaultATRFloor          = 3.0
	defaultRewardMultiple    = 1
	defaultMaxHoldDays       = 10
	defaultHistoryLookback   = 100
	defaultUniverseSource    = SourceCSV
	defaultMoversDirection   = "up"
	defaultBrokerTimeout     = 15
	defaultBrokerRate        = 5
	defaultBrokerBurst       = 5
	defaultBreakerThreshold  = 3
	defaultBreakerCooldown   = 60
	defaultBinanceREST       = "https://api.binance.com"
	defaultBinanceTimeout    = 15
	defaultHistoryCache      = 600
	defaultTimezone          = "America/New_York"
	defaultMarketOpen        = "09:30"
	defaultMarketClose       = "16:00"
	defaultOpenInterval      = "1m"
	defaultClosedInterval    = "5h"
	defaultStoreDriver       = "sqlite"
	defaultStorePath         = "data/riskbot.db"
	defaultJournalPath       = "data/journal.db"
	defaultLockPath          = "data/riskbot.lock"
	defaultHTTPAddr          = ":9991"
)

var defaultBuckets = []float64{3, 4, 5}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Universe.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.History.applyDefaults(keys)
	c.Schedule.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.env_file", &a.EnvFile, defaultAppEnvFile),
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("trading.simulated", &t.Simulated, true),
		floatFieldDefault("trading.simulated_portfolio_size", &t.SimulatedPortfolioSize, defaultPortfolioSize),
		floatFieldDefault("trading.max_daily_loss", &t.MaxDailyLoss, defaultMaxDailyLoss),
		floatFieldDefault("trading.risk_per_trade", &t.RiskPerTrade, defaultRiskPerTrade),
		intFieldDefault("trading.top_k", &t.TopK, defaultTopK),
		intFieldDefault("trading.concurrency", &t.Concurrency, defaultConcurrency),
		intFieldDefault("trading.poll_attempts", &t.PollAttempts, defaultPollAttempts),
		intFieldDefault("trading.poll_interval_seconds", &t.PollIntervalSeconds, defaultPollInterval),
		boolFieldDefault("trading.overflow.enabled", &t.Overflow.Enabled, true),
		floatFieldDefault("trading.overflow.tolerance_pp", &t.Overflow.TolerancePP, defaultTolerancePP),
		floatFieldDefault("trading.overflow.min_trade_pct", &t.Overflow.MinTradePct, defaultMinTradePct),
	)
	// 兼容按百分数填写（6 表示 6%）
	t.MaxDailyLoss = fraction(t.MaxDailyLoss)
	t.RiskPerTrade = fraction(t.RiskPerTrade)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("strategy.short_period", &s.ShortPeriod, defaultShortPeriod),
		intFieldDefault("strategy.long_period", &s.LongPeriod, defaultLongPeriod),
		intFieldDefault("strategy.atr_period", &s.ATRPeriod, defaultATRPeriod),
		intFieldDefault("strategy.crossover_lookback", &s.CrossoverLookback, defaultCrossoverLookback),
		floatFieldDefault("strategy.atr_floor", &s.ATRFloor, defaultATRFloor),
		floatFieldDefault("strategy.reward_multiple", &s.RewardMultiple, defaultRewardMultiple),
		intFieldDefault("strategy.max_hold_days", &s.MaxHoldDays, defaultMaxHoldDays),
		intFieldDefault("strategy.history_lookback", &s.HistoryLookback, defaultHistoryLookback),
		fieldDefault{
			key:   "strategy.atr_buckets_allowed",
			need:  func() bool { return len(s.ATRBucketsAllowed) == 0 },
			apply: func() { s.ATRBucketsAllowed = append([]float64(nil), defaultBuckets...) },
		},
	)
}

func (u *UniverseConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("universe.source", &u.Source, defaultUniverseSource),
		stringFieldDefault("universe.movers_direction", &u.MoversDirection, defaultMoversDirection),
	)
	u.Source = u.NormalizedSource()
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("broker.timeout_seconds", &b.TimeoutSeconds, defaultBrokerTimeout),
		floatFieldDefault("broker.rate_per_second", &b.RatePerSecond, defaultBrokerRate),
		intFieldDefault("broker.burst", &b.Burst, defaultBrokerBurst),
		intFieldDefault("broker.breaker_threshold", &b.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("broker.breaker_cooldown_seconds", &b.BreakerCooldownSeconds, defaultBreakerCooldown),
	)
}

func (h *HistoryConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("history.cache_seconds", &h.CacheSeconds, defaultHistoryCache),
		boolFieldDefault("history.binance.enabled", &h.Binance.Enabled, true),
		stringFieldDefault("history.binance.rest_base_url", &h.Binance.RESTBaseURL, defaultBinanceREST),
		intFieldDefault("history.binance.timeout_seconds", &h.Binance.TimeoutSeconds, defaultBinanceTimeout),
	)
}

func (s *ScheduleConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("schedule.timezone", &s.Timezone, defaultTimezone),
		stringFieldDefault("schedule.market_open", &s.MarketOpen, defaultMarketOpen),
		stringFieldDefault("schedule.market_close", &s.MarketClose, defaultMarketClose),
		stringFieldDefault("schedule.open_interval", &s.OpenInterval, defaultOpenInterval),
		stringFieldDefault("schedule.closed_interval", &s.ClosedInterval, defaultClosedInterval),
		boolFieldDefault("schedule.run_immediately", &s.RunImmediately, true),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.driver", &s.Driver, defaultStoreDriver),
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		stringFieldDefault("store.journal_path", &s.JournalPath, defaultJournalPath),
		stringFieldDefault("store.lock_path", &s.LockPath, defaultLockPath),
	)
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("notify.log", &n.Log, true),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("http.enabled", &h.Enabled, true),
		stringFieldDefault("http.addr", &h.Addr, defaultHTTPAddr),
	)
}

func fraction(v float64) float64 {
	if v > 1 {
		return v / 100
	}
	return v
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

// applyFieldDefaults 只在配置文件未显式设置该键时生效。
func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{key: key, apply: func() { *target = def }}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}
