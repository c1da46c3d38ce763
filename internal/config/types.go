package config

import (
	"strings"
	"time"
)

// Config 是 riskbot 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Trading  TradingConfig  `toml:"trading"`
	Strategy StrategyConfig `toml:"strategy"`
	Universe UniverseConfig `toml:"universe"`
	Broker   BrokerConfig   `toml:"broker"`
	History  HistoryConfig  `toml:"history"`
	Schedule ScheduleConfig `toml:"schedule"`
	Store    StoreConfig    `toml:"store"`
	Notify   NotifyConfig   `toml:"notify"`
	HTTP     HTTPConfig     `toml:"http"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	EnvFile   string `toml:"env_file"`
}

// TradingConfig 控制资金、风险预算与下单。MaxDailyLoss、RiskPerTrade 为小数（0.06 即 6%）。
type TradingConfig struct {
	Simulated              bool           `toml:"simulated"`
	SimulatedPortfolioSize float64        `toml:"simulated_portfolio_size"`
	MaxDailyLoss           float64        `toml:"max_daily_loss"`
	RiskPerTrade           float64        `toml:"risk_per_trade"`
	TopK                   int            `toml:"top_k"`
	Concurrency            int            `toml:"concurrency"`
	PollAttempts           int            `toml:"poll_attempts"`
	PollIntervalSeconds    int            `toml:"poll_interval_seconds"`
	Overflow               OverflowConfig `toml:"overflow"`
}

func (t TradingConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalSeconds) * time.Second
}

// OverflowConfig 是超出日内预算时的有限容忍。
type OverflowConfig struct {
	Enabled     bool    `toml:"enabled"`
	TolerancePP float64 `toml:"tolerance_pp"`
	MinTradePct float64 `toml:"min_trade_pct"`
}

type StrategyConfig struct {
	ShortPeriod         int       `toml:"short_period"`
	LongPeriod          int       `toml:"long_period"`
	ATRPeriod           int       `toml:"atr_period"`
	CrossoverLookback   int       `toml:"crossover_lookback"`
	ATRFloor            float64   `toml:"atr_floor"`
	ATRBucketsAllowed   []float64 `toml:"atr_buckets_allowed"`
	RewardMultiple      float64   `toml:"reward_multiple"`
	RejectRecentBearish bool      `toml:"reject_recent_bearish"`
	MaxHoldDays         int       `toml:"max_hold_days"`
	HistoryLookback     int       `toml:"history_lookback"`
}

const (
	SourceCSV       = "csv"
	SourceTopMovers = "top_movers"
	SourceWatchlist = "watchlist"
)

type UniverseConfig struct {
	Source          string   `toml:"source"`
	CSVFiles        []string `toml:"csv_files"`
	WatchlistPath   string   `toml:"watchlist_path"`
	Watch           bool     `toml:"watch"`
	MoversDirection string   `toml:"movers_direction"`
	Limit           int      `toml:"limit"`
}

// NormalizedSource 兼容 topMovers / top-movers 等写法。
func (u UniverseConfig) NormalizedSource() string {
	s := strings.ToLower(strings.TrimSpace(u.Source))
	s = strings.ReplaceAll(s, "-", "_")
	if s == "topmovers" {
		return SourceTopMovers
	}
	return s
}

type BrokerConfig struct {
	BaseURL                string  `toml:"base_url"`
	APIToken               string  `toml:"api_token"`
	AccountID              string  `toml:"account_id"`
	TimeoutSeconds         int     `toml:"timeout_seconds"`
	RatePerSecond          float64 `toml:"rate_per_second"`
	Burst                  int     `toml:"burst"`
	BreakerThreshold       int     `toml:"breaker_threshold"`
	BreakerCooldownSeconds int     `toml:"breaker_cooldown_seconds"`
}

// Configured 报告是否提供了券商地址。
func (b BrokerConfig) Configured() bool {
	return strings.TrimSpace(b.BaseURL) != ""
}

type HistoryConfig struct {
	CryptoQuotes []string      `toml:"crypto_quotes"`
	CacheSeconds int           `toml:"cache_seconds"`
	Binance      BinanceConfig `toml:"binance"`
}

// CacheTTL 是日线缓存的有效期，0 表示不缓存。
func (h HistoryConfig) CacheTTL() time.Duration {
	return time.Duration(h.CacheSeconds) * time.Second
}

type BinanceConfig struct {
	Enabled        bool   `toml:"enabled"`
	RESTBaseURL    string `toml:"rest_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	ProxyEnabled   bool   `toml:"proxy_enabled"`
	RESTProxyURL   string `toml:"rest_proxy_url"`
}

// Timeout 是 Binance REST 请求超时，未配置时为 15 秒。
func (b BinanceConfig) Timeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// ScheduleConfig 描述交易时段与运行节奏。
type ScheduleConfig struct {
	Timezone       string `toml:"timezone"`
	MarketOpen     string `toml:"market_open"`
	MarketClose    string `toml:"market_close"`
	OpenInterval   string `toml:"open_interval"`
	ClosedInterval string `toml:"closed_interval"`
	RunImmediately bool   `toml:"run_immediately"`
}

type StoreConfig struct {
	Driver          string `toml:"driver"`
	Path            string `toml:"path"`
	JournalPath     string `toml:"journal_path"`
	LockPath        string `toml:"lock_path"`
	LockWaitSeconds int    `toml:"lock_wait_seconds"`
}

type NotifyConfig struct {
	Log      bool           `toml:"log"`
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}
