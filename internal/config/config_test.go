package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsAndInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "universe.yaml", "universe:\n  source: csv\n  csv_files: [nasdaq.csv]\n")
	path := writeFile(t, dir, "config.yaml", "include: [universe.yaml]\ntrading:\n  max_daily_loss: 6\n  overflow:\n    enabled: false\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Trading.Simulated)
	assert.Equal(t, 20000.0, cfg.Trading.SimulatedPortfolioSize)
	assert.InDelta(t, 0.06, cfg.Trading.MaxDailyLoss, 1e-12)
	assert.Equal(t, 0.02, cfg.Trading.RiskPerTrade)
	assert.False(t, cfg.Trading.Overflow.Enabled)
	assert.Equal(t, 0.5, cfg.Trading.Overflow.TolerancePP)
	assert.Equal(t, []float64{3, 4, 5}, cfg.Strategy.ATRBucketsAllowed)
	assert.Equal(t, 10, cfg.Strategy.MaxHoldDays)
	assert.Equal(t, SourceCSV, cfg.Universe.Source)
	assert.Equal(t, []string{"nasdaq.csv"}, cfg.Universe.CSVFiles)
	assert.Equal(t, "America/New_York", cfg.Schedule.Timezone)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 2*time.Second, cfg.Trading.PollInterval())
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "universe:\n  csv_files: [a.csv]\nbroker:\n  base_url: http://broker.local\n")
	writeFile(t, dir, ".env", "BROKER_API_TOKEN=from-dotenv\n")
	t.Setenv("SIMULATED", "false")
	t.Setenv("SIMULATED_PORTFOLIO_SIZE", "5000")
	t.Setenv("MAX_DAILY_LOSS", "0.04")
	t.Setenv("ATR_BUCKETS_ALLOWED", "4,5")
	t.Setenv("SYMBOL_SOURCE", "topMovers")
	t.Cleanup(func() { os.Unsetenv("BROKER_API_TOKEN") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Trading.Simulated)
	assert.Equal(t, 5000.0, cfg.Trading.SimulatedPortfolioSize)
	assert.Equal(t, 0.04, cfg.Trading.MaxDailyLoss)
	assert.Equal(t, []float64{4, 5}, cfg.Strategy.ATRBucketsAllowed)
	assert.Equal(t, SourceTopMovers, cfg.Universe.Source)
	assert.Equal(t, "from-dotenv", cfg.Broker.APIToken)
}

func TestLoad_Validation(t *testing.T) {
	cases := map[string]string{
		"live without broker": "trading:\n  simulated: false\nuniverse:\n  csv_files: [a.csv]\n",
		"csv without files":   "universe:\n  source: csv\n",
		"bad bucket":          "universe:\n  csv_files: [a.csv]\nstrategy:\n  atr_buckets_allowed: [2]\n",
		"bad periods":         "universe:\n  csv_files: [a.csv]\nstrategy:\n  short_period: 60\n",
		"bad source":          "universe:\n  source: rss\n",
		"bad hours":           "universe:\n  csv_files: [a.csv]\nschedule:\n  market_open: \"16:00\"\n  market_close: \"09:30\"\n",
		"bad interval":        "universe:\n  csv_files: [a.csv]\nschedule:\n  open_interval: soon\n",
		"telegram incomplete": "universe:\n  csv_files: [a.csv]\nnotify:\n  telegram:\n    enabled: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	assert.ErrorContains(t, err, "include cycle")
}
