package app

import (
	"fmt"
	"strings"
	"time"

	"riskbot/internal/broker"
	brcfg "riskbot/internal/config"
	"riskbot/internal/gateway/binance"
	"riskbot/internal/gateway/brokerapi"
	"riskbot/internal/gateway/history"
	"riskbot/internal/gateway/paper"
	"riskbot/internal/ledger"
	"riskbot/internal/logger"
	"riskbot/internal/market"
	"riskbot/internal/universe"

	"github.com/shopspring/decimal"
)

// Gateways 是外部协作方：账户查询、下单与日线历史。
type Gateways struct {
	Account broker.AccountQuery
	Orders  broker.OrderSubmitter
	History market.HistoryProvider
	Movers  universe.MoversClient
}

// buildGateways 在模拟模式下用 paper 账户替代券商，但仍可借用券商的行情接口。
func buildGateways(cfg *brcfg.Config, repo ledger.Repository) (*Gateways, error) {
	var client *brokerapi.Client
	if cfg.Broker.Configured() {
		c, err := brokerapi.NewClient(brokerapi.Config{
			BaseURL:          cfg.Broker.BaseURL,
			APIToken:         cfg.Broker.APIToken,
			AccountID:        cfg.Broker.AccountID,
			Timeout:          time.Duration(cfg.Broker.TimeoutSeconds) * time.Second,
			RatePerSecond:    cfg.Broker.RatePerSecond,
			Burst:            cfg.Broker.Burst,
			BreakerThreshold: cfg.Broker.BreakerThreshold,
			BreakerCooldown:  time.Duration(cfg.Broker.BreakerCooldownSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		client = c
		logger.Infof("✓ 券商接口: %s", cfg.Broker.BaseURL)
	}

	var stocks, crypto market.HistoryProvider
	if client != nil {
		stocks = client
	}
	if cfg.History.Binance.Enabled {
		src, err := binance.New(cfg.History.Binance)
		if err != nil {
			return nil, fmt.Errorf("init binance history: %w", err)
		}
		crypto = src
	}
	if stocks == nil && crypto == nil {
		return nil, fmt.Errorf("no history provider: configure broker.base_url or history.binance")
	}
	router := history.NewRouter(stocks, crypto, cfg.History.CryptoQuotes)
	cached := history.NewCache(router, cfg.History.CacheTTL())

	gw := &Gateways{History: cached}
	if client != nil {
		gw.Movers = client
	}
	if cfg.Trading.Simulated {
		acct := paper.NewAccount(repo, cached, decimal.NewFromFloat(cfg.Trading.SimulatedPortfolioSize))
		gw.Account, gw.Orders = acct, acct
		logger.Infof("✓ 模拟账户: $%.2f", cfg.Trading.SimulatedPortfolioSize)
		return gw, nil
	}
	if client == nil {
		return nil, fmt.Errorf("live trading requires broker.base_url")
	}
	gw.Account, gw.Orders = client, client
	return gw, nil
}

// UniverseSetup 是构建好的标的来源及其描述。
type UniverseSetup struct {
	Source      universe.Source
	Description string
	Closers     []func() error
}

func buildUniverse(cfg brcfg.UniverseConfig, gw *Gateways) (*UniverseSetup, error) {
	switch cfg.NormalizedSource() {
	case brcfg.SourceCSV:
		return &UniverseSetup{
			Source:      universe.Filtered{Base: universe.CSVSource{Paths: cfg.CSVFiles}, Limit: cfg.Limit},
			Description: "csv: " + strings.Join(cfg.CSVFiles, ","),
		}, nil
	case brcfg.SourceTopMovers:
		if gw == nil || gw.Movers == nil {
			return nil, fmt.Errorf("universe.source=top_movers requires broker.base_url")
		}
		return &UniverseSetup{
			Source:      universe.Filtered{Base: universe.MoversSource{Client: gw.Movers, Direction: cfg.MoversDirection}, Limit: cfg.Limit},
			Description: "top movers (" + cfg.MoversDirection + ")",
		}, nil
	case brcfg.SourceWatchlist:
		wl, err := universe.NewWatchlist(cfg.WatchlistPath, cfg.Watch)
		if err != nil {
			return nil, err
		}
		return &UniverseSetup{
			Source:      universe.Filtered{Base: wl, Exclude: wl.Excluded, Limit: cfg.Limit},
			Description: "watchlist: " + cfg.WatchlistPath,
		}, nil
	default:
		return nil, fmt.Errorf("unknown universe source %q", cfg.Source)
	}
}
