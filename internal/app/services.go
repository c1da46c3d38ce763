package app

import (
	"fmt"

	brcfg "riskbot/internal/config"
	"riskbot/internal/engine"
	"riskbot/internal/gateway/notifier"
	"riskbot/internal/ledger"
	"riskbot/internal/logger"
	"riskbot/internal/risk"
	"riskbot/internal/store/journal"
	apihttp "riskbot/internal/transport/http/api"
)

func buildSummarizer(cfg brcfg.NotifyConfig) engine.Summarizer {
	var targets notifier.Multi
	if cfg.Log {
		targets = append(targets, notifier.LogNotifier{})
	}
	tg := newTelegram(cfg)
	if tg != nil {
		targets = append(targets, tg)
	}
	if len(targets) == 0 {
		return nil
	}
	return engine.NotifySummary{Notifier: targets, Markdown: tg != nil}
}

func newTelegram(cfg brcfg.NotifyConfig) *notifier.Telegram {
	if !cfg.Telegram.Enabled {
		return nil
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}

func notifierNames(cfg brcfg.NotifyConfig) []string {
	var names []string
	if cfg.Log {
		names = append(names, "log")
	}
	if cfg.Telegram.Enabled {
		names = append(names, "telegram")
	}
	return names
}

func buildHTTPServer(cfg brcfg.HTTPConfig, app *App, l *ledger.Ledger, acc *risk.Accountant, runs *journal.Store) (*apihttp.Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	sc := apihttp.ServerConfig{
		Addr:    cfg.Addr,
		Ledger:  l,
		Risk:    acc,
		Trigger: app.RequestRun,
	}
	if runs != nil {
		sc.Runs = runs
	}
	server, err := apihttp.NewServer(sc)
	if err != nil {
		return nil, fmt.Errorf("初始化状态 HTTP 失败: %w", err)
	}
	logger.Infof("✓ 状态接口监听 %s", server.Addr())
	return server, nil
}
