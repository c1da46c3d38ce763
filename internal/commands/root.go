package commands

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"riskbot/internal/app"
	brcfg "riskbot/internal/config"
	"riskbot/internal/logger"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "riskbot",
	Short: "Risk-budgeted moving-average crossover trading bot",
	Long: `riskbot scans a symbol universe for recent 20/50-day moving-average crossovers
and sizes each position by ATR so a trade risks a fixed share of the portfolio.
New positions stop once the daily loss budget is used up.

Positions exit on the 2xATR stop loss or stop limit, or after the maximum hold period.`,
	SilenceUsage: true,
}

// ExecuteContext 运行根命令，ctx 在收到退出信号时取消。
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	def := os.Getenv("RISKBOT_CONFIG")
	if def == "" {
		def = "configs/config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", def, "config file path (env RISKBOT_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override app.log_level (debug, info, warn, error)")
}

// loadApp 读取配置、初始化日志并构建应用；返回的 cleanup 负责关闭资源。
func loadApp(cmd *cobra.Command) (*app.App, func(), error) {
	cfg, err := brcfg.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置失败: %w", err)
	}
	if logLevel != "" {
		cfg.App.LogLevel = logLevel
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志文件失败: %w", err)
	}
	logger.Infof("✓ 配置加载成功（环境=%s，模式=%s）", cfg.App.Env, modeName(cfg))

	a, err := app.NewApp(cfg)
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, nil, fmt.Errorf("初始化应用失败: %w", err)
	}
	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Warnf("close app: %v", err)
		}
		if logFile != nil {
			logFile.Close()
		}
	}
	return a, cleanup, nil
}

func modeName(cfg *brcfg.Config) string {
	if cfg.Trading.Simulated {
		return "simulated"
	}
	return "live"
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
