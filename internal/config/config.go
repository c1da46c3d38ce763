package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// envBindings 把约定的环境变量映射到配置键，优先级高于配置文件。
var envBindings = map[string]string{
	"trading.simulated":                "SIMULATED",
	"trading.simulated_portfolio_size": "SIMULATED_PORTFOLIO_SIZE",
	"trading.max_daily_loss":           "MAX_DAILY_LOSS",
	"strategy.atr_buckets_allowed":     "ATR_BUCKETS_ALLOWED",
	"universe.source":                  "SYMBOL_SOURCE",
	"broker.base_url":                  "BROKER_BASE_URL",
	"broker.api_token":                 "BROKER_API_TOKEN",
	"broker.account_id":                "BROKER_ACCOUNT_ID",
	"notify.telegram.bot_token":        "TELEGRAM_BOT_TOKEN",
	"notify.telegram.chat_id":          "TELEGRAM_CHAT_ID",
	"app.log_level":                    "LOG_LEVEL",
}

// Load 读取 .env（如存在）与配置文件（支持 include），应用默认值并校验。
func Load(path string) (*Config, error) {
	files, err := resolveConfigIncludes(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	if err := loadDotEnv(v.GetString("app.env_file"), filepath.Dir(path)); err != nil {
		return nil, err
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	markSetKeys("", v.AllSettings(), setKeys)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv 加载凭证文件；文件不存在不算错误，已存在的环境变量不会被覆盖。
func loadDotEnv(name, baseDir string) error {
	if strings.TrimSpace(name) == "" {
		name = defaultAppEnvFile
	}
	candidates := []string{name}
	if !filepath.IsAbs(name) {
		candidates = append(candidates, filepath.Join(baseDir, name))
	}
	for _, file := range candidates {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load env file %s: %w", file, err)
		}
		return nil
	}
	return nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(tmp.AllSettings())
}

// includeResolver 深度优先展开 include：被包含的文件先合并，后出现的覆盖先出现的。
type includeResolver struct {
	done     map[string]bool
	visiting map[string]bool
	order    []string
}

func resolveConfigIncludes(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	r := &includeResolver{done: map[string]bool{}, visiting: map[string]bool{}}
	if err := r.visit(abs); err != nil {
		return nil, err
	}
	return r.order, nil
}

func (r *includeResolver) visit(path string) error {
	path = filepath.Clean(path)
	if r.visiting[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if r.done[path] {
		return nil
	}
	r.visiting[path] = true
	includes, err := readIncludes(path)
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := r.visit(inc); err != nil {
			return err
		}
	}
	delete(r.visiting, path)
	r.done[path] = true
	r.order = append(r.order, path)
	return nil
}

func readIncludes(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var items []any
	switch raw := v.Get("include").(type) {
	case nil:
		return nil, nil
	case string:
		items = []any{raw}
	case []any:
		items = raw
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if str = strings.TrimSpace(str); str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}

// markSetKeys 记录配置文件与环境变量中显式出现的键（点号路径，小写）。
func markSetKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, child := range val {
			next := strings.ToLower(strings.TrimSpace(k))
			if next == "" {
				continue
			}
			if prefix != "" {
				next = prefix + "." + next
			}
			markSetKeys(next, child, dest)
		}
	default:
		dest.mark(prefix)
	}
}
