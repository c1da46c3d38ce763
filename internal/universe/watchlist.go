package universe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"riskbot/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const watchlistSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "symbols": {"type": "array", "items": {"type": "string", "pattern": "^[A-Za-z0-9./-]{1,20}$"}},
    "exclude": {"type": "array", "items": {"type": "string", "minLength": 1}}
  }
}`

// WatchlistFile 是 watchlist.yaml 的结构。
type WatchlistFile struct {
	Symbols []string `yaml:"symbols" mapstructure:"symbols" json:"symbols"`
	Exclude []string `yaml:"exclude" mapstructure:"exclude" json:"exclude"`
}

// Watchlist 读取本地名单并在文件变化后自动重载；校验失败时保留上一份。
type Watchlist struct {
	path   string
	v      *viper.Viper
	schema *jsonschema.Schema

	mu       sync.RWMutex
	current  WatchlistFile
	version  int64
	loadedAt time.Time
}

func NewWatchlist(path string, watch bool) (*Watchlist, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("watchlist requires path")
	}
	schema, err := compileWatchlistSchema()
	if err != nil {
		return nil, err
	}
	w := &Watchlist{path: path, schema: schema}
	if err := w.reload(); err != nil {
		return nil, err
	}
	if watch {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read watchlist failed: %w", err)
		}
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := w.reload(); err != nil {
				logger.Errorf("watchlist reload failed (%s): %v", evt.Name, err)
			}
		})
		v.WatchConfig()
		w.v = v
	}
	return w, nil
}

func compileWatchlistSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("watchlist.json", strings.NewReader(watchlistSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile("watchlist.json")
}

func (w *Watchlist) reload() error {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("read watchlist failed: %w", err)
	}
	file, err := parseWatchlist(raw, w.schema)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.current = file
	w.version++
	w.loadedAt = time.Now()
	w.mu.Unlock()
	logger.Infof("watchlist reloaded %d symbols (%d excluded) from %s", len(file.Symbols), len(file.Exclude), filepath.Base(w.path))
	return nil
}

func parseWatchlist(raw []byte, schema *jsonschema.Schema) (WatchlistFile, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return WatchlistFile{}, fmt.Errorf("parse watchlist failed: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	// yaml 解码得到的是 map[string]any，转一次 JSON 以满足 schema 校验的类型要求
	buf, err := json.Marshal(doc)
	if err != nil {
		return WatchlistFile{}, fmt.Errorf("watchlist is not a mapping: %w", err)
	}
	var generic any
	if err := json.Unmarshal(buf, &generic); err != nil {
		return WatchlistFile{}, err
	}
	if err := schema.Validate(generic); err != nil {
		return WatchlistFile{}, fmt.Errorf("invalid watchlist: %w", err)
	}
	var file WatchlistFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return WatchlistFile{}, fmt.Errorf("decode watchlist failed: %w", err)
	}
	file.Symbols = Sanitize(file.Symbols)
	file.Exclude = Sanitize(file.Exclude)
	return file, nil
}

// LoadSymbols 返回当前名单。
func (w *Watchlist) LoadSymbols(context.Context) ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.current.Symbols...), nil
}

// Excluded 返回当前排除列表，配合 Filtered 使用。
func (w *Watchlist) Excluded() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.current.Exclude...)
}

func (w *Watchlist) Version() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.version
}
