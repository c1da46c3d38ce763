// Package universe 决定每轮要分析的标的列表。
package universe

import (
	"context"
	"fmt"
	"strings"
)

// Source 返回本轮的候选标的。
type Source interface {
	LoadSymbols(ctx context.Context) ([]string, error)
}

// SourceFunc 让普通函数满足 Source。
type SourceFunc func(ctx context.Context) ([]string, error)

func (f SourceFunc) LoadSymbols(ctx context.Context) ([]string, error) { return f(ctx) }

// Sanitize 去掉 "-"、首尾空白并转大写，按首次出现去重。
func Sanitize(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, raw := range symbols {
		s := strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(raw, "-", "")))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Filtered 在底层来源的结果上剔除排除列表，并可限制数量。
type Filtered struct {
	Base    Source
	Exclude func() []string
	Limit   int
}

func (f Filtered) LoadSymbols(ctx context.Context) ([]string, error) {
	if f.Base == nil {
		return nil, fmt.Errorf("universe source not configured")
	}
	symbols, err := f.Base.LoadSymbols(ctx)
	if err != nil {
		return nil, err
	}
	symbols = Sanitize(symbols)
	if f.Exclude != nil {
		drop := make(map[string]struct{})
		for _, s := range Sanitize(f.Exclude()) {
			drop[s] = struct{}{}
		}
		kept := symbols[:0]
		for _, s := range symbols {
			if _, ok := drop[s]; !ok {
				kept = append(kept, s)
			}
		}
		symbols = kept
	}
	if f.Limit > 0 && len(symbols) > f.Limit {
		symbols = symbols[:f.Limit]
	}
	return symbols, nil
}
