package universe

import (
	"context"
	"fmt"
)

// MoversClient 由券商客户端实现。
type MoversClient interface {
	TopMovers(ctx context.Context, direction string) ([]string, error)
}

// MoversSource 使用当日涨幅榜作为候选。
type MoversSource struct {
	Client    MoversClient
	Direction string
}

func (m MoversSource) LoadSymbols(ctx context.Context) ([]string, error) {
	if m.Client == nil {
		return nil, fmt.Errorf("top movers source has no client")
	}
	dir := m.Direction
	if dir == "" {
		dir = "up"
	}
	symbols, err := m.Client.TopMovers(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("top movers: %w", err)
	}
	return Sanitize(symbols), nil
}
