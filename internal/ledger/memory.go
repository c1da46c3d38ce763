package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository 是进程内的 Repository，用于 store.driver=memory 和测试。
type MemoryRepository struct {
	mu        sync.Mutex
	positions map[string]Position
	sales     []Sale
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{positions: make(map[string]Position)}
}

func (m *MemoryRepository) LoadPositions(context.Context) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *MemoryRepository) SavePosition(_ context.Context, p Position) error {
	m.mu.Lock()
	m.positions[p.Symbol] = p
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) DeletePosition(_ context.Context, symbol string) error {
	m.mu.Lock()
	delete(m.positions, symbol)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) RecordSale(_ context.Context, s Sale) error {
	m.mu.Lock()
	m.sales = append(m.sales, s)
	m.mu.Unlock()
	return nil
}

// ListSales 按时间倒序返回。
func (m *MemoryRepository) ListSales(_ context.Context, limit int) ([]Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sale, 0, len(m.sales))
	for i := len(m.sales) - 1; i >= 0; i-- {
		out = append(out, m.sales[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
