// Package circuit 为外部调用提供熔断保护。
package circuit

import (
	"errors"
	"sync"
	"time"

	"riskbot/internal/logger"
)

// ErrOpen 表示熔断器处于打开状态，调用被拒绝。
var ErrOpen = errors.New("circuit open")

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker 连续失败 threshold 次后打开，cooldown 之后放行一次试探调用。
type Breaker struct {
	mu            sync.Mutex
	name          string
	state         State
	failures      int
	threshold     int
	cooldown      time.Duration
	openedAt      time.Time
	now           func() time.Time
	onStateChange func(name string, from, to State)
}

func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
}

// OnStateChange 注册状态变化回调（同步调用，不可阻塞）。
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}
	b.failures++
	switch b.state {
	case StateHalfOpen:
		b.openedAt = b.now()
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
	}
}

// Do 在熔断允许时执行 fn 并记录结果；返回 fn 的错误或 ErrOpen。
// countable 为 nil 时所有错误都计入失败次数。
func (b *Breaker) Do(fn func() error, countable func(error) bool) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	if err != nil && countable != nil && !countable(err) {
		b.record(nil)
		return err
	}
	b.record(err)
	return err
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
		return
	}
	logger.Warnf("circuit %s: %s -> %s (failures=%d/%d, cooldown=%s)", b.name, from, to, b.failures, b.threshold, b.cooldown)
}
