// Package runlock 用文件锁保证同一时刻只有一轮运行（跨进程）。
package runlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrBusy 表示另一轮运行仍持有锁，本次触发应被跳过。
var ErrBusy = errors.New("another run holds the lock")

// Lock 同时在进程内与跨进程互斥；同一个 flock 句柄重复加锁会直接成功，所以进程内另加 mu。
type Lock struct {
	mu   sync.Mutex
	fl   *flock.Flock
	wait time.Duration
}

// New 创建锁文件所在目录；wait 为 0 时只尝试一次。
func New(path string, wait time.Duration) (*Lock, error) {
	if path == "" {
		return nil, fmt.Errorf("run lock path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create lock dir: %w", err)
		}
	}
	return &Lock{fl: flock.New(path), wait: wait}, nil
}

// Acquire 获取锁，返回释放函数。
func (l *Lock) Acquire(ctx context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrBusy
	}
	release, err := l.acquireFile(ctx)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	return release, nil
}

func (l *Lock) acquireFile(ctx context.Context) (func(), error) {
	var (
		ok  bool
		err error
	)
	if l.wait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, l.wait)
		defer cancel()
		ok, err = l.fl.TryLockContext(waitCtx, 100*time.Millisecond)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrBusy
		}
	} else {
		ok, err = l.fl.TryLock()
	}
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return func() {
		_ = l.fl.Unlock()
		l.mu.Unlock()
	}, nil
}

func (l *Lock) Path() string { return l.fl.Path() }
