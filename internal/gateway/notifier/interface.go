// Package notifier 发送运行摘要；所有通知都是尽力而为，失败只记日志。
package notifier

import (
	"errors"
	"strings"

	"riskbot/internal/logger"
)

// TextNotifier 是最小的文本通知接口。
type TextNotifier interface {
	SendText(text string) error
}

// LogNotifier 把消息写入日志，未配置 Telegram 时使用。
type LogNotifier struct{}

func (LogNotifier) SendText(text string) error {
	logger.InfoBlock(text)
	return nil
}

// Multi 依次发送到每个通知器，返回合并后的错误。
type Multi []TextNotifier

func (m Multi) SendText(text string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.SendText(text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send 发送并吞掉错误。
func Send(n TextNotifier, text string) {
	if n == nil || strings.TrimSpace(text) == "" {
		return
	}
	if err := n.SendText(text); err != nil {
		logger.Warnf("notify failed: %v", err)
	}
}
