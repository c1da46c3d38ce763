package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTelegramAPI = "https://api.telegram.org"

// Telegram 通过 Bot API 推送运行摘要。
type Telegram struct {
	BotToken string
	ChatID   string
	APIBase  string
	Client   *http.Client
	Retries  int
	Backoff  time.Duration
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		BotToken: strings.TrimSpace(botToken),
		ChatID:   strings.TrimSpace(chatID),
		APIBase:  defaultTelegramAPI,
		Client:   &http.Client{Timeout: 15 * time.Second},
		Retries:  3,
		Backoff:  time.Second,
	}
}

// SendText 发送 Markdown 文本，失败按线性退避重试。
func (t *Telegram) SendText(text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram not configured")
	}
	base := strings.TrimRight(t.APIBase, "/")
	if base == "" {
		base = defaultTelegramAPI
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", base, t.BotToken)
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}
	retries := t.Retries
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	for i := 0; i < retries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(i) * t.Backoff)
		}
		req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.Client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = fmt.Errorf("telegram status=%d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			break
		}
	}
	return lastErr
}
