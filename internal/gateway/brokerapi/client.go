// Package brokerapi 是券商 REST 接口的客户端，提供账户、下单、日线历史与涨幅榜。
package brokerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"riskbot/internal/broker"
	"riskbot/internal/metrics"
	"riskbot/internal/pkg/circuit"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL          string
	APIToken         string
	AccountID        string
	Timeout          time.Duration
	RatePerSecond    float64
	Burst            int
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Client 对所有请求统一限速并经过熔断器。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
	accountID  string
	limiter    *rate.Limiter
	breaker    *circuit.Breaker
}

// StatusError 是券商返回的非 2xx 响应。
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("broker api status %d", e.Code)
	}
	return fmt.Sprintf("broker api status %d: %s", e.Code, e.Body)
}

func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("broker.base_url 不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析 broker.base_url 失败: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	br := circuit.New("broker", cfg.BreakerThreshold, cfg.BreakerCooldown)
	br.OnStateChange(func(name string, _, to circuit.State) {
		metrics.BreakerState.WithLabelValues(name).Set(float64(to))
	})
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		token:      strings.TrimSpace(cfg.APIToken),
		accountID:  strings.TrimSpace(cfg.AccountID),
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		breaker:    br,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// unavailable 判断错误是否代表券商不可达（网络错误、5xx、熔断）。
func unavailable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return err != nil
}

// get/post 返回解析后的 JSON；不可达类错误包装为 broker.ErrCollaboratorUnavailable。
func (c *Client) get(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

func (c *Client) post(ctx context.Context, path string, payload any) (gjson.Result, error) {
	return c.do(ctx, http.MethodPost, path, nil, payload)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, err
	}
	var out gjson.Result
	err := c.breaker.Do(func() error {
		res, err := c.doRequest(ctx, method, path, query, payload)
		out = res
		return err
	}, unavailable)
	if err != nil {
		if unavailable(err) || errors.Is(err, circuit.ErrOpen) {
			return out, fmt.Errorf("%s %s: %w: %v", method, path, broker.ErrCollaboratorUnavailable, err)
		}
		return out, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return out, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload any) (gjson.Result, error) {
	endpoint := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("序列化请求失败: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return gjson.Result{}, &StatusError{Code: resp.StatusCode, Body: msg}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return gjson.Result{}, nil
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("broker api returned invalid json")
	}
	return gjson.ParseBytes(data), nil
}
