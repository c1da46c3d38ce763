// Package apihttp 提供只读的状态接口与 prometheus 指标。
package apihttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"riskbot/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server 挂载 /healthz、/metrics 与 /api。
type Server struct {
	addr   string
	router *gin.Engine
}

type ServerConfig struct {
	Addr    string
	Ledger  LedgerView
	Risk    RiskView
	Runs    RunHistory
	Trigger RunTrigger
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Ledger == nil || cfg.Risk == nil {
		return nil, errors.New("status http server requires ledger and risk views")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	NewRouter(cfg.Ledger, cfg.Risk, cfg.Runs, cfg.Trigger).Register(router.Group("/api"))
	return &Server{addr: cfg.Addr, router: router}, nil
}

// Handler 供测试直接调用。
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.RequestURI(), c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("status http listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
