package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"riskbot/internal/ledger"
	"riskbot/internal/risk"
	"riskbot/internal/store/journal"

	"github.com/gin-gonic/gin"
)

// LedgerView 是账本的只读视图。
type LedgerView interface {
	Positions() []ledger.Position
	Sales(ctx context.Context, limit int) ([]ledger.Sale, error)
}

type RiskView interface {
	Snapshot() risk.State
	Limits() risk.Limits
}

type RunHistory interface {
	Latest(ctx context.Context) (journal.RunRecord, error)
	Recent(ctx context.Context, limit int) ([]journal.RunRecord, error)
}

// RunTrigger 请求立即运行一轮，返回是否已排队。
type RunTrigger func() bool

type Router struct {
	ledger  LedgerView
	risk    RiskView
	runs    RunHistory
	trigger RunTrigger
}

func NewRouter(l LedgerView, r RiskView, runs RunHistory, trigger RunTrigger) *Router {
	return &Router{ledger: l, risk: r, runs: runs, trigger: trigger}
}

func (r *Router) Register(group *gin.RouterGroup) {
	group.GET("/positions", r.handlePositions)
	group.GET("/sales", r.handleSales)
	group.GET("/risk", r.handleRisk)
	if r.runs != nil {
		group.GET("/runs", r.handleRuns)
		group.GET("/runs/latest", r.handleLatestRun)
	}
	if r.trigger != nil {
		group.POST("/runs", r.handleTrigger)
	}
}

func (r *Router) handlePositions(c *gin.Context) {
	positions := r.ledger.Positions()
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

func (r *Router) handleSales(c *gin.Context) {
	sales, err := r.ledger.Sales(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sales": sales})
}

func (r *Router) handleRisk(c *gin.Context) {
	limits := r.risk.Limits()
	c.JSON(http.StatusOK, gin.H{
		"state":       r.risk.Snapshot(),
		"limits":      limits,
		"max_percent": limits.MaxPercent(),
	})
}

func (r *Router) handleRuns(c *gin.Context) {
	runs, err := r.runs.Recent(c.Request.Context(), queryLimit(c, 20))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (r *Router) handleLatestRun(c *gin.Context) {
	run, err := r.runs.Latest(c.Request.Context())
	if errors.Is(err, journal.ErrNoRuns) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (r *Router) handleTrigger(c *gin.Context) {
	if !r.trigger() {
		c.JSON(http.StatusConflict, gin.H{"queued": false, "error": "a run is already pending"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > 500 {
		return 500
	}
	return n
}
