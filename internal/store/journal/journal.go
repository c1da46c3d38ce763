// Package journal 把每轮运行的结果写入独立的 SQLite 文件。
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoRuns 表示尚未记录任何运行。
var ErrNoRuns = errors.New("journal: no runs recorded")

// Skip 记录一个被跳过的标的及原因。
type Skip struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// RunRecord 是一轮运行的持久化摘要，Report 保存完整报告 JSON。
type RunRecord struct {
	ID                string          `json:"id"`
	StartedAt         time.Time       `json:"started_at"`
	FinishedAt        time.Time       `json:"finished_at"`
	Mode              string          `json:"mode"`
	Outcome           string          `json:"outcome"`
	Error             string          `json:"error,omitempty"`
	PortfolioSize     float64         `json:"portfolio_size"`
	RiskPercentBefore float64         `json:"risk_percent_before"`
	RiskPercentAfter  float64         `json:"risk_percent_after"`
	RiskDollarAfter   float64         `json:"risk_dollar_after"`
	SymbolsAnalyzed   int             `json:"symbols_analyzed"`
	TradesMade        int             `json:"trades_made"`
	Skips             []Skip          `json:"skips,omitempty"`
	Report            json.RawMessage `json:"report,omitempty"`
}

type Store struct {
	mu sync.Mutex
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			mode TEXT NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT,
			portfolio_size REAL NOT NULL DEFAULT 0,
			risk_percent_before REAL NOT NULL DEFAULT 0,
			risk_percent_after REAL NOT NULL DEFAULT 0,
			risk_dollar_after REAL NOT NULL DEFAULT 0,
			symbols_analyzed INTEGER NOT NULL DEFAULT 0,
			trades_made INTEGER NOT NULL DEFAULT 0,
			report_json TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
		`CREATE TABLE IF NOT EXISTS run_skips (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			reason TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_run_skips_run ON run_skips(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("journal schema: %w", err)
		}
	}
	return nil
}

// Record 以事务写入一轮运行及其跳过明细。
func (s *Store) Record(ctx context.Context, rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("journal 已关闭")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO runs
		(id, started_at, finished_at, mode, outcome, error, portfolio_size, risk_percent_before,
		 risk_percent_after, risk_dollar_after, symbols_analyzed, trades_made, report_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(), rec.Mode, rec.Outcome,
		nullString(rec.Error), rec.PortfolioSize, rec.RiskPercentBefore, rec.RiskPercentAfter,
		rec.RiskDollarAfter, rec.SymbolsAnalyzed, rec.TradesMade, nullString(string(rec.Report)))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_skips WHERE run_id = ?`, rec.ID); err != nil {
		return err
	}
	for _, sk := range rec.Skips {
		if _, err := tx.ExecContext(ctx, `INSERT INTO run_skips (run_id, symbol, reason) VALUES (?, ?, ?)`,
			rec.ID, sk.Symbol, sk.Reason); err != nil {
			return fmt.Errorf("insert skip: %w", err)
		}
	}
	return tx.Commit()
}

// Latest 返回最近开始的一轮运行。
func (s *Store) Latest(ctx context.Context) (RunRecord, error) {
	runs, err := s.Recent(ctx, 1)
	if err != nil {
		return RunRecord{}, err
	}
	if len(runs) == 0 {
		return RunRecord{}, ErrNoRuns
	}
	return runs[0], nil
}

// Recent 按开始时间倒序返回最多 limit 轮运行（含跳过明细）。
func (s *Store) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("journal 已关闭")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, started_at, finished_at, mode, outcome, error,
		portfolio_size, risk_percent_before, risk_percent_after, risk_dollar_after,
		symbols_analyzed, trades_made, report_json
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	var out []RunRecord
	for rows.Next() {
		var (
			rec               RunRecord
			started, finished int64
			errText, report   sql.NullString
		)
		if err := rows.Scan(&rec.ID, &started, &finished, &rec.Mode, &rec.Outcome, &errText,
			&rec.PortfolioSize, &rec.RiskPercentBefore, &rec.RiskPercentAfter, &rec.RiskDollarAfter,
			&rec.SymbolsAnalyzed, &rec.TradesMade, &report); err != nil {
			rows.Close()
			return nil, err
		}
		rec.StartedAt = time.UnixMilli(started)
		rec.FinishedAt = time.UnixMilli(finished)
		rec.Error = errText.String
		if report.Valid && report.String != "" {
			rec.Report = json.RawMessage(report.String)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range out {
		skips, err := s.skipsLocked(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Skips = skips
	}
	return out, nil
}

func (s *Store) skipsLocked(ctx context.Context, runID string) ([]Skip, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, reason FROM run_skips WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Skip
	for rows.Next() {
		var sk Skip
		if err := rows.Scan(&sk.Symbol, &sk.Reason); err != nil {
			return nil, err
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
