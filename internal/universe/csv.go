package universe

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoSymbolColumn 表示 CSV 表头中没有 Ticker 或 Symbol 列。
var ErrNoSymbolColumn = errors.New("csv has no Ticker/Symbol column")

// symbolColumns 依次匹配 NASDAQ-100（Ticker）与 S&P 500（Symbol）导出文件。
var symbolColumns = []string{"ticker", "symbol"}

// CSVSource 从一个或多个指数成分股导出文件读取标的。
type CSVSource struct {
	Paths []string
}

func (s CSVSource) LoadSymbols(ctx context.Context) ([]string, error) {
	if len(s.Paths) == 0 {
		return nil, fmt.Errorf("csv source has no files")
	}
	var all []string
	for _, path := range s.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		symbols, err := ReadCSV(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		all = append(all, symbols...)
	}
	return Sanitize(all), nil
}

// ReadCSV 读取带表头的 CSV，返回 Ticker/Symbol 列的值。
func ReadCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := -1
	for _, want := range symbolColumns {
		for i, name := range header {
			if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")), want) {
				col = i
				break
			}
		}
		if col >= 0 {
			break
		}
	}
	if col < 0 {
		return nil, ErrNoSymbolColumn
	}
	var out []string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if col < len(rec) {
			out = append(out, rec[col])
		}
	}
	return Sanitize(out), nil
}
