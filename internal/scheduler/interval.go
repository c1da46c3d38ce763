package scheduler

import (
	"strconv"
	"strings"
	"time"
)

// ParseInterval 解析 "30s"、"1m"、"5h"、"1d"、"1w"，其余写法交给 time.ParseDuration。
func ParseInterval(raw string) (time.Duration, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if len(s) < 2 {
		return 0, false
	}
	unit := s[len(s)-1]
	if n, err := strconv.Atoi(s[:len(s)-1]); err == nil {
		if n <= 0 {
			return 0, false
		}
		switch unit {
		case 'd':
			return time.Duration(n) * 24 * time.Hour, true
		case 'w':
			return time.Duration(n) * 7 * 24 * time.Hour, true
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
