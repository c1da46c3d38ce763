package market

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Session 描述交易所的常规交易时段（工作日，本地时间）。
type Session struct {
	Location *time.Location
	OpenAt   time.Duration
	CloseAt  time.Duration
}

// NewYorkSession 返回 09:30–16:00 America/New_York 的美股常规时段。
func NewYorkSession() (Session, error) {
	return NewSession("America/New_York", "09:30", "16:00")
}

// NewSession 解析时区与 HH:MM 格式的开收盘时间。
func NewSession(tz, open, close string) (Session, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Session{}, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	o, err := parseClock(open)
	if err != nil {
		return Session{}, err
	}
	c, err := parseClock(close)
	if err != nil {
		return Session{}, err
	}
	if c <= o {
		return Session{}, fmt.Errorf("session close %s must be after open %s", close, open)
	}
	return Session{Location: loc, OpenAt: o, CloseAt: c}, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// IsOpen 报告 t 是否处于交易时段内（含开盘，不含收盘）。
func (s Session) IsOpen(t time.Time) bool {
	if s.Location == nil {
		return false
	}
	local := t.In(s.Location)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.Location)
	offset := local.Sub(midnight)
	return offset >= s.OpenAt && offset < s.CloseAt
}
