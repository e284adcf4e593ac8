package market

import (
	"fmt"
	"strings"
	"time"
)

// Interval 表示K线周期。
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
	// Interval1w 仅用于高周期可选对齐。
	Interval1w Interval = "1w"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval1h:  time.Hour,
	Interval4h:  4 * time.Hour,
	Interval1d:  24 * time.Hour,
	Interval1w:  7 * 24 * time.Hour,
}

// ParseInterval 解析周期字符串，未知周期返回 ErrInvalidParameter。
func ParseInterval(s string) (Interval, error) {
	iv := Interval(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := intervalDurations[iv]; !ok {
		return "", fmt.Errorf("market: 未知周期 %q: %w", s, ErrInvalidParameter)
	}
	return iv, nil
}

// Valid 判断周期是否受支持。
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// Duration 返回单根K线覆盖的时长，未知周期返回0。
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// CandlesFor 计算覆盖 lookbackHours 所需的K线数量，至少为1。
func (i Interval) CandlesFor(lookbackHours int) int {
	d := i.Duration()
	if d <= 0 || lookbackHours <= 0 {
		return 1
	}
	n := int(time.Duration(lookbackHours) * time.Hour / d)
	if n < 1 {
		n = 1
	}
	return n
}

func (i Interval) String() string {
	return string(i)
}
