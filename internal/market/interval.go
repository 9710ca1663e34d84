package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var intervalUnits = map[byte]time.Duration{
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseInterval reads a kline interval such as 1m, 15m, 4h, 1d or 1w.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	unit, ok := intervalUnits[s[len(s)-1]]
	if !ok {
		return 0, fmt.Errorf("invalid interval %q: unknown unit", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q: count must be a positive integer", s)
	}
	return time.Duration(n) * unit, nil
}

// CloseAt is when the candle stops accepting trades. CloseTime wins when the
// source reports one.
func (c Candle) CloseAt(step time.Duration) time.Time {
	if c.CloseTime > 0 {
		return time.UnixMilli(c.CloseTime + 1)
	}
	return time.UnixMilli(c.OpenTime).Add(step)
}
