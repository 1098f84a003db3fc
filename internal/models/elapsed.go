package models

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// "0 days 00:44:03.050000" / "1 day 02:00:00"
var daysPrefix = regexp.MustCompile(`^(-?\d+)\s+days?\s+(.+)$`)

// maxElapsedSeconds 纳秒表示不溢出 int64 的最大秒数
const maxElapsedSeconds = math.MaxInt64 / 1e9

// ParseElapsed 把时间戳字段解析为秒
// 支持: 纯数字秒 "2643.05"、时钟格式 "00:44:03.05" / "44:03.05"、
// 带天数的 timedelta 字符串 "0 days 00:44:03.050000"、Go duration "44m3.05s"
// 非有限值或超出纳秒范围的值返回错误
func ParseElapsed(s string) (float64, error) {
	v, err := parseElapsed(s)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) >= maxElapsedSeconds {
		return 0, fmt.Errorf("timestamp %q out of range", strings.TrimSpace(s))
	}
	return v, nil
}

func parseElapsed(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}

	days := 0.0
	if m := daysPrefix.FindStringSubmatch(s); m != nil {
		d, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, err
		}
		days = d
		s = strings.TrimSpace(m[2])
	}

	if strings.Contains(s, ":") {
		clock, err := parseClock(s)
		if err != nil {
			return 0, err
		}
		return days*86400 + clock, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return days*86400 + d.Seconds(), nil
	}

	return 0, fmt.Errorf("unrecognized timestamp %q", s)
}

// parseClock 解析 [hh:]mm:ss[.frac]
func parseClock(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("bad clock value %q", s)
	}

	total := 0.0
	for _, p := range parts[:len(parts)-1] {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("bad clock value %q", s)
		}
		total = total*60 + float64(n)
	}

	sec, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil || sec < 0 || sec >= 60 {
		return 0, fmt.Errorf("bad clock value %q", s)
	}
	return total*60 + sec, nil
}
