package types

import (
	"fmt"
	"strings"
	"time"
)

// Granularity 時間分桶粒度，所有計算都在 UTC 進行
type Granularity string

const (
	Second        Granularity = "SECOND"
	Minute        Granularity = "MINUTE"
	FiveMinute    Granularity = "FIVE_MINUTE"
	TenMinute     Granularity = "TEN_MINUTE"
	FifteenMinute Granularity = "FIFTEEN_MINUTE"
	ThirtyMinute  Granularity = "THIRTY_MINUTE"
	Hour          Granularity = "HOUR"
	SixHour       Granularity = "SIX_HOUR"
	Day           Granularity = "DAY"
	Week          Granularity = "WEEK"
	Month         Granularity = "MONTH"
	Year          Granularity = "YEAR"
)

// ParseGranularity 解析粒度名稱（不分大小寫）
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToUpper(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownGranularity, s)
	}
	return g, nil
}

// Valid 是否為已知粒度
func (g Granularity) Valid() bool {
	switch g {
	case Second, Minute, FiveMinute, TenMinute, FifteenMinute, ThirtyMinute,
		Hour, SixHour, Day, Week, Month, Year:
		return true
	}
	return false
}

// fixed 回傳固定長度粒度的長度；日以上粒度依日曆計算
func (g Granularity) fixed() (time.Duration, bool) {
	switch g {
	case Second:
		return time.Second, true
	case Minute:
		return time.Minute, true
	case FiveMinute:
		return 5 * time.Minute, true
	case TenMinute:
		return 10 * time.Minute, true
	case FifteenMinute:
		return 15 * time.Minute, true
	case ThirtyMinute:
		return 30 * time.Minute, true
	case Hour:
		return time.Hour, true
	case SixHour:
		return 6 * time.Hour, true
	}
	return 0, false
}

// Truncate 將時間點向下對齊到所屬桶的起點
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	if d, ok := g.fixed(); ok {
		// 所有固定粒度都整除一天，零時間對齊即等於 UTC 午夜對齊
		return t.Truncate(d)
	}

	y, m, d := t.Date()
	switch g {
	case Day:
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	case Week:
		day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		// 週一為一週的第一天
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Month:
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	case Year:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// Next 回傳從 start 起算的下一個桶起點
func (g Granularity) Next(start time.Time) time.Time {
	start = start.UTC()
	if d, ok := g.fixed(); ok {
		return start.Add(d)
	}
	switch g {
	case Day:
		return start.AddDate(0, 0, 1)
	case Week:
		return start.AddDate(0, 0, 7)
	case Month:
		return start.AddDate(0, 1, 0)
	case Year:
		return start.AddDate(1, 0, 0)
	}
	return start
}

// Bucket 回傳包含 t 的單一桶區間
func (g Granularity) Bucket(t time.Time) Interval {
	start := g.Truncate(t)
	return Interval{Start: start, End: g.Next(start)}
}

// Widen 將區間向外擴展到桶邊界，至少包含一個桶
func (g Granularity) Widen(iv Interval) Interval {
	start := g.Truncate(iv.Start)
	end := g.Truncate(iv.End)
	if end.Before(iv.End.UTC()) {
		end = g.Next(end)
	}
	if !end.After(start) {
		end = g.Next(start)
	}
	return Interval{Start: start, End: end}
}

// Aligned 區間是否恰好落在桶邊界上（可跨多個桶）
func (g Granularity) Aligned(iv Interval) bool {
	return g.Valid() && iv.End.After(iv.Start) && g.Widen(iv).Equal(iv)
}

// Buckets 計算區間涵蓋的桶數
func (g Granularity) Buckets(iv Interval) int {
	if !g.Valid() {
		return 0
	}
	n := 0
	for cur := g.Truncate(iv.Start); cur.Before(iv.End); cur = g.Next(cur) {
		n++
	}
	return n
}
