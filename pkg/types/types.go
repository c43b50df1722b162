// Package types 定義了 beam orchestrator 系統中使用的核心領域模型
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidInterval 區間字串格式錯誤，或 end 不晚於 start
	ErrInvalidInterval = errors.New("invalid interval")
	// ErrUnknownGranularity 不認識的時間粒度名稱
	ErrUnknownGranularity = errors.New("unknown granularity")
)

// isoLayout 毫秒精度的 ISO-8601 時間格式，UTC 輸出為 "Z"
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// Interval 半開時間區間 [Start, End)
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval 建立區間，兩端一律轉為 UTC
func NewInterval(start, end time.Time) Interval {
	return Interval{Start: start.UTC(), End: end.UTC()}
}

// ParseInterval 解析 "start/end" 形式的 ISO-8601 區間
func ParseInterval(s string) (Interval, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "/", 2)
	if len(parts) != 2 {
		return Interval{}, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	start, err := ParseTime(parts[0])
	if err != nil {
		return Interval{}, fmt.Errorf("%w: start: %v", ErrInvalidInterval, err)
	}
	end, err := ParseTime(parts[1])
	if err != nil {
		return Interval{}, fmt.Errorf("%w: end: %v", ErrInvalidInterval, err)
	}
	if !end.After(start) {
		return Interval{}, fmt.Errorf("%w: %q ends before it starts", ErrInvalidInterval, s)
	}
	return Interval{Start: start, End: end}, nil
}

// ParseTime 解析 ISO-8601 時間點並轉為 UTC
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// FormatTime 以毫秒精度輸出 UTC 時間
func FormatTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// String 輸出 "start/end"
func (iv Interval) String() string {
	return FormatTime(iv.Start) + "/" + FormatTime(iv.End)
}

// Equal 比較兩個區間的起訖時間點（忽略時區表示）
func (iv Interval) Equal(other Interval) bool {
	return iv.Start.Equal(other.Start) && iv.End.Equal(other.End)
}

// Contains 判斷時間點是否落在區間內
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Duration 區間長度
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// TaskPointer 指向一個已提交的任務，以及事件送達該任務所用的 firehose 端點
type TaskPointer struct {
	ID         string `json:"id"`         // 任務 ID（由 task-execution service 回傳）
	FirehoseID string `json:"firehoseId"` // 接收事件的端點 ID
}

// Location 任務提交的目的地
type Location struct {
	IndexService string `json:"indexService" yaml:"index_service"` // task-execution service 名稱
	DataSource   string `json:"dataSource" yaml:"data_source"`     // 資料來源，同時作為 stream name
}
