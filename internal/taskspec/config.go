package taskspec

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ChuLiYu/beam-orchestrator/pkg/types"
)

// ErrInvalidConfig 組態缺少必要欄位或數值不合法
var ErrInvalidConfig = errors.New("invalid task config")

// Tuning 任務調校參數，除了 Replicants 與 MaxSegmentsPerBeam 外都原樣傳入任務規格
type Tuning struct {
	MaxRowsInMemory           int           // 記憶體中最多保留的列數
	IntermediatePersistPeriod time.Duration // 中間持久化週期
	MaxPendingPersists        int           // 等待中的持久化上限
	Replicants                int           // 每個 beam 的副本數
	MaxSegmentsPerBeam        int           // 一個 beam 最多涵蓋的 segment 數
	FirehoseBufferSize        int           // 接收端緩衝大小
}

// DefaultTuning 預設調校參數
func DefaultTuning() Tuning {
	return Tuning{
		MaxRowsInMemory:           75000,
		IntermediatePersistPeriod: 10 * time.Minute,
		MaxPendingPersists:        0,
		Replicants:                1,
		MaxSegmentsPerBeam:        1,
		FirehoseBufferSize:        100000,
	}
}

// Schema 輸入解析、聚合與查詢粒度，本套件不解讀內容，只負責放入任務規格
type Schema struct {
	Parser           json.RawMessage
	MetricsSpec      json.RawMessage
	QueryGranularity string
}

// Config 建立任務規格所需的靜態組態，由呼叫端在啟動時提供
type Config struct {
	Location           types.Location
	SegmentGranularity types.Granularity
	WindowPeriod       time.Duration // 容許事件遲到的時間
	GracePeriod        time.Duration // 額外容許端點註冊延遲的時間
	Tuning             Tuning
	Schema             Schema
	RandomizeTaskID    bool // 只用於測試：允許相同參數重複提交
}

// Validate 檢查組態
func (c Config) Validate() error {
	if c.Location.DataSource == "" {
		return fmt.Errorf("%w: data source is required", ErrInvalidConfig)
	}
	if !c.SegmentGranularity.Valid() {
		return fmt.Errorf("%w: segment granularity %q", ErrInvalidConfig, c.SegmentGranularity)
	}
	if c.WindowPeriod < 0 || c.GracePeriod < 0 {
		return fmt.Errorf("%w: window and grace periods must not be negative", ErrInvalidConfig)
	}
	if c.Tuning.Replicants < 1 {
		return fmt.Errorf("%w: replicants must be at least 1, got %d", ErrInvalidConfig, c.Tuning.Replicants)
	}
	if c.Tuning.MaxSegmentsPerBeam < 1 {
		return fmt.Errorf("%w: max segments per beam must be at least 1, got %d", ErrInvalidConfig, c.Tuning.MaxSegmentsPerBeam)
	}
	if len(c.Schema.Parser) > 0 && !json.Valid(c.Schema.Parser) {
		return fmt.Errorf("%w: parser is not valid JSON", ErrInvalidConfig)
	}
	if len(c.Schema.MetricsSpec) > 0 && !json.Valid(c.Schema.MetricsSpec) {
		return fmt.Errorf("%w: metrics spec is not valid JSON", ErrInvalidConfig)
	}
	return nil
}
