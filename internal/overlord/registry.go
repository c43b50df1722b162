// ============================================================================
// Beam Orchestrator 任務登記表 - overlord 端的任務狀態機
// ============================================================================
//
// Package: internal/overlord
// 文件: registry.go
// 功能: 記錄已提交的即時任務，並管理其生命週期
//
// 任務狀態轉換:
//   RUNNING (執行中)
//      ↓ Complete() 或 Reap() (firehose 已關閉，segment 交接)
//   SUCCESS (已完成)
//
//   RUNNING
//      ↓ Fail()
//   FAILED (失敗)
//
// 數據結構:
//   tasks map[string]*Entry - 主存儲，作為單一真實來源
//   running map            - 執行中任務索引，Reap() 只需掃描這裡
//
// 重複提交:
//   任務 ID 由 (dataSource, interval, partition, replicant) 決定。
//   同一組參數重複提交一律拒絕 (ErrDuplicateTask)，呼叫端需自行處理。
//
// 並發安全:
//   - sync.RWMutex 保護所有數據結構
//   - 讀操作使用 RLock，寫操作使用 Lock
//
// ============================================================================

package overlord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/beam-orchestrator/internal/taskspec"
)

var log = slog.Default()

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 任務 ID 重複
	ErrDuplicateTask = errors.New("task already exists")
	// 任務規格不完整
	ErrInvalidTask = errors.New("invalid task")
	// 任務不存在
	ErrTaskNotFound = errors.New("task not found")
	// 任務已經結束，不能再改變狀態
	ErrNotRunning = errors.New("task not running")
)

// Status 任務狀態
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Entry 登記表中的一筆任務
type Entry struct {
	Task      *taskspec.Task `json:"task"`
	Status    Status         `json:"status"`
	Error     string         `json:"error,omitempty"` // 失敗原因
	CreatedAt int64          `json:"created_at"`      // 毫秒
	UpdatedAt int64          `json:"updated_at"`      // 毫秒
}

// Registry 代表 overlord 的任務登記表
type Registry struct {
	mu      sync.RWMutex
	tasks   map[string]*Entry
	running map[string]*Entry
	now     func() time.Time
}

// NewRegistry 建立空的任務登記表
func NewRegistry() *Registry {
	return &Registry{
		tasks:   make(map[string]*Entry),
		running: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Submit 登記一個新任務並回傳其 ID，滿足 beam.Submitter
//
// 錯誤處理：
//   - ErrInvalidTask: 缺少 ID 或類型
//   - ErrDuplicateTask: 任務 ID 已存在
func (r *Registry) Submit(ctx context.Context, task *taskspec.Task) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if task == nil || task.ID == "" {
		return "", fmt.Errorf("%w: missing id", ErrInvalidTask)
	}
	if task.Type != taskspec.TaskType {
		return "", fmt.Errorf("%w: unsupported type %q", ErrInvalidTask, task.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}

	now := r.now().UnixMilli()
	entry := &Entry{
		Task:      task,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.tasks[task.ID] = entry
	r.running[task.ID] = entry

	log.Info("Task registered", "taskID", task.ID, "firehose", task.FirehoseID())
	return task.ID, nil
}

// Complete 將執行中的任務標記為成功
func (r *Registry) Complete(id string) error {
	return r.finish(id, StatusSuccess, "")
}

// Fail 將執行中的任務標記為失敗
func (r *Registry) Fail(id string, reason string) error {
	return r.finish(id, StatusFailed, reason)
}

func (r *Registry) finish(id string, status Status, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.tasks[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if entry.Status != StatusRunning {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, id, entry.Status)
	}

	entry.Status = status
	entry.Error = reason
	entry.UpdatedAt = r.now().UnixMilli()
	delete(r.running, id)

	log.Info("Task finished", "taskID", id, "status", status)
	return nil
}

// Reap 將 firehose 已關閉的執行中任務標記為成功，回傳被處理的任務 ID（已排序）
func (r *Registry) Reap(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []string
	for id, entry := range r.running {
		shutoff, ok := entry.Task.Shutoff()
		if !ok || now.Before(shutoff) {
			continue
		}
		entry.Status = StatusSuccess
		entry.UpdatedAt = now.UnixMilli()
		delete(r.running, id)
		reaped = append(reaped, id)
	}
	sort.Strings(reaped)

	if len(reaped) > 0 {
		log.Info("Tasks handed off", "count", len(reaped))
	}
	return reaped
}

// Status 查詢任務狀態
func (r *Registry) Status(id string) (Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.tasks[id]
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return entry.Status, nil
}

// Get 取得任務的副本，不存在時回傳 nil
func (r *Registry) Get(id string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.tasks[id]
	if !exists {
		return nil
	}
	cp := *entry
	return &cp
}

// Stats 各狀態的任務數量
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := map[string]int{
		"running": len(r.running),
		"success": 0,
		"failed":  0,
	}
	for _, entry := range r.tasks {
		switch entry.Status {
		case StatusSuccess:
			stats["success"]++
		case StatusFailed:
			stats["failed"]++
		}
	}
	return stats
}
