package snapshot

// ============================================================================
// 職責說明：
// 1. 將所有 beam 紀錄序列化為單一 JSON 快照檔
// 2. 使用原子性寫入（唯一 temp file + rename）防止損壞
// 3. 載入時驗證 schema 版本相容性
// 4. 以 Put/Get/List 實作 storage.BeamStore
// 5. 以檔案鎖（<path>.lock）串行化跨行程的讀取-修改-寫回
// ============================================================================

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChuLiYu/beam-orchestrator/internal/storage"
	"github.com/gofrs/flock"
)

var log = slog.Default()

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrCorruptedSnapshot   = errors.New("snapshot file is corrupted")
	ErrIncompatibleVersion = errors.New("snapshot schema version is incompatible")
)

// SchemaVersion 目前的快照格式版本
const SchemaVersion = 1

// lockRetryDelay 等待其他行程釋放檔案鎖時的重試間隔
const lockRetryDelay = 10 * time.Millisecond

// ============================================================================
// 資料結構定義
// ============================================================================

// Data 快照內容
type Data struct {
	SchemaVer int                        `json:"schema_version"`
	Beams     map[string]json.RawMessage `json:"beams"` // key -> beam 紀錄
}

// Manager 快照管理器
//
// mu 保護同一行程內的呼叫端；fileLock 保護共用同一路徑的其他行程
// （例如兩個同時執行的 beamctl create）。
type Manager struct {
	path     string       // 快照檔案路徑
	mu       sync.Mutex   // 保護檔案操作
	fileLock *flock.Flock // 跨行程鎖
}

var _ storage.BeamStore = (*Manager)(nil)

// NewManager 建立快照管理器實例
func NewManager(path string) *Manager {
	return &Manager{
		path:     path,
		fileLock: flock.New(path + ".lock"),
	}
}

// ============================================================================
// 核心方法實作
// ============================================================================

// Write 原子性寫入快照，覆蓋現有內容
func (m *Manager) Write(ctx context.Context, data Data) error {
	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return m.write(data)
}

func (m *Manager) write(data Data) error {
	data.SchemaVer = SchemaVersion
	if data.Beams == nil {
		data.Beams = make(map[string]json.RawMessage)
	}

	// 帶縮排，方便人工閱讀與除錯
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// 1. 寫入同目錄下的唯一臨時檔案（rename 必須在同一檔案系統）
	tmp, err := os.CreateTemp(filepath.Dir(m.path), filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(jsonBytes); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temp snapshot: %w", err)
	}

	// 2. 原子性重新命名
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}

	return nil
}

// lock 先取得行程內的 mutex，再取得跨行程的檔案鎖
func (m *Manager) lock(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()

	locked, err := m.fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		m.mu.Unlock()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("failed to lock snapshot %s: %w", m.path, err)
	}

	return func() {
		if err := m.fileLock.Unlock(); err != nil {
			log.Warn("Failed to release snapshot lock", "path", m.path, "error", err)
		}
		m.mu.Unlock()
	}, nil
}

// Load 載入快照
//
// 行為：
//   - 如果檔案不存在，回傳空的 Data（首次啟動）
//   - 驗證 schema 版本是否相容
//   - 偵測損壞的快照檔案
func (m *Manager) Load(ctx context.Context) (Data, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return Data{}, err
	}
	defer unlock()
	return m.load()
}

func (m *Manager) load() (Data, error) {
	var data Data

	jsonBytes, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Data{
				SchemaVer: SchemaVersion,
				Beams:     make(map[string]json.RawMessage),
			}, nil
		}
		return data, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, &data); err != nil {
		return data, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}

	if data.SchemaVer != SchemaVersion {
		return data, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, data.SchemaVer, SchemaVersion)
	}

	if data.Beams == nil {
		data.Beams = make(map[string]json.RawMessage)
	}

	return data, nil
}

// ============================================================================
// storage.BeamStore
// ============================================================================

// Put 讀取、修改、寫回；整個過程持有行程內與跨行程的鎖
func (m *Manager) Put(ctx context.Context, key string, record json.RawMessage) error {
	if !json.Valid(record) {
		return fmt.Errorf("record for %s is not valid JSON", key)
	}

	unlock, err := m.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	data, err := m.load()
	if err != nil {
		return err
	}
	data.Beams[key] = append(json.RawMessage(nil), record...)
	return m.write(data)
}

// Get 取得單一紀錄
func (m *Manager) Get(ctx context.Context, key string) (json.RawMessage, error) {
	data, err := m.Load(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := data.Beams[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return rec, nil
}

// List 取得所有紀錄
func (m *Manager) List(ctx context.Context) (map[string]json.RawMessage, error) {
	data, err := m.Load(ctx)
	if err != nil {
		return nil, err
	}
	return data.Beams, nil
}

// Close 釋放檔案鎖的 file descriptor
func (m *Manager) Close() error {
	return m.fileLock.Close()
}
