package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ChuLiYu/beam-orchestrator/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const record = `{"interval":"2024-01-01T05:00:00.000Z/2024-01-01T06:00:00.000Z","partition":2,"tasks":[{"id":"T0","firehoseId":"events-05-0002-0000"}]}`

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beams", "beams.db")
	s, err := NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestPutGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", json.RawMessage(record)))

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.JSONEq(t, record, string(got))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPutUpserts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	s.now = func() time.Time { return time.Unix(100, 0) }

	require.NoError(t, s.Put(ctx, "k1", json.RawMessage(`{"partition":0}`)))
	s.now = func() time.Time { return time.Unix(200, 0) }
	require.NoError(t, s.Put(ctx, "k1", json.RawMessage(record)))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.JSONEq(t, record, string(all["k1"]))

	var updated int64
	require.NoError(t, s.db.QueryRow(`SELECT updated_at_utc_ns FROM beams WHERE key='k1'`).Scan(&updated))
	assert.Equal(t, time.Unix(200, 0).UnixNano(), updated)
}

func TestPutRejectsInvalidJSON(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Error(t, s.Put(context.Background(), "k1", json.RawMessage(`{`)))
}

func TestReopenKeepsRecords(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k1", json.RawMessage(record)))
	require.NoError(t, s.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	all, err := reopened.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestConcurrentPuts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Put(ctx, fmt.Sprintf("k%d", i), json.RawMessage(record)))
		}(i)
	}
	wg.Wait()

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}
