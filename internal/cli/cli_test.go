package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ChuLiYu/beam-orchestrator/internal/overlord"
	"github.com/ChuLiYu/beam-orchestrator/internal/snapshot"
	"github.com/ChuLiYu/beam-orchestrator/internal/storage/sqlite"
	"github.com/ChuLiYu/beam-orchestrator/internal/taskspec"
	"github.com/ChuLiYu/beam-orchestrator/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const testConfigYAML = `
beam:
  index_service: overlord
  data_source: events
  segment_granularity: hour
  query_granularity: minute
  window_period: 10m
  grace_period: 5m
  replicants: 2
  parser:
    type: string
    parseSpec:
      format: json
  metrics_spec:
    - type: count
      name: rows

overlord:
  address: "localhost:6000"
  submit_timeout: 5s
  reap_interval: 1s

store:
  driver: snapshot
  path: "./data/beams.json"

metrics:
  enabled: false
  port: 9100
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestTaskConfig(t *testing.T) taskspec.Config {
	t.Helper()
	cfg, err := loadConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)
	tc, err := cfg.TaskConfig()
	require.NoError(t, err)
	return tc
}

// ============================================================================
// Commands
// ============================================================================

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.Equal(t, "beamctl", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
		assert.NotNil(t, c.RunE, "%s should have RunE", c.Name())
	}
	for _, want := range []string{"token", "create", "inspect", "status", "complete", "fail", "serve"} {
		assert.True(t, names[want], "should have %q command", want)
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)
}

func TestBuildCreateCommandFlags(t *testing.T) {
	cmd := buildCreateCommand()
	for _, name := range []string{"interval", "timestamp", "partition", "overlord"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "should have --%s", name)
	}
}

func TestBuildFailCommandFlags(t *testing.T) {
	cmd := buildFailCommand()
	reason := cmd.Flags().Lookup("reason")
	require.NotNil(t, reason)
	assert.Equal(t, []string{"true"}, reason.Annotations[cobra.BashCompOneRequiredFlag])
	assert.NotNil(t, cmd.Flags().Lookup("overlord"))
}

func TestTokenCommand(t *testing.T) {
	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "-c", writeConfig(t, testConfigYAML),
		"--timestamp", "2024-01-01T05:17:00Z", "--partition", "2"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "token: events-05-0002\nendpoint[0]: events-05-0002-0000\nendpoint[1]: events-05-0002-0001\n", out.String())
}

func TestPrintTokensErrors(t *testing.T) {
	tc := newTestTaskConfig(t)
	var out bytes.Buffer

	assert.Error(t, printTokens(&out, tc, "yesterday", 0))

	tc.SegmentGranularity = types.Week
	assert.Error(t, printTokens(&out, tc, "2024-01-01T05:00:00Z", 0))
}

// ============================================================================
// Config
// ============================================================================

func TestLoadConfig_ValidYAML(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "events", cfg.Beam.DataSource)
	assert.Equal(t, 10*time.Minute, cfg.Beam.WindowPeriod)
	assert.Equal(t, 2, cfg.Beam.Replicants)
	assert.Equal(t, "localhost:6000", cfg.Overlord.Address)
	assert.Equal(t, 5*time.Second, cfg.Overlord.SubmitTimeout)
	assert.Equal(t, StoreSnapshot, cfg.Store.Driver)
	assert.Equal(t, 9100, cfg.Metrics.Port)

	// 未設定的欄位沿用預設值
	assert.Equal(t, 75000, cfg.Beam.MaxRowsInMemory)
	assert.Equal(t, 1, cfg.Beam.MaxSegmentsPerBeam)
	assert.Equal(t, 50051, cfg.Overlord.Port)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("BEAM_BEAM_REPLICANTS", "3")
	t.Setenv("BEAM_BEAM_DATA_SOURCE", "clicks")
	t.Setenv("BEAM_OVERLORD_ADDRESS", "overlord:7000")
	t.Setenv("BEAM_STORE_DRIVER", "sqlite")
	t.Setenv("BEAM_METRICS_ENABLED", "true")

	cfg, err := loadConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Beam.Replicants)
	assert.Equal(t, "clicks", cfg.Beam.DataSource)
	assert.Equal(t, "overlord:7000", cfg.Overlord.Address)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := loadConfig("/nonexistent/config.yaml")
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = loadConfig(writeConfig(t, "beam:\n  replicants: [1\n"))
	assert.ErrorContains(t, err, "failed to parse config YAML")

	t.Setenv("BEAM_BEAM_REPLICANTS", "many")
	_, err = loadConfig(writeConfig(t, testConfigYAML))
	assert.ErrorContains(t, err, "failed to parse config env")
}

func TestTaskConfig(t *testing.T) {
	tc := newTestTaskConfig(t)

	assert.Equal(t, types.Hour, tc.SegmentGranularity)
	assert.Equal(t, "events", tc.Location.DataSource)
	assert.Equal(t, 2, tc.Tuning.Replicants)
	assert.Equal(t, 5*time.Minute, tc.GracePeriod)
	assert.Equal(t, "minute", tc.Schema.QueryGranularity)
	assert.JSONEq(t, `{"type":"string","parseSpec":{"format":"json"}}`, string(tc.Schema.Parser))
	assert.JSONEq(t, `[{"type":"count","name":"rows"}]`, string(tc.Schema.MetricsSpec))
}

func TestTaskConfigInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"Unknown granularity", func(c *Config) { c.Beam.SegmentGranularity = "fortnight" }},
		{"Missing data source", func(c *Config) { c.Beam.DataSource = "" }},
		{"No replicants", func(c *Config) { c.Beam.Replicants = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeConfig(t, testConfigYAML))
			require.NoError(t, err)
			tt.mutate(cfg)

			_, err = cfg.TaskConfig()
			assert.ErrorIs(t, err, taskspec.ErrInvalidConfig)
		})
	}
}

func TestOpenStore(t *testing.T) {
	cfg := defaultConfig()
	dir := t.TempDir()

	cfg.Store.Path = filepath.Join(dir, "nested", "beams.json")
	store, err := cfg.OpenStore()
	require.NoError(t, err)
	assert.IsType(t, &snapshot.Manager{}, store)
	require.NoError(t, store.Close())

	cfg.Store.Driver = StoreSQLite
	cfg.Store.Path = filepath.Join(dir, "beams.db")
	store, err = cfg.OpenStore()
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, store)
	require.NoError(t, store.Close())

	cfg.Store.Driver = "etcd"
	_, err = cfg.OpenStore()
	assert.Error(t, err)
}

// ============================================================================
// create / inspect
// ============================================================================

func TestResolveInterval(t *testing.T) {
	tc := newTestTaskConfig(t)

	iv, err := resolveInterval(tc, "", "2024-01-01T05:17:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T05:00:00.000Z/2024-01-01T06:00:00.000Z", iv.String())

	iv, err = resolveInterval(tc, "2024-01-01T05:00:00Z/2024-01-01T06:00:00Z", "")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, iv.Duration())

	_, err = resolveInterval(tc, "", "")
	assert.Error(t, err)
	_, err = resolveInterval(tc, "", "noon")
	assert.Error(t, err)
}

func TestCreateAndInspect(t *testing.T) {
	tc := newTestTaskConfig(t)
	store := snapshot.NewManager(filepath.Join(t.TempDir(), "beams.json"))
	registry := overlord.NewRegistry()
	ctx := context.Background()

	iv, err := resolveInterval(tc, "", "2024-01-01T05:17:00Z")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, createBeam(ctx, &out, tc, registry, store, nil, iv, 2))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &rec))
	assert.Equal(t, "2024-01-01T05:00:00.000Z", rec["timestamp"])
	assert.Len(t, rec["tasks"], 2)
	assert.Equal(t, 2, registry.Stats()["running"])

	// 舊格式紀錄也能讀回
	legacy := `{"timestamp":"2024-01-01T04:00:00.000Z","partition":0,"taskId":"T9","firehoseId":"events-04-0000-0000"}`
	require.NoError(t, store.Put(ctx, "legacy", json.RawMessage(legacy)))

	out.Reset()
	require.NoError(t, inspectBeams(ctx, &out, tc, store, nil))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "partition=2")
	assert.Contains(t, lines[0], "events-05-0002-0001")
	assert.Contains(t, lines[1], "T9@events-04-0000-0000")
}

func TestCreateBeamSubmissionFailureIsNotPersisted(t *testing.T) {
	tc := newTestTaskConfig(t)
	store := snapshot.NewManager(filepath.Join(t.TempDir(), "beams.json"))
	registry := overlord.NewRegistry()
	ctx := context.Background()
	iv, err := resolveInterval(tc, "", "2024-01-01T05:17:00Z")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, createBeam(ctx, &out, tc, registry, store, nil, iv, 0))

	// 相同任務 ID 再次提交會被拒絕
	out.Reset()
	err = createBeam(ctx, &out, tc, registry, store, nil, iv, 0)
	assert.ErrorIs(t, err, overlord.ErrDuplicateTask)
	assert.Empty(t, out.String())

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestInspectReportsUndecodableRecords(t *testing.T) {
	tc := newTestTaskConfig(t)
	store := snapshot.NewManager(filepath.Join(t.TempDir(), "beams.json"))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "bad", json.RawMessage(`{"partition":0}`)))
	require.NoError(t, store.Put(ctx, "misaligned", json.RawMessage(
		`{"interval":"2024-01-01T05:30:00Z/2024-01-01T06:30:00Z","partition":0,"tasks":[{"id":"T","firehoseId":"F"}]}`)))

	var out bytes.Buffer
	err := inspectBeams(ctx, &out, tc, store, nil)
	assert.ErrorContains(t, err, "2 of 2 records")
	assert.Contains(t, out.String(), "bad: malformed")
	assert.Contains(t, out.String(), "misaligned: ")
}

func TestCreateAndInspectRecordMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg

	var pushedPath string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushedPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	cfg, err := loadConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)
	cfg.Metrics.Enabled = true
	cfg.Metrics.PushGateway = gateway.URL
	tc, err := cfg.TaskConfig()
	require.NoError(t, err)

	collector := cfg.NewCollector()
	require.NotNil(t, collector)
	store := snapshot.NewManager(filepath.Join(t.TempDir(), "beams.json"))
	ctx := context.Background()
	iv, err := resolveInterval(tc, "", "2024-01-01T05:17:00Z")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, createBeam(ctx, &out, tc, overlord.NewRegistry(), store, collector, iv, 0))
	require.NoError(t, inspectBeams(ctx, &out, tc, store, collector))

	expected := `
# HELP beam_beams_created_total Total number of beams created
# TYPE beam_beams_created_total counter
beam_beams_created_total 1
# HELP beam_records_decoded_total Total number of persisted beam records decoded, by record shape
# TYPE beam_records_decoded_total counter
beam_records_decoded_total{shape="current"} 1
# HELP beam_task_submissions_total Total number of tasks accepted by the task-execution service
# TYPE beam_task_submissions_total counter
beam_task_submissions_total 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"beam_beams_created_total", "beam_records_decoded_total", "beam_task_submissions_total"))

	pushMetrics(ctx, cfg, collector)
	assert.Equal(t, "/metrics/job/beamctl", pushedPath)
}

func TestNewCollectorDisabled(t *testing.T) {
	cfg := defaultConfig()
	assert.Nil(t, cfg.NewCollector())

	// 未啟用時 push 是 no-op
	pushMetrics(context.Background(), cfg, nil)
}

// ============================================================================
// serve
// ============================================================================

func TestServeEndToEnd(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, testConfigYAML))
	require.NoError(t, err)
	cfg.Store.Path = filepath.Join(t.TempDir(), "beams.json")
	tc, err := cfg.TaskConfig()
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, lis) }()

	conn, err := overlord.Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	defer conn.Close()
	client := overlord.NewClient(conn)

	store, err := cfg.OpenStore()
	require.NoError(t, err)
	defer store.Close()

	callCtx, callCancel := context.WithTimeout(ctx, 5*time.Second)
	defer callCancel()

	iv, err := resolveInterval(tc, "", "2024-01-01T05:00:00Z")
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, createBeam(callCtx, &out, tc, client, store, nil, iv, 1))

	out.Reset()
	err = printStatuses(callCtx, &out, client, []string{
		"index_realtime_events_2024-01-01T05:00:00.000Z_1_0",
		"missing",
	})
	assert.ErrorIs(t, err, overlord.ErrTaskNotFound)
	assert.Contains(t, out.String(), "index_realtime_events_2024-01-01T05:00:00.000Z_1_0\tRUNNING")
	assert.Contains(t, out.String(), "missing\tERROR")

	// 回報任務結果後，狀態與失敗原因都可查詢
	out.Reset()
	require.NoError(t, completeTasks(callCtx, &out, client, []string{"index_realtime_events_2024-01-01T05:00:00.000Z_1_0"}))
	assert.Equal(t, "index_realtime_events_2024-01-01T05:00:00.000Z_1_0\tSUCCESS\n", out.String())

	_, err = client.Fail(callCtx, "index_realtime_events_2024-01-01T05:00:00.000Z_1_1", "peon lost")
	require.NoError(t, err)

	out.Reset()
	err = completeTasks(callCtx, &out, client, []string{"index_realtime_events_2024-01-01T05:00:00.000Z_1_1"})
	assert.ErrorIs(t, err, overlord.ErrNotRunning)

	out.Reset()
	require.NoError(t, printStatuses(callCtx, &out, client, []string{"index_realtime_events_2024-01-01T05:00:00.000Z_1_1"}))
	assert.Equal(t, "index_realtime_events_2024-01-01T05:00:00.000Z_1_1\tFAILED\tpeon lost\n", out.String())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
