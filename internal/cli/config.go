package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ChuLiYu/beam-orchestrator/internal/metrics"
	"github.com/ChuLiYu/beam-orchestrator/internal/snapshot"
	"github.com/ChuLiYu/beam-orchestrator/internal/storage"
	"github.com/ChuLiYu/beam-orchestrator/internal/storage/sqlite"
	"github.com/ChuLiYu/beam-orchestrator/internal/taskspec"
	"github.com/ChuLiYu/beam-orchestrator/pkg/types"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	StoreSnapshot = "snapshot"
	StoreSQLite   = "sqlite"
)

// envPrefix 所有環境變數覆寫都以此開頭，例如 BEAM_BEAM_REPLICANTS
const envPrefix = "BEAM_"

// Config represents the complete beamctl configuration.
// File values come from YAML; BEAM_* environment variables override them.
type Config struct {
	Beam struct {
		IndexService              string         `yaml:"index_service" env:"INDEX_SERVICE"`
		DataSource                string         `yaml:"data_source" env:"DATA_SOURCE"`
		SegmentGranularity        string         `yaml:"segment_granularity" env:"SEGMENT_GRANULARITY"`
		QueryGranularity          string         `yaml:"query_granularity" env:"QUERY_GRANULARITY"`
		WindowPeriod              time.Duration  `yaml:"window_period" env:"WINDOW_PERIOD"`
		GracePeriod               time.Duration  `yaml:"grace_period" env:"GRACE_PERIOD"`
		Replicants                int            `yaml:"replicants" env:"REPLICANTS"`
		MaxSegmentsPerBeam        int            `yaml:"max_segments_per_beam" env:"MAX_SEGMENTS_PER_BEAM"`
		MaxRowsInMemory           int            `yaml:"max_rows_in_memory" env:"MAX_ROWS_IN_MEMORY"`
		IntermediatePersistPeriod time.Duration  `yaml:"intermediate_persist_period" env:"INTERMEDIATE_PERSIST_PERIOD"`
		MaxPendingPersists        int            `yaml:"max_pending_persists" env:"MAX_PENDING_PERSISTS"`
		FirehoseBufferSize        int            `yaml:"firehose_buffer_size" env:"FIREHOSE_BUFFER_SIZE"`
		RandomizeTaskID           bool           `yaml:"randomize_task_id" env:"RANDOMIZE_TASK_ID"`
		Parser                    map[string]any `yaml:"parser"`
		MetricsSpec               []any          `yaml:"metrics_spec"`
	} `yaml:"beam" envPrefix:"BEAM_"`

	Overlord struct {
		Address       string        `yaml:"address" env:"ADDRESS"`
		Port          int           `yaml:"port" env:"PORT"`
		SubmitTimeout time.Duration `yaml:"submit_timeout" env:"SUBMIT_TIMEOUT"`
		ReapInterval  time.Duration `yaml:"reap_interval" env:"REAP_INTERVAL"`
	} `yaml:"overlord" envPrefix:"OVERLORD_"`

	Store struct {
		Driver string `yaml:"driver" env:"DRIVER"`
		Path   string `yaml:"path" env:"PATH"`
	} `yaml:"store" envPrefix:"STORE_"`

	Metrics struct {
		Enabled     bool   `yaml:"enabled" env:"ENABLED"`
		Port        int    `yaml:"port" env:"PORT"`
		PushGateway string `yaml:"push_gateway" env:"PUSH_GATEWAY"` // create/inspect 推送目標，空字串表示不推送
	} `yaml:"metrics" envPrefix:"METRICS_"`
}

// defaultConfig 未在檔案中出現的欄位使用這些值
func defaultConfig() *Config {
	tuning := taskspec.DefaultTuning()

	var cfg Config
	cfg.Beam.IndexService = "overlord"
	cfg.Beam.SegmentGranularity = string(types.Hour)
	cfg.Beam.WindowPeriod = 10 * time.Minute
	cfg.Beam.Replicants = tuning.Replicants
	cfg.Beam.MaxSegmentsPerBeam = tuning.MaxSegmentsPerBeam
	cfg.Beam.MaxRowsInMemory = tuning.MaxRowsInMemory
	cfg.Beam.IntermediatePersistPeriod = tuning.IntermediatePersistPeriod
	cfg.Beam.MaxPendingPersists = tuning.MaxPendingPersists
	cfg.Beam.FirehoseBufferSize = tuning.FirehoseBufferSize
	cfg.Overlord.Address = "localhost:50051"
	cfg.Overlord.Port = 50051
	cfg.Overlord.SubmitTimeout = 30 * time.Second
	cfg.Overlord.ReapInterval = 30 * time.Second
	cfg.Store.Driver = StoreSnapshot
	cfg.Store.Path = "data/beams.json"
	cfg.Metrics.Port = 9090
	return &cfg
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse config env: %w", err)
	}

	return cfg, nil
}

// TaskConfig converts the beam section into the static configuration used
// to build, submit and decode beams.
func (c *Config) TaskConfig() (taskspec.Config, error) {
	g, err := types.ParseGranularity(c.Beam.SegmentGranularity)
	if err != nil {
		return taskspec.Config{}, fmt.Errorf("%w: %w", taskspec.ErrInvalidConfig, err)
	}

	schema := taskspec.Schema{QueryGranularity: c.Beam.QueryGranularity}
	if c.Beam.Parser != nil {
		if schema.Parser, err = json.Marshal(c.Beam.Parser); err != nil {
			return taskspec.Config{}, fmt.Errorf("%w: parser: %v", taskspec.ErrInvalidConfig, err)
		}
	}
	if c.Beam.MetricsSpec != nil {
		if schema.MetricsSpec, err = json.Marshal(c.Beam.MetricsSpec); err != nil {
			return taskspec.Config{}, fmt.Errorf("%w: metrics spec: %v", taskspec.ErrInvalidConfig, err)
		}
	}

	tc := taskspec.Config{
		Location: types.Location{
			IndexService: c.Beam.IndexService,
			DataSource:   c.Beam.DataSource,
		},
		SegmentGranularity: g,
		WindowPeriod:       c.Beam.WindowPeriod,
		GracePeriod:        c.Beam.GracePeriod,
		Tuning: taskspec.Tuning{
			MaxRowsInMemory:           c.Beam.MaxRowsInMemory,
			IntermediatePersistPeriod: c.Beam.IntermediatePersistPeriod,
			MaxPendingPersists:        c.Beam.MaxPendingPersists,
			Replicants:                c.Beam.Replicants,
			MaxSegmentsPerBeam:        c.Beam.MaxSegmentsPerBeam,
			FirehoseBufferSize:        c.Beam.FirehoseBufferSize,
		},
		Schema:          schema,
		RandomizeTaskID: c.Beam.RandomizeTaskID,
	}
	if err := tc.Validate(); err != nil {
		return taskspec.Config{}, err
	}
	return tc, nil
}

// NewCollector returns a registered collector when metrics are enabled, nil
// otherwise.
func (c *Config) NewCollector() *metrics.Collector {
	if !c.Metrics.Enabled {
		return nil
	}
	return metrics.NewCollector()
}

// OpenStore opens the beam store selected by store.driver.
func (c *Config) OpenStore() (storage.BeamStore, error) {
	switch c.Store.Driver {
	case StoreSnapshot, "":
		if err := os.MkdirAll(filepath.Dir(c.Store.Path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir store dir: %w", err)
		}
		return snapshot.NewManager(c.Store.Path), nil
	case StoreSQLite:
		return sqlite.NewStore(c.Store.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
}
