// ============================================================================
// Beam Orchestrator - Realtime Task Specification
// ============================================================================
//
// Package: internal/taskspec
// File: task.go
// Purpose: Build the immutable spec of one replicated realtime ingestion task
//
// Firehose chain (outermost first):
//   clipped(interval)         drops events outside the beam interval
//   └─ timed(shutoffTime)     stops accepting events after the shutoff
//      └─ receiver(endpoint)  the endpoint events are pushed to
//
//   shutoffTime = interval.End + windowPeriod + gracePeriod
//
// Rejection policy:
//   serverTime  when a beam may span more than one segment. It allows handoff
//               while the task is still running, so callers no longer learn
//               about every rejected event.
//   none        otherwise.
//
// ============================================================================

package taskspec

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ChuLiYu/beam-orchestrator/pkg/types"
	"github.com/google/uuid"
	"github.com/sosodev/duration"
)

const (
	TaskType = "index_realtime"

	FirehoseClipped  = "clipped"
	FirehoseTimed    = "timed"
	FirehoseReceiver = "receiver"

	RejectionServerTime = "serverTime"
	RejectionNone       = "none"

	ShardLinear = "linear"
)

// Task is the JSON document submitted to the task-execution service.
type Task struct {
	Type     string        `json:"type"`
	ID       string        `json:"id"`
	Resource Resource      `json:"resource"`
	Spec     IngestionSpec `json:"spec"`
}

// Resource groups replicants that must not share a worker slot.
type Resource struct {
	AvailabilityGroup string `json:"availabilityGroup"`
	RequiredCapacity  int    `json:"requiredCapacity"`
}

type IngestionSpec struct {
	DataSchema   DataSchema   `json:"dataSchema"`
	IOConfig     IOConfig     `json:"ioConfig"`
	TuningConfig TuningConfig `json:"tuningConfig"`
}

type DataSchema struct {
	DataSource      string          `json:"dataSource"`
	Parser          json.RawMessage `json:"parser,omitempty"`
	MetricsSpec     json.RawMessage `json:"metricsSpec,omitempty"`
	GranularitySpec GranularitySpec `json:"granularitySpec"`
}

type GranularitySpec struct {
	Type               string            `json:"type"`
	SegmentGranularity types.Granularity `json:"segmentGranularity"`
	QueryGranularity   string            `json:"queryGranularity,omitempty"`
}

type IOConfig struct {
	Type     string   `json:"type"`
	Firehose Firehose `json:"firehose"`
}

// Firehose is one link of the firehose chain; only the fields of its Type are set.
type Firehose struct {
	Type        string    `json:"type"`
	Interval    string    `json:"interval,omitempty"`
	ShutoffTime string    `json:"shutoffTime,omitempty"`
	ServiceName string    `json:"serviceName,omitempty"`
	BufferSize  int       `json:"bufferSize,omitempty"`
	Delegate    *Firehose `json:"delegate,omitempty"`
}

type TuningConfig struct {
	Type                      string          `json:"type"`
	MaxRowsInMemory           int             `json:"maxRowsInMemory"`
	IntermediatePersistPeriod string          `json:"intermediatePersistPeriod"`
	WindowPeriod              string          `json:"windowPeriod"`
	MaxPendingPersists        int             `json:"maxPendingPersists"`
	RejectionPolicy           RejectionPolicy `json:"rejectionPolicy"`
	ShardSpec                 ShardSpec       `json:"shardSpec"`
}

type RejectionPolicy struct {
	Type string `json:"type"`
}

type ShardSpec struct {
	Type         string `json:"type"`
	PartitionNum int    `json:"partitionNum"`
}

// TaskID formats index_realtime_{dataSource}_{intervalStart}_{partition}_{replicant}.
func TaskID(dataSource string, interval types.Interval, partition, replicant int) string {
	return fmt.Sprintf("%s_%s_%s_%d_%d", TaskType, dataSource, types.FormatTime(interval.Start), partition, replicant)
}

// ShutoffTime is the instant after which the receiver stops accepting events.
func ShutoffTime(interval types.Interval, cfg Config) time.Time {
	return interval.End.Add(cfg.WindowPeriod).Add(cfg.GracePeriod).UTC()
}

// Build assembles the spec of one replicant. It reads nothing but its
// arguments, except for the random id suffix when cfg.RandomizeTaskID is set.
func Build(interval types.Interval, token, endpointID string, partition, replicant int, cfg Config) *Task {
	id := TaskID(cfg.Location.DataSource, interval, partition, replicant)
	if cfg.RandomizeTaskID {
		id = id + "_" + randomSuffix()
	}

	rejection := RejectionNone
	if cfg.Tuning.MaxSegmentsPerBeam > 1 {
		rejection = RejectionServerTime
	}

	return &Task{
		Type: TaskType,
		ID:   id,
		Resource: Resource{
			AvailabilityGroup: token,
			RequiredCapacity:  1,
		},
		Spec: IngestionSpec{
			DataSchema: DataSchema{
				DataSource:  cfg.Location.DataSource,
				Parser:      cfg.Schema.Parser,
				MetricsSpec: cfg.Schema.MetricsSpec,
				GranularitySpec: GranularitySpec{
					Type:               "uniform",
					SegmentGranularity: cfg.SegmentGranularity,
					QueryGranularity:   cfg.Schema.QueryGranularity,
				},
			},
			IOConfig: IOConfig{
				Type: "realtime",
				Firehose: Firehose{
					Type:     FirehoseClipped,
					Interval: interval.String(),
					Delegate: &Firehose{
						Type:        FirehoseTimed,
						ShutoffTime: types.FormatTime(ShutoffTime(interval, cfg)),
						Delegate: &Firehose{
							Type:        FirehoseReceiver,
							ServiceName: endpointID,
							BufferSize:  cfg.Tuning.FirehoseBufferSize,
						},
					},
				},
			},
			TuningConfig: TuningConfig{
				Type:                      "realtime",
				MaxRowsInMemory:           cfg.Tuning.MaxRowsInMemory,
				IntermediatePersistPeriod: FormatPeriod(cfg.Tuning.IntermediatePersistPeriod),
				WindowPeriod:              FormatPeriod(cfg.WindowPeriod),
				MaxPendingPersists:        cfg.Tuning.MaxPendingPersists,
				RejectionPolicy:           RejectionPolicy{Type: rejection},
				ShardSpec: ShardSpec{
					Type:         ShardLinear,
					PartitionNum: partition,
				},
			},
		},
	}
}

// FirehoseID returns the receiver service name at the end of the chain.
func (t *Task) FirehoseID() string {
	if fh := t.firehose(FirehoseReceiver); fh != nil {
		return fh.ServiceName
	}
	return ""
}

// Shutoff returns the timed firehose shutoff, if the chain has one.
func (t *Task) Shutoff() (time.Time, bool) {
	fh := t.firehose(FirehoseTimed)
	if fh == nil {
		return time.Time{}, false
	}
	ts, err := types.ParseTime(fh.ShutoffTime)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func (t *Task) firehose(kind string) *Firehose {
	for fh := &t.Spec.IOConfig.Firehose; fh != nil; fh = fh.Delegate {
		if fh.Type == kind {
			return fh
		}
	}
	return nil
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// FormatPeriod renders a duration as an ISO-8601 period (PT1H30M).
// Non-positive durations render as PT0S.
func FormatPeriod(d time.Duration) string {
	if d <= 0 {
		return "PT0S"
	}
	return duration.FromTimeDuration(d).String()
}
