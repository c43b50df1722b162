package beam

import (
	"encoding/json"
	"fmt"

	"github.com/ChuLiYu/beam-orchestrator/internal/metrics"
	"github.com/ChuLiYu/beam-orchestrator/internal/taskspec"
	"github.com/ChuLiYu/beam-orchestrator/pkg/types"
)

// Record shapes seen on read.
const (
	ShapeCurrent = "current" // interval + tasks
	ShapeLegacy  = "legacy"  // anything using timestamp or a single taskId
)

// Record is the persisted form of a Beam.
//
// Current writers emit interval, partition and tasks, plus timestamp when the
// interval is exactly one segment bucket so that readers which only know
// timestamp can still find the beam. The oldest writers emitted timestamp,
// partition, taskId and firehoseId.
type Record struct {
	Interval   string              `json:"interval,omitempty"`
	Partition  *int                `json:"partition,omitempty"`
	Tasks      []types.TaskPointer `json:"tasks,omitempty"`
	Timestamp  string              `json:"timestamp,omitempty"`
	TaskID     string              `json:"taskId,omitempty"`
	FirehoseID string              `json:"firehoseId,omitempty"`
}

// Shape reports which writer generation produced the record.
func (r Record) Shape() string {
	if r.Interval != "" && r.Tasks != nil {
		return ShapeCurrent
	}
	return ShapeLegacy
}

// Codec converts beams to records and back. The configuration it holds is
// attached to every decoded Beam.
type Codec struct {
	config  taskspec.Config
	metrics *metrics.Collector
}

func NewCodec(config taskspec.Config, opts ...Option) (*Codec, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &Codec{config: config, metrics: o.metrics}, nil
}

// Encode returns the current record shape for b.
func (c *Codec) Encode(b *Beam) Record {
	partition := b.partition
	rec := Record{
		Interval:  b.interval.String(),
		Partition: &partition,
		Tasks:     b.Tasks(),
	}
	if b.interval.Equal(c.config.SegmentGranularity.Bucket(b.interval.Start)) {
		rec.Timestamp = types.FormatTime(b.interval.Start)
	}
	return rec
}

// Decode accepts both the current and the legacy record shapes.
//
// Any interval that falls on segment boundaries decodes, whatever
// MaxSegmentsPerBeam is set to now: a record written while multi-segment
// beams were enabled stays readable after the setting is lowered. Create is
// the stricter side (see checkInterval).
func (c *Codec) Decode(rec Record) (*Beam, error) {
	if rec.Partition == nil {
		return nil, fmt.Errorf("%w: missing partition", ErrMalformedRecord)
	}
	partition := *rec.Partition
	if partition < 0 {
		return nil, fmt.Errorf("%w: %w: %d", ErrMalformedRecord, ErrInvalidPartition, partition)
	}

	interval, err := c.decodeInterval(rec)
	if err != nil {
		return nil, err
	}
	g := c.config.SegmentGranularity
	if !g.Aligned(interval) {
		return nil, fmt.Errorf("%w: %s does not fall on %s boundaries", ErrMisalignedInterval, interval, g)
	}

	tasks, err := decodeTasks(rec)
	if err != nil {
		return nil, err
	}

	c.metrics.RecordDecoded(rec.Shape())
	return newBeam(interval, partition, tasks, c.config), nil
}

func (c *Codec) decodeInterval(rec Record) (types.Interval, error) {
	switch {
	case rec.Interval != "":
		iv, err := types.ParseInterval(rec.Interval)
		if err != nil {
			return types.Interval{}, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
		}
		return iv, nil
	case rec.Timestamp != "":
		ts, err := types.ParseTime(rec.Timestamp)
		if err != nil {
			return types.Interval{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedRecord, err)
		}
		return c.config.SegmentGranularity.Bucket(ts), nil
	}
	return types.Interval{}, fmt.Errorf("%w: missing interval and timestamp", ErrMalformedRecord)
}

func decodeTasks(rec Record) ([]types.TaskPointer, error) {
	switch {
	case rec.Tasks != nil:
		if len(rec.Tasks) == 0 {
			return nil, fmt.Errorf("%w: empty task list", ErrMalformedRecord)
		}
		for i, t := range rec.Tasks {
			if t.ID == "" || t.FirehoseID == "" {
				return nil, fmt.Errorf("%w: task %d is missing id or firehoseId", ErrMalformedRecord, i)
			}
		}
		return append([]types.TaskPointer(nil), rec.Tasks...), nil
	case rec.TaskID != "":
		if rec.FirehoseID == "" {
			return nil, fmt.Errorf("%w: taskId without firehoseId", ErrMalformedRecord)
		}
		return []types.TaskPointer{{ID: rec.TaskID, FirehoseID: rec.FirehoseID}}, nil
	}
	return nil, fmt.Errorf("%w: missing tasks and taskId", ErrMalformedRecord)
}

// Marshal encodes b as JSON.
func (c *Codec) Marshal(b *Beam) ([]byte, error) {
	return json.Marshal(c.Encode(b))
}

// Unmarshal decodes a JSON record of either shape.
func (c *Codec) Unmarshal(data []byte) (*Beam, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return c.Decode(rec)
}
