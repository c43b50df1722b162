// Package beam creates, describes and persists beams: the immutable handle of
// "where live data for one (interval, partition) currently goes".
package beam

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ChuLiYu/beam-orchestrator/internal/metrics"
	"github.com/ChuLiYu/beam-orchestrator/internal/taskspec"
	"github.com/ChuLiYu/beam-orchestrator/pkg/types"
)

var log = slog.Default()

// Beam is one (interval, partition) and the replicated tasks serving it.
// A Beam never changes after construction; a new Beam replaces it.
type Beam struct {
	interval  types.Interval
	partition int
	tasks     []types.TaskPointer
	config    taskspec.Config
}

func newBeam(interval types.Interval, partition int, tasks []types.TaskPointer, config taskspec.Config) *Beam {
	return &Beam{
		interval:  types.NewInterval(interval.Start, interval.End),
		partition: partition,
		tasks:     append([]types.TaskPointer(nil), tasks...),
		config:    config,
	}
}

func (b *Beam) Interval() types.Interval { return b.interval }

func (b *Beam) Partition() int { return b.partition }

// Tasks returns the task pointers in replicant order. The slice is a copy.
func (b *Beam) Tasks() []types.TaskPointer {
	return append([]types.TaskPointer(nil), b.tasks...)
}

// Location is the process configuration the beam was built or restored with;
// it is never serialized.
func (b *Beam) Location() types.Location { return b.config.Location }

func (b *Beam) Config() taskspec.Config { return b.config }

// Key identifies the beam's slot in a store: one beam per interval and partition.
func (b *Beam) Key() string {
	return fmt.Sprintf("%s#%d", b.interval, b.partition)
}

func (b *Beam) String() string {
	parts := make([]string, len(b.tasks))
	for i, t := range b.tasks {
		parts[i] = t.ID + "@" + t.FirehoseID
	}
	return fmt.Sprintf("beam(interval=%s, partition=%d, tasks=[%s])", b.interval, b.partition, strings.Join(parts, ", "))
}

// Option configures an Assembler or a Codec.
type Option func(*options)

type options struct {
	metrics *metrics.Collector
}

// WithMetrics records submissions, failures and decoded records on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
