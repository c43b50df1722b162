// ============================================================================
// Beam Orchestrator - Beam Assembler
// ============================================================================
//
// Package: internal/beam
// File: assembler.go
// Purpose: Turn (interval, partition) into a Beam backed by freshly submitted
//          replicated tasks
//
// Flow:
//   1. Validate partition and interval alignment (no side effects on failure)
//   2. Derive the grouping token once
//   3. For every replicant: endpoint id -> task spec -> submit (one goroutine each)
//   4. Barrier: wait for every submission
//        all succeeded -> Beam with tasks in replicant order
//        any failed    -> ErrTaskSubmissionFailed wrapping the first cause
//
// Partial failure:
//   Siblings that were already accepted stay outstanding. The assembler does
//   not cancel them and does not retry; both belong to the caller that owns
//   the beam lifecycle.
//
// Concurrency:
//   Each goroutine only writes its own slot of a pre-sized slice. The specs
//   are built before the fan-out from immutable inputs, so nothing is locked.
//
// ============================================================================

package beam

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ChuLiYu/beam-orchestrator/internal/metrics"
	"github.com/ChuLiYu/beam-orchestrator/internal/naming"
	"github.com/ChuLiYu/beam-orchestrator/internal/taskspec"
	"github.com/ChuLiYu/beam-orchestrator/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/ChuLiYu/beam-orchestrator/internal/beam"

// Submitter is the task-execution service. Submit blocks until the service
// accepted (returning its task id) or rejected the task; any timeout policy
// belongs to the implementation.
type Submitter interface {
	Submit(ctx context.Context, task *taskspec.Task) (string, error)
}

// Assembler creates beams for one data source.
type Assembler struct {
	config    taskspec.Config
	submitter Submitter
	metrics   *metrics.Collector
	tracer    trace.Tracer
}

// NewAssembler validates config and returns an Assembler submitting through s.
func NewAssembler(config taskspec.Config, s Submitter, opts ...Option) (*Assembler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New("beam: submitter is required")
	}
	o := buildOptions(opts)
	return &Assembler{
		config:    config,
		submitter: s,
		metrics:   o.metrics,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// CreateBeam submits Tuning.Replicants tasks for (interval, partition) and
// returns the Beam once every submission succeeded.
func (a *Assembler) CreateBeam(ctx context.Context, interval types.Interval, partition int) (*Beam, error) {
	ctx, span := a.tracer.Start(ctx, "beam.CreateBeam", trace.WithAttributes(
		attribute.String("beam.data_source", a.config.Location.DataSource),
		attribute.String("beam.interval", interval.String()),
		attribute.Int("beam.partition", partition),
		attribute.Int("beam.replicants", a.config.Tuning.Replicants),
	))
	defer span.End()

	if partition < 0 {
		return nil, a.fail(span, "invalid_partition", fmt.Errorf("%w: %d", ErrInvalidPartition, partition))
	}
	if err := a.checkInterval(interval); err != nil {
		return nil, a.fail(span, "misaligned", err)
	}

	token, err := naming.GroupingToken(a.config.Location.DataSource, a.config.SegmentGranularity, interval.Start, partition)
	if err != nil {
		return nil, a.fail(span, "naming", err)
	}

	replicants := a.config.Tuning.Replicants
	tasks := make([]types.TaskPointer, replicants)

	var g errgroup.Group
	for r := 0; r < replicants; r++ {
		r := r
		endpoint := naming.EndpointID(token, r)
		spec := taskspec.Build(interval, token, endpoint, partition, r, a.config)

		g.Go(func() error {
			start := time.Now()
			id, err := a.submitter.Submit(ctx, spec)
			if err == nil && id == "" {
				err = errors.New("service returned an empty task id")
			}
			a.metrics.RecordSubmission(time.Since(start).Seconds(), err)
			if err != nil {
				return fmt.Errorf("replicant %d (%s): %w", r, spec.ID, err)
			}
			tasks[r] = types.TaskPointer{ID: id, FirehoseID: endpoint}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, a.fail(span, "submission", fmt.Errorf("%w: %w", ErrTaskSubmissionFailed, err))
	}

	b := newBeam(interval, partition, tasks, a.config)
	a.metrics.RecordBeamCreated()
	log.Info("Beam created",
		"dataSource", a.config.Location.DataSource,
		"interval", interval.String(),
		"partition", partition,
		"token", token,
		"tasks", len(tasks))
	return b, nil
}

// checkInterval requires exactly one segment bucket, or an aligned run of at
// most MaxSegmentsPerBeam buckets when multi-segment beams are enabled.
func (a *Assembler) checkInterval(interval types.Interval) error {
	g := a.config.SegmentGranularity
	maxSegments := a.config.Tuning.MaxSegmentsPerBeam

	if maxSegments <= 1 {
		if !interval.Equal(g.Bucket(interval.Start)) {
			return fmt.Errorf("%w: %s is not one %s bucket", ErrMisalignedInterval, interval, g)
		}
		return nil
	}
	if !g.Aligned(interval) {
		return fmt.Errorf("%w: %s does not fall on %s boundaries", ErrMisalignedInterval, interval, g)
	}
	if n := g.Buckets(interval); n > maxSegments {
		return fmt.Errorf("%w: %s spans %d %s buckets, at most %d allowed", ErrMisalignedInterval, interval, n, g, maxSegments)
	}
	return nil
}

func (a *Assembler) fail(span trace.Span, reason string, err error) error {
	a.metrics.RecordBeamFailure(reason)
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	log.Error("Beam creation failed",
		"dataSource", a.config.Location.DataSource,
		"reason", reason,
		"error", err)
	return err
}
