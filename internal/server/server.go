package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	beamv1 "github.com/ChuLiYu/beam-orchestrator/api/beam/v1"
	"github.com/ChuLiYu/beam-orchestrator/internal/metrics"
	"github.com/ChuLiYu/beam-orchestrator/internal/overlord"
	"github.com/ChuLiYu/beam-orchestrator/internal/taskspec"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var log = slog.Default()

// Server implements the gRPC task service on top of an overlord registry.
type Server struct {
	beamv1.UnimplementedTaskServiceServer

	registry *overlord.Registry
	metrics  *metrics.Collector
	health   *health.Server
}

// NewServer creates a new gRPC server instance. collector may be nil.
func NewServer(registry *overlord.Registry, collector *metrics.Collector) *Server {
	return &Server{
		registry: registry,
		metrics:  collector,
		health:   health.NewServer(),
	}
}

// NewGRPCServer returns a grpc.Server with OTel stats handlers installed.
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	return grpc.NewServer(append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)...)
}

// Register attaches the task service and the health service to r.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	beamv1.RegisterTaskServiceServer(r, s)
	healthpb.RegisterHealthServer(r, s.health)
	s.health.SetServingStatus(beamv1.ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Shutdown marks every service as not serving.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

// SubmitTask handles task submission from beam creators.
func (s *Server) SubmitTask(ctx context.Context, req *beamv1.SubmitTaskRequest) (*beamv1.SubmitTaskResponse, error) {
	doc := req.GetValue()
	if len(doc) == 0 {
		return nil, status.Error(codes.InvalidArgument, "task is required")
	}

	var task taskspec.Task
	if err := json.Unmarshal(doc, &task); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid task JSON: %v", err)
	}

	id, err := s.registry.Submit(ctx, &task)
	if err != nil {
		return nil, toStatus(err)
	}
	s.metrics.UpdateOverlordStats(s.registry.Stats())
	return wrapperspb.String(id), nil
}

// GetTaskStatus reports the registry state of one task.
func (s *Server) GetTaskStatus(ctx context.Context, req *beamv1.TaskRef) (*beamv1.TaskStatusResponse, error) {
	id := req.GetValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "task id is required")
	}
	return s.taskStatus(id)
}

// CompleteTask marks a running task as finished successfully.
func (s *Server) CompleteTask(ctx context.Context, req *beamv1.TaskRef) (*beamv1.TaskStatusResponse, error) {
	id := req.GetValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "task id is required")
	}
	if err := s.registry.Complete(id); err != nil {
		return nil, toStatus(err)
	}
	s.metrics.UpdateOverlordStats(s.registry.Stats())
	return s.taskStatus(id)
}

// FailTask marks a running task as failed and keeps the reason.
func (s *Server) FailTask(ctx context.Context, req *beamv1.FailTaskRequest) (*beamv1.TaskStatusResponse, error) {
	id, reason := beamv1.FailTaskFromProto(req)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "task id is required")
	}
	if reason == "" {
		return nil, status.Error(codes.InvalidArgument, "failure reason is required")
	}
	if err := s.registry.Fail(id, reason); err != nil {
		return nil, toStatus(err)
	}
	s.metrics.UpdateOverlordStats(s.registry.Stats())
	log.Warn("Task reported failed", "taskID", id, "reason", reason)
	return s.taskStatus(id)
}

func (s *Server) taskStatus(id string) (*beamv1.TaskStatusResponse, error) {
	entry := s.registry.Get(id)
	if entry == nil {
		return nil, status.Errorf(codes.NotFound, "task %s not found", id)
	}
	return beamv1.TaskStatus{
		TaskID: id,
		Status: string(entry.Status),
		Error:  entry.Error,
	}.Proto(), nil
}

// RunReaper hands off tasks whose firehose shut off, every interval, until
// ctx is done.
func (s *Server) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.reap(now)
		}
	}
}

func (s *Server) reap(now time.Time) []string {
	reaped := s.registry.Reap(now)
	s.metrics.UpdateOverlordStats(s.registry.Stats())
	for _, id := range reaped {
		log.Debug("Task handed off", "taskID", id)
	}
	return reaped
}

// Helpers

func toStatus(err error) error {
	switch {
	case errors.Is(err, overlord.ErrDuplicateTask):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, overlord.ErrInvalidTask):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, overlord.ErrTaskNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, overlord.ErrNotRunning):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
