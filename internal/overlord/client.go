package overlord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	beamv1 "github.com/ChuLiYu/beam-orchestrator/api/beam/v1"
	"github.com/ChuLiYu/beam-orchestrator/internal/taskspec"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// TaskState is the overlord's view of one task.
type TaskState struct {
	ID     string
	Status Status
	Error  string // set when Status is FAILED
}

// Client is a beam.Submitter backed by a remote overlord over gRPC.
type Client struct {
	rpc beamv1.TaskServiceClient
}

// NewClient creates a Client on an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{rpc: beamv1.NewTaskServiceClient(conn)}
}

// DialOptions returns the dial options used to reach an overlord: plaintext
// transport and OTel stats handlers so trace context follows every call.
func DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// Dial opens a lazy connection to the overlord at target.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(target, append(DialOptions(), opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial overlord %s: %w", target, err)
	}
	return conn, nil
}

// Submit sends task to the overlord and returns the id it registered.
func (c *Client) Submit(ctx context.Context, task *taskspec.Task) (string, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode task %s: %w", task.ID, err)
	}

	resp, err := c.rpc.SubmitTask(ctx, wrapperspb.Bytes(payload))
	if err != nil {
		return "", fmt.Errorf("rpc submit %s failed: %w", task.ID, fromStatus(err))
	}
	if resp.GetValue() == "" {
		return "", errors.New("overlord accepted the task without an id")
	}
	return resp.GetValue(), nil
}

// Status asks the overlord for the status of a task.
func (c *Client) Status(ctx context.Context, id string) (Status, error) {
	st, err := c.State(ctx, id)
	if err != nil {
		return "", err
	}
	return st.Status, nil
}

// State asks the overlord for the status and failure reason of a task.
func (c *Client) State(ctx context.Context, id string) (TaskState, error) {
	resp, err := c.rpc.GetTaskStatus(ctx, beamv1.NewTaskRef(id))
	if err != nil {
		return TaskState{}, fmt.Errorf("rpc status %s failed: %w", id, fromStatus(err))
	}
	return toState(resp), nil
}

// Complete reports a running task as finished successfully.
func (c *Client) Complete(ctx context.Context, id string) (TaskState, error) {
	resp, err := c.rpc.CompleteTask(ctx, beamv1.NewTaskRef(id))
	if err != nil {
		return TaskState{}, fmt.Errorf("rpc complete %s failed: %w", id, fromStatus(err))
	}
	return toState(resp), nil
}

// Fail reports a running task as failed with reason.
func (c *Client) Fail(ctx context.Context, id, reason string) (TaskState, error) {
	resp, err := c.rpc.FailTask(ctx, beamv1.NewFailTaskRequest(id, reason))
	if err != nil {
		return TaskState{}, fmt.Errorf("rpc fail %s failed: %w", id, fromStatus(err))
	}
	return toState(resp), nil
}

func toState(resp *beamv1.TaskStatusResponse) TaskState {
	st := beamv1.TaskStatusFromProto(resp)
	return TaskState{ID: st.TaskID, Status: Status(st.Status), Error: st.Error}
}

// fromStatus keeps the gRPC status error and adds the matching registry
// sentinel, so callers can use errors.Is on either side of the wire.
func fromStatus(err error) error {
	var sentinel error
	switch status.Code(err) {
	case codes.AlreadyExists:
		sentinel = ErrDuplicateTask
	case codes.NotFound:
		sentinel = ErrTaskNotFound
	case codes.InvalidArgument:
		sentinel = ErrInvalidTask
	case codes.FailedPrecondition:
		sentinel = ErrNotRunning
	default:
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
