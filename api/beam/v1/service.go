// Package beamv1 defines the task service spoken between beam creators and
// the overlord: messages, client and server bindings.
package beamv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "beam.v1.TaskService"

	SubmitTaskMethod    = "/beam.v1.TaskService/SubmitTask"
	GetTaskStatusMethod = "/beam.v1.TaskService/GetTaskStatus"
	CompleteTaskMethod  = "/beam.v1.TaskService/CompleteTask"
	FailTaskMethod      = "/beam.v1.TaskService/FailTask"
)

// TaskServiceClient is the client API of the task service.
type TaskServiceClient interface {
	SubmitTask(ctx context.Context, in *SubmitTaskRequest, opts ...grpc.CallOption) (*SubmitTaskResponse, error)
	GetTaskStatus(ctx context.Context, in *TaskRef, opts ...grpc.CallOption) (*TaskStatusResponse, error)
	CompleteTask(ctx context.Context, in *TaskRef, opts ...grpc.CallOption) (*TaskStatusResponse, error)
	FailTask(ctx context.Context, in *FailTaskRequest, opts ...grpc.CallOption) (*TaskStatusResponse, error)
}

type taskServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewTaskServiceClient(cc grpc.ClientConnInterface) TaskServiceClient {
	return &taskServiceClient{cc: cc}
}

func (c *taskServiceClient) SubmitTask(ctx context.Context, in *SubmitTaskRequest, opts ...grpc.CallOption) (*SubmitTaskResponse, error) {
	return invoke[SubmitTaskResponse](ctx, c.cc, SubmitTaskMethod, in, opts)
}

func (c *taskServiceClient) GetTaskStatus(ctx context.Context, in *TaskRef, opts ...grpc.CallOption) (*TaskStatusResponse, error) {
	return invoke[TaskStatusResponse](ctx, c.cc, GetTaskStatusMethod, in, opts)
}

func (c *taskServiceClient) CompleteTask(ctx context.Context, in *TaskRef, opts ...grpc.CallOption) (*TaskStatusResponse, error) {
	return invoke[TaskStatusResponse](ctx, c.cc, CompleteTaskMethod, in, opts)
}

func (c *taskServiceClient) FailTask(ctx context.Context, in *FailTaskRequest, opts ...grpc.CallOption) (*TaskStatusResponse, error) {
	return invoke[TaskStatusResponse](ctx, c.cc, FailTaskMethod, in, opts)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// TaskServiceServer is the server API of the task service.
type TaskServiceServer interface {
	SubmitTask(context.Context, *SubmitTaskRequest) (*SubmitTaskResponse, error)
	GetTaskStatus(context.Context, *TaskRef) (*TaskStatusResponse, error)
	CompleteTask(context.Context, *TaskRef) (*TaskStatusResponse, error)
	FailTask(context.Context, *FailTaskRequest) (*TaskStatusResponse, error)
}

// UnimplementedTaskServiceServer answers every method with codes.Unimplemented.
type UnimplementedTaskServiceServer struct{}

func (UnimplementedTaskServiceServer) SubmitTask(context.Context, *SubmitTaskRequest) (*SubmitTaskResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SubmitTask not implemented")
}

func (UnimplementedTaskServiceServer) GetTaskStatus(context.Context, *TaskRef) (*TaskStatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetTaskStatus not implemented")
}

func (UnimplementedTaskServiceServer) CompleteTask(context.Context, *TaskRef) (*TaskStatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CompleteTask not implemented")
}

func (UnimplementedTaskServiceServer) FailTask(context.Context, *FailTaskRequest) (*TaskStatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method FailTask not implemented")
}

// RegisterTaskServiceServer attaches srv to s.
func RegisterTaskServiceServer(s grpc.ServiceRegistrar, srv TaskServiceServer) {
	s.RegisterService(&TaskServiceDesc, srv)
}

// unaryHandler adapts one TaskServiceServer method to grpc.MethodHandler.
func unaryHandler[Req, Resp any](fullMethod string, call func(TaskServiceServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TaskServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TaskServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// TaskServiceDesc describes the task service for grpc.Server.
var TaskServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TaskServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitTask", Handler: unaryHandler(SubmitTaskMethod, TaskServiceServer.SubmitTask)},
		{MethodName: "GetTaskStatus", Handler: unaryHandler(GetTaskStatusMethod, TaskServiceServer.GetTaskStatus)},
		{MethodName: "CompleteTask", Handler: unaryHandler(CompleteTaskMethod, TaskServiceServer.CompleteTask)},
		{MethodName: "FailTask", Handler: unaryHandler(FailTaskMethod, TaskServiceServer.FailTask)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "beam/v1/task_service",
}
