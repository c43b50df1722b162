package beamv1

import (
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Task service messages are protobuf well-known types, carried by the
// default proto codec.
type (
	// SubmitTaskRequest holds one task spec JSON document in Value.
	SubmitTaskRequest = wrapperspb.BytesValue
	// SubmitTaskResponse holds the id the overlord registered in Value.
	SubmitTaskResponse = wrapperspb.StringValue
	// TaskRef names one task by id (GetTaskStatus, CompleteTask).
	TaskRef = wrapperspb.StringValue
	// TaskStatusResponse has the string fields taskId, status and error.
	TaskStatusResponse = structpb.Struct
	// FailTaskRequest has the string fields taskId and reason.
	FailTaskRequest = structpb.Struct
)

// Struct field names.
const (
	FieldTaskID = "taskId"
	FieldStatus = "status"
	FieldError  = "error"
	FieldReason = "reason"
)

// TaskStatus is the decoded form of a TaskStatusResponse.
type TaskStatus struct {
	TaskID string
	Status string
	Error  string
}

// Proto encodes s. An empty Error is left out.
func (s TaskStatus) Proto() *TaskStatusResponse {
	fields := map[string]string{
		FieldTaskID: s.TaskID,
		FieldStatus: s.Status,
	}
	if s.Error != "" {
		fields[FieldError] = s.Error
	}
	return stringStruct(fields)
}

// TaskStatusFromProto decodes m; missing fields read as "".
func TaskStatusFromProto(m *TaskStatusResponse) TaskStatus {
	return TaskStatus{
		TaskID: stringField(m, FieldTaskID),
		Status: stringField(m, FieldStatus),
		Error:  stringField(m, FieldError),
	}
}

// NewTaskRef wraps a task id.
func NewTaskRef(id string) *TaskRef {
	return wrapperspb.String(id)
}

// NewFailTaskRequest builds the FailTask request for id.
func NewFailTaskRequest(id, reason string) *FailTaskRequest {
	return stringStruct(map[string]string{
		FieldTaskID: id,
		FieldReason: reason,
	})
}

// FailTaskFromProto returns the task id and reason of a FailTask request.
func FailTaskFromProto(m *FailTaskRequest) (id, reason string) {
	return stringField(m, FieldTaskID), stringField(m, FieldReason)
}

func stringStruct(fields map[string]string) *structpb.Struct {
	out := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(fields))}
	for k, v := range fields {
		out.Fields[k] = structpb.NewStringValue(v)
	}
	return out
}

func stringField(m *structpb.Struct, key string) string {
	return m.GetFields()[key].GetStringValue()
}
