package beamv1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestTaskStatusWireRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   TaskStatus
	}{
		{"Running", TaskStatus{TaskID: "T0", Status: "RUNNING"}},
		{"Failed with reason", TaskStatus{TaskID: "T1", Status: "FAILED", Error: "peon lost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := proto.Marshal(tt.in.Proto())
			require.NoError(t, err)

			var out TaskStatusResponse
			require.NoError(t, proto.Unmarshal(data, &out))
			assert.Equal(t, tt.in, TaskStatusFromProto(&out))
		})
	}
}

func TestTaskStatusOmitsEmptyError(t *testing.T) {
	m := TaskStatus{TaskID: "T0", Status: "SUCCESS"}.Proto()
	assert.NotContains(t, m.GetFields(), FieldError)
}

func TestTaskStatusFromNil(t *testing.T) {
	assert.Equal(t, TaskStatus{}, TaskStatusFromProto(nil))
}

func TestFailTaskRequest(t *testing.T) {
	data, err := proto.Marshal(NewFailTaskRequest("T0", "out of memory"))
	require.NoError(t, err)

	var out FailTaskRequest
	require.NoError(t, proto.Unmarshal(data, &out))
	id, reason := FailTaskFromProto(&out)
	assert.Equal(t, "T0", id)
	assert.Equal(t, "out of memory", reason)
}

func TestSubmitTaskRequestCarriesJSON(t *testing.T) {
	doc := []byte(`{"id":"T0","type":"index_realtime"}`)
	data, err := proto.Marshal(wrapperspb.Bytes(doc))
	require.NoError(t, err)

	var out SubmitTaskRequest
	require.NoError(t, proto.Unmarshal(data, &out))
	assert.JSONEq(t, string(doc), string(out.GetValue()))
	assert.Equal(t, "T0", NewTaskRef("T0").GetValue())
}

func TestServiceDescMethods(t *testing.T) {
	assert.Equal(t, ServiceName, TaskServiceDesc.ServiceName)

	want := []string{SubmitTaskMethod, GetTaskStatusMethod, CompleteTaskMethod, FailTaskMethod}
	require.Len(t, TaskServiceDesc.Methods, len(want))
	for i, m := range TaskServiceDesc.Methods {
		assert.Equal(t, want[i], "/"+ServiceName+"/"+m.MethodName)
		assert.NotNil(t, m.Handler)
	}
}
