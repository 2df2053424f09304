package task

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatuses(t *testing.T) {
	assert.Equal(t, TaskStatus("PENDING"), StatusPending)
	assert.Equal(t, TaskStatus("RUNNING"), StatusRunning)
	assert.Equal(t, TaskStatus("COMPLETED"), StatusCompleted)
	assert.Equal(t, TaskStatus("FAILED"), StatusFailed)
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}

func TestTaskFromJSON_BackendPayload(t *testing.T) {
	raw := `{
		"id": 42,
		"taskType": "llm_evaluation",
		"status": "running",
		"progress": 35,
		"message": "judging 7/20"
	}`

	tsk, err := TaskFromJSON(raw)

	require.NoError(t, err)
	assert.Equal(t, int64(42), tsk.ID)
	assert.Equal(t, KindLLMEvaluation, tsk.Kind)
	assert.Equal(t, StatusRunning, tsk.Status)
	assert.Equal(t, 35, tsk.Progress)
	assert.Equal(t, "judging 7/20", tsk.Message)
}

func TestTaskFromJSON_InvalidJSON(t *testing.T) {
	_, err := TaskFromJSON("invalid json")

	assert.Error(t, err)
}

func TestTaskJSONRoundTrip(t *testing.T) {
	original := &Task{
		ID:       7,
		Kind:     KindQueryGeneration,
		Status:   StatusCompleted,
		Progress: 100,
		Message:  "done",
		Result:   json.RawMessage(`{"documentCount":12}`),
	}

	jsonStr, err := original.ToJSON()
	require.NoError(t, err)

	restored, err := TaskFromJSON(jsonStr)
	require.NoError(t, err)
	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.Kind, restored.Kind)
	assert.Equal(t, original.Status, restored.Status)
	assert.JSONEq(t, string(original.Result), string(restored.Result))
}

func TestErrorOr(t *testing.T) {
	failed := &Task{Status: StatusFailed, ErrorMessage: "llm quota exceeded"}
	assert.Equal(t, "llm quota exceeded", failed.ErrorOr("task failed"))

	silent := &Task{Status: StatusFailed, ErrorMessage: "  "}
	assert.Equal(t, "task failed", silent.ErrorOr("task failed"))
}

func TestDocumentCount(t *testing.T) {
	tests := []struct {
		name     string
		task     Task
		expected int
		ok       bool
	}{
		{
			name:     "object result",
			task:     Task{Status: StatusCompleted, Result: json.RawMessage(`{"documentCount": 18}`)},
			expected: 18,
			ok:       true,
		},
		{
			name:     "string encoded result",
			task:     Task{Status: StatusCompleted, Result: json.RawMessage(`"{\"count\": 4}"`)},
			expected: 4,
			ok:       true,
		},
		{
			name: "running task has no result",
			task: Task{Status: StatusRunning, Result: json.RawMessage(`{"documentCount": 18}`)},
		},
		{
			name: "result without count",
			task: Task{Status: StatusCompleted, Result: json.RawMessage(`{"note": "ok"}`)},
		},
		{
			name: "malformed result",
			task: Task{Status: StatusCompleted, Result: json.RawMessage(`"not json"`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, ok := tt.task.DocumentCount()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, count)
		})
	}
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("query-generation")
	require.NoError(t, err)
	assert.Equal(t, KindQueryGeneration, kind)

	kind, err = ParseKind("LLM_EVALUATION")
	require.NoError(t, err)
	assert.Equal(t, KindLLMEvaluation, kind)

	_, err = ParseKind("reindex-everything")
	assert.Error(t, err)
}
