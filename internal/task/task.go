// Package task defines the descriptor of a backend evaluation job as seen by the console.
// It contains job kinds, status definitions, result helpers and serialization helpers.
package task

import (
	"encoding/json"
	"fmt"
	"strings"
)

type (
	TaskStatus string
	TaskKind   string
	Task       struct {
		ID           int64           `json:"id"`
		Kind         TaskKind        `json:"taskType"`
		Status       TaskStatus      `json:"status"`
		Progress     int             `json:"progress"`
		Message      string          `json:"message,omitempty"`
		Result       json.RawMessage `json:"result,omitempty"`
		ErrorMessage string          `json:"errorMessage,omitempty"`
		CreatedAt    *Timestamp      `json:"createdAt,omitempty"`
		StartedAt    *Timestamp      `json:"startedAt,omitempty"`
		CompletedAt  *Timestamp      `json:"completedAt,omitempty"`
	}
)

const (
	StatusPending   TaskStatus = "PENDING"
	StatusRunning   TaskStatus = "RUNNING"
	StatusCompleted TaskStatus = "COMPLETED"
	StatusFailed    TaskStatus = "FAILED"
)

const (
	KindQueryGeneration     TaskKind = "QUERY_GENERATION"
	KindCandidateGeneration TaskKind = "CANDIDATE_GENERATION"
	KindLLMEvaluation       TaskKind = "LLM_EVALUATION"
	KindIndexing            TaskKind = "INDEXING"
)

// Kinds lists every job kind the console knows how to track.
var Kinds = []TaskKind{
	KindQueryGeneration,
	KindCandidateGeneration,
	KindLLMEvaluation,
	KindIndexing,
}

func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s TaskStatus) String() string {
	return string(s)
}

// UnmarshalJSON accepts any letter case so "running" and "RUNNING" decode alike.
func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid task status: %w", err)
	}

	*s = TaskStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return nil
}

func (k TaskKind) String() string {
	return string(k)
}

func (k *TaskKind) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid task kind: %w", err)
	}

	*k = TaskKind(strings.ToUpper(strings.TrimSpace(raw)))
	return nil
}

// ParseKind maps a user supplied kind name ("query-generation", "llm_evaluation", ...)
// onto a known kind.
func ParseKind(name string) (TaskKind, error) {
	normalized := TaskKind(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_")))
	for _, k := range Kinds {
		if k == normalized {
			return k, nil
		}
	}

	return "", fmt.Errorf("unknown task kind: %q", name)
}

// ErrorOr returns the backend error message, or fallback when the backend sent none.
func (t *Task) ErrorOr(fallback string) string {
	if strings.TrimSpace(t.ErrorMessage) == "" {
		return fallback
	}

	return t.ErrorMessage
}

// ResultObject decodes the completed result into a generic map. The backend sends the
// result either as a JSON object or as a string holding JSON, both are accepted.
func (t *Task) ResultObject() (map[string]any, error) {
	if t.Status != StatusCompleted || len(t.Result) == 0 || string(t.Result) == "null" {
		return nil, nil
	}

	data := []byte(t.Result)
	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		data = []byte(encoded)
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode task result: %w", err)
	}

	return obj, nil
}

// DocumentCount reports how many documents a completed job produced, if the result
// carries that information.
func (t *Task) DocumentCount() (int, bool) {
	obj, err := t.ResultObject()
	if err != nil || obj == nil {
		return 0, false
	}

	for _, key := range []string{"documentCount", "generatedCount", "count"} {
		if v, ok := obj[key].(float64); ok {
			return int(v), true
		}
	}

	return 0, false
}

func (t *Task) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	return string(data), err
}

func TaskFromJSON(data string) (*Task, error) {
	var task Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, err
	}

	return &task, nil
}
