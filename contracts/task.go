package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskStatus is the state a worker reports for a task
type TaskStatus string

const (
	StatusPending TaskStatus = "PENDING"
	StatusStarted TaskStatus = "STARTED"
	StatusRetry   TaskStatus = "RETRY"
	StatusFailure TaskStatus = "FAILURE"
	StatusSuccess TaskStatus = "SUCCESS"
	StatusRevoked TaskStatus = "REVOKED"
)

// Ready reports whether the status is final
func (s TaskStatus) Ready() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusRevoked:
		return true
	default:
		return false
	}
}

// TaskMessage is the task body published to the task exchange
type TaskMessage struct {
	ID      string         `json:"id"`
	Task    string         `json:"task"`
	Args    []any          `json:"args"`
	Kwargs  map[string]any `json:"kwargs"`
	Retries int            `json:"retries,omitempty"`
	ETA     *time.Time     `json:"eta,omitempty"`
	Expires *time.Time     `json:"expires,omitempty"`
}

// NewTaskMessage creates a task message. Nil args and kwargs are encoded as [] and {}.
func NewTaskMessage(id, task string, args []any, kwargs map[string]any) *TaskMessage {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return &TaskMessage{
		ID:     id,
		Task:   task,
		Args:   args,
		Kwargs: kwargs,
	}
}

// Encode returns the JSON body for the message
func (m *TaskMessage) Encode() ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode task %s: %w", m.Task, err)
	}
	return body, nil
}

// TaskResult is the result document a worker publishes for a task
type TaskResult struct {
	TaskID    string            `json:"task_id"`
	Status    TaskStatus        `json:"status"`
	Result    json.RawMessage   `json:"result"`
	Traceback string            `json:"traceback,omitempty"`
	Children  []json.RawMessage `json:"children,omitempty"`
	DateDone  string            `json:"date_done,omitempty"`
}

// DecodeTaskResult parses a JSON result body
func DecodeTaskResult(body []byte) (*TaskResult, error) {
	var result TaskResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode task result: %w", err)
	}
	return &result, nil
}

// Encode returns the JSON encoding of the result document
func (r *TaskResult) Encode() ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode result of %s: %w", r.TaskID, err)
	}
	return body, nil
}

func (r *TaskResult) Successful() bool {
	return r.Status == StatusSuccess
}

func (r *TaskResult) Failed() bool {
	return r.Status == StatusFailure
}

// Decode unmarshals the task's return value into v
func (r *TaskResult) Decode(v any) error {
	if len(r.Result) == 0 {
		return fmt.Errorf("task %s has no result value", r.TaskID)
	}
	return json.Unmarshal(r.Result, v)
}

// Err returns an error wrapping ErrTaskFailed when the task failed or was revoked
func (r *TaskResult) Err() error {
	switch r.Status {
	case StatusFailure:
		return fmt.Errorf("%w: %s: %s", ErrTaskFailed, r.TaskID, string(r.Result))
	case StatusRevoked:
		return fmt.Errorf("%w: %s: revoked", ErrTaskFailed, r.TaskID)
	default:
		return nil
	}
}
