package celery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/glimte/celery-amqp-go/contracts"
	"github.com/glimte/celery-amqp-go/internal/reliability"
)

// AsyncResult is a handle on the result of a posted task. The result message is
// consumed from the broker once and kept on the handle.
type AsyncResult struct {
	client *Client
	taskID string

	mu     sync.Mutex
	result *contracts.TaskResult
}

// ID returns the task id
func (r *AsyncResult) ID() string {
	return r.taskID
}

// Ready polls once and reports whether a final result has arrived
func (r *AsyncResult) Ready(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.result != nil && r.result.Status.Ready() {
		return true, nil
	}

	res, err := r.client.fetch(ctx, r.taskID)
	if err != nil {
		return false, err
	}
	if !res.Ready() {
		return false, nil
	}

	tr, err := contracts.DecodeTaskResult(res.Body)
	if err != nil {
		return false, err
	}
	if tr.TaskID == "" {
		tr.TaskID = r.taskID
	}
	r.result = tr

	if !tr.Status.Ready() {
		r.client.logger.Debug("task in progress", "task_id", r.taskID, "status", tr.Status)
		return false, nil
	}

	r.client.discard(ctx, r.taskID)
	return true, nil
}

// Get waits for the final result using the client's poll policy. Policy exhaustion
// returns an error wrapping contracts.ErrResultTimeout. A failed task is returned as a
// result, not an error; see Wait.
func (r *AsyncResult) Get(ctx context.Context) (*contracts.TaskResult, error) {
	err := reliability.Poll(ctx, r.client.pollPolicy, r.Ready)
	if err != nil {
		if errors.Is(err, reliability.ErrAttemptsExhausted) {
			return nil, fmt.Errorf("%w: task %s: %v", contracts.ErrResultTimeout, r.taskID, err)
		}
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, nil
}

// Wait waits for the result and decodes its value into v. A failed or revoked task
// returns an error wrapping contracts.ErrTaskFailed.
func (r *AsyncResult) Wait(ctx context.Context, v any) error {
	tr, err := r.Get(ctx)
	if err != nil {
		return err
	}
	if err := tr.Err(); err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return tr.Decode(v)
}

// Status returns the last known status, PENDING before anything was received
func (r *AsyncResult) Status() contracts.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.result == nil {
		return contracts.StatusPending
	}
	return r.result.Status
}

// Successful reports whether the task completed successfully
func (r *AsyncResult) Successful() bool {
	return r.Status() == contracts.StatusSuccess
}

// Failed reports whether the task failed
func (r *AsyncResult) Failed() bool {
	return r.Status() == contracts.StatusFailure
}

// Traceback returns the worker traceback of a failed task
func (r *AsyncResult) Traceback() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.result == nil {
		return ""
	}
	return r.result.Traceback
}
