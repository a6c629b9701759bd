package contracts

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidDetails  = errors.New("contracts: invalid connection details")
	ErrPublishRejected = errors.New("contracts: publish rejected by broker")
	ErrTaskFailed      = errors.New("contracts: task failed")
	ErrResultTimeout   = errors.New("contracts: timed out waiting for result")
)

// ContentType is the only result encoding the connector accepts
const ContentType = "application/json"

// ErrorKind classifies errors returned by the connector and the client
type ErrorKind int

const (
	KindNone ErrorKind = iota
	// KindTransport covers dial, channel and publish failures. Retryable.
	KindTransport
	// KindContentType means a result arrived in an encoding other than JSON.
	// Retrying will not help; the worker's result serializer is misconfigured.
	KindContentType
	KindConfiguration
	KindTimeout
	KindTaskFailed
	// KindCanceled means the caller's context was canceled. Not retryable.
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransport:
		return "transport"
	case KindContentType:
		return "content_type"
	case KindConfiguration:
		return "configuration"
	case KindTimeout:
		return "timeout"
	case KindTaskFailed:
		return "task_failed"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ContentTypeError is returned when a result is not in the expected encoding.
// Expected defaults to ContentType when empty.
type ContentTypeError struct {
	TaskID   string
	Expected string
	Got      string
}

func (e *ContentTypeError) Error() string {
	expected := e.Expected
	if expected == "" {
		expected = ContentType
	}
	return fmt.Sprintf("result for task %s was not encoded using %s - found %q - check the worker's result serializer setting",
		e.TaskID, expected, e.Got)
}

// ErrorKind implements the kinded interface
func (e *ContentTypeError) ErrorKind() ErrorKind {
	return KindContentType
}

// kinded is implemented by errors that know their own kind
type kinded interface {
	ErrorKind() ErrorKind
}

// KindOf reports the kind of err. Context errors win over the kind of the error
// wrapping them. Unclassified errors are treated as transport failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}

	switch {
	case errors.Is(err, ErrInvalidDetails):
		return KindConfiguration
	case errors.Is(err, ErrResultTimeout):
		return KindTimeout
	case errors.Is(err, ErrTaskFailed):
		return KindTaskFailed
	}

	return KindTransport
}

// IsFatal reports whether retrying the operation cannot succeed
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindContentType, KindConfiguration, KindTaskFailed, KindCanceled:
		return true
	default:
		return false
	}
}
