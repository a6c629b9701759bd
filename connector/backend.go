package connector

import "context"

// ResultBackend reads task results from a store other than the broker, such as the
// key-value result backends Celery workers can be configured with
type ResultBackend interface {
	// FetchResult makes one non-blocking attempt to read the result for taskID. The
	// Result body is always JSON encoded.
	FetchResult(ctx context.Context, taskID string) (Result, error)

	// Close releases the backend's connections
	Close() error
}
