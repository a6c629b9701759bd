// Package contracts provides the core types shared by the connector, the transports and
// the client facade.
//
// This package defines:
//   - ConnectionDetails: typed broker connection settings
//   - TaskMessage: the JSON task body published to the task exchange
//   - TaskResult: the JSON result document a worker sends back
//   - ErrorKind: classification of errors so callers can branch on kind
//
// Task and result documents follow the Celery JSON message layout so that tasks posted
// from Go can be consumed by Celery workers.
package contracts
