// Package connector defines the contract every broker connector implements.
//
// A connector hands out a single cached Connection, initializes it lazily, publishes
// already-encoded task bodies to the task exchange and polls a per-task result queue
// for the worker's reply. Polling never blocks: a result that is not there yet comes
// back as a NotReady Result, not as an error. Callers own the retry loop.
package connector
