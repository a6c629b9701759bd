// Package rabbitmq provides the AMQP 0-9-1 plumbing behind the RabbitMQ connector.
//
// This package includes:
//   - Connection: one lazily dialed broker connection carrying a single channel
//   - Publisher: publishes task bodies to a topic exchange with publisher confirms
//   - ResultPoller: polls per-task result queues bound to the results exchange
//   - TopologyManager: declares exchanges, queues and bindings
//   - Metrics: Prometheus counters for handshakes, publishes and polls
//
// Channel, AMQPConnection and Dialer are the seams over amqp091-go; tests replace
// them with fakes.
package rabbitmq
