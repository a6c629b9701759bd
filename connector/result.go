package connector

import "time"

// Status tells whether a poll produced a result
type Status int

const (
	StatusNotReady Status = iota
	StatusReady
)

func (s Status) String() string {
	if s == StatusReady {
		return "ready"
	}
	return "not_ready"
}

// NotReadyReason explains a NotReady result
type NotReadyReason int

const (
	ReasonNone NotReadyReason = iota
	// ReasonNoMessage means the result queue is bound but empty.
	ReasonNoMessage
	// ReasonNotBound means the broker refused the result queue binding, usually
	// because the results exchange has not been declared yet.
	ReasonNotBound
)

func (r NotReadyReason) String() string {
	switch r {
	case ReasonNoMessage:
		return "no_message"
	case ReasonNotBound:
		return "not_bound"
	default:
		return "none"
	}
}

// Message is a result message as delivered by the broker
type Message struct {
	ContentType     string
	ContentEncoding string
	CorrelationID   string
	MessageID       string
	Headers         map[string]any
	Timestamp       time.Time
	Exchange        string
	RoutingKey      string
	DeliveryTag     uint64
	Body            []byte

	// Raw is the transport's own delivery value, e.g. amqp091.Delivery.
	Raw any
}

// Result is the outcome of one poll
type Result struct {
	Status  Status
	Reason  NotReadyReason
	Body    []byte
	Message *Message
}

// Ready reports whether the result carries a message
func (r Result) Ready() bool {
	return r.Status == StatusReady
}

// NotReady builds a NotReady result for reason
func NotReady(reason NotReadyReason) Result {
	return Result{Status: StatusNotReady, Reason: reason}
}
