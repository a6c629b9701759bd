package redis

import (
	"encoding/json"
	"fmt"

	"github.com/glimte/celery-amqp-go/contracts"
	"github.com/vmihailenco/msgpack/v5"
)

// Serializer decodes stored task results
type Serializer interface {
	ContentType() string
	Decode(raw []byte) (*contracts.TaskResult, error)
}

var (
	// JSON decodes results stored with result_serializer = "json"
	JSON Serializer = jsonSerializer{}

	// Msgpack decodes results stored with result_serializer = "msgpack"
	Msgpack Serializer = msgpackSerializer{}
)

// SerializerByName returns the serializer Celery calls name
func SerializerByName(name string) (Serializer, error) {
	switch name {
	case "json", "":
		return JSON, nil
	case "msgpack":
		return Msgpack, nil
	default:
		return nil, fmt.Errorf("%w: unsupported result serializer %q", contracts.ErrInvalidDetails, name)
	}
}

type jsonSerializer struct{}

func (jsonSerializer) ContentType() string { return contracts.ContentType }

func (jsonSerializer) Decode(raw []byte) (*contracts.TaskResult, error) {
	return contracts.DecodeTaskResult(raw)
}

type msgpackSerializer struct{}

func (msgpackSerializer) ContentType() string { return "application/x-msgpack" }

// storedResult mirrors the result document with msgpack tags
type storedResult struct {
	TaskID    string `msgpack:"task_id"`
	Status    string `msgpack:"status"`
	Result    any    `msgpack:"result"`
	Traceback string `msgpack:"traceback"`
	Children  []any  `msgpack:"children"`
	DateDone  string `msgpack:"date_done"`
}

func (msgpackSerializer) Decode(raw []byte) (*contracts.TaskResult, error) {
	var stored storedResult
	if err := msgpack.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode task result: %w", err)
	}

	value, err := json.Marshal(stored.Result)
	if err != nil {
		return nil, fmt.Errorf("decode task result: %w", err)
	}

	tr := &contracts.TaskResult{
		TaskID:    stored.TaskID,
		Status:    contracts.TaskStatus(stored.Status),
		Result:    value,
		Traceback: stored.Traceback,
		DateDone:  stored.DateDone,
	}
	for _, child := range stored.Children {
		encoded, err := json.Marshal(child)
		if err != nil {
			return nil, fmt.Errorf("decode task result: %w", err)
		}
		tr.Children = append(tr.Children, encoded)
	}
	return tr, nil
}
