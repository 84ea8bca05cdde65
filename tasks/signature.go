package tasks

import (
	"fmt"

	"github.com/google/uuid"
)

// Headers represents the headers which travel with a task, used for trace propagation
type Headers map[string]interface{}

// Set on Headers implements opentracing.TextMapWriter for trace propagation
func (h Headers) Set(key, val string) {
	h[key] = val
}

// ForeachKey on Headers implements opentracing.TextMapReader for trace propagation.
// It is essentially the same as the opentracing.TextMapReader implementation except
// for the added casting from interface{} to string.
func (h Headers) ForeachKey(handler func(key, val string) error) error {
	for k, v := range h {
		// Skip any non string values
		stringValue, ok := v.(string)
		if !ok {
			continue
		}

		if err := handler(k, stringValue); err != nil {
			return err
		}
	}

	return nil
}

// Signature represents a single launch of an execution unit
type Signature struct {
	UUID string `json:"UUID,omitempty"`
	// ID is the sequence index of the task within its batch, used for
	// logging and correlation only. It is never passed to the unit.
	ID             int         `json:"ID"`
	Name           string      `json:"name,omitempty"`
	Payload        interface{} `json:"payload"`
	GroupUUID      string      `json:"groupUUID,omitempty"`
	GroupTaskCount int         `json:"groupTaskCount,omitempty"`
	Headers        Headers     `json:"headers,omitempty"`
}

// NewSignature creates a new task signature
func NewSignature(name string, id int, payload interface{}) *Signature {
	return &Signature{
		UUID:    fmt.Sprintf("task_%v", uuid.New().String()),
		ID:      id,
		Name:    name,
		Payload: payload,
	}
}
