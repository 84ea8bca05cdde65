package tasks

import (
	"fmt"
	"strings"
)

// TaskResult represents the message a unit reported on completion
type TaskResult struct {
	Type  string      `bson:"type"`
	Value interface{} `bson:"value"`
}

// NewTaskResults wraps a unit message so it can be stored by a result backend
func NewTaskResults(message interface{}) []*TaskResult {
	if message == nil {
		return nil
	}
	return []*TaskResult{{Type: fmt.Sprintf("%T", message), Value: message}}
}

// HumanReadableResults ...
func HumanReadableResults(results []*TaskResult) string {
	if len(results) == 1 {
		return fmt.Sprintf("%v", results[0].Value)
	}

	readableResults := make([]string, len(results))
	for i := 0; i < len(results); i++ {
		readableResults[i] = fmt.Sprintf("%v", results[i].Value)
	}

	return fmt.Sprintf("[%s]", strings.Join(readableResults, ", "))
}
