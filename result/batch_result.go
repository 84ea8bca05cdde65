package result

import (
	"fmt"

	"github.com/RichardKnop/dispatcher/backends/iface"
	"github.com/RichardKnop/dispatcher/tasks"
)

// BatchAsyncResult holds the results of tasks launched together
type BatchAsyncResult struct {
	GroupUUID string
	Results   []*AsyncResult
	backend   iface.Backend
}

// NewBatchAsyncResult creates BatchAsyncResult instance
func NewBatchAsyncResult(groupUUID string, results []*AsyncResult, backend iface.Backend) *BatchAsyncResult {
	return &BatchAsyncResult{
		GroupUUID: groupUUID,
		Results:   results,
		backend:   backend,
	}
}

// Wait blocks until every task settled. It returns the messages in launch
// order and an error counting the failed tasks, if any.
func (batchResult *BatchAsyncResult) Wait() ([]interface{}, error) {
	messages := make([]interface{}, len(batchResult.Results))
	for i, asyncResult := range batchResult.Results {
		messages[i], _ = asyncResult.Get()
	}

	if failed := batchResult.Failed(); failed > 0 {
		return messages, fmt.Errorf("%d of %d tasks in batch %s failed", failed, len(batchResult.Results), batchResult.GroupUUID)
	}
	return messages, nil
}

// Failed returns how many settled tasks were rejected
func (batchResult *BatchAsyncResult) Failed() int {
	failed := 0
	for _, asyncResult := range batchResult.Results {
		if _, err := asyncResult.Touch(); err != nil {
			failed++
		}
	}
	return failed
}

// Completed asks the result backend whether every task of the batch finished
func (batchResult *BatchAsyncResult) Completed() (bool, error) {
	if batchResult.backend == nil {
		return false, ErrBackendNotConfigured
	}
	return batchResult.backend.GroupCompleted(batchResult.GroupUUID, len(batchResult.Results))
}

// GetStates returns the states the result backend holds for the batch
func (batchResult *BatchAsyncResult) GetStates() ([]*tasks.TaskState, error) {
	if batchResult.backend == nil {
		return nil, ErrBackendNotConfigured
	}
	return batchResult.backend.GroupTaskStates(batchResult.GroupUUID, len(batchResult.Results))
}
