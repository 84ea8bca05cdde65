package result

import (
	"errors"
	"sync"
	"time"

	"github.com/RichardKnop/dispatcher/backends/iface"
	"github.com/RichardKnop/dispatcher/tasks"
)

var (
	// ErrBackendNotConfigured ...
	ErrBackendNotConfigured = errors.New("Result backend not configured")
	// ErrTimeoutReached ...
	ErrTimeoutReached = errors.New("Timeout reached")
)

// AsyncResult is the future of one launched task. It settles exactly once,
// either resolved with the unit's message or rejected with an error.
type AsyncResult struct {
	Signature *tasks.Signature
	backend   iface.Backend

	mu        sync.Mutex
	settled   bool
	message   interface{}
	err       error
	callbacks []func()
	done      chan struct{}

	taskState *tasks.TaskState
}

// NewAsyncResult creates AsyncResult instance
func NewAsyncResult(signature *tasks.Signature, backend iface.Backend) *AsyncResult {
	return &AsyncResult{
		Signature: signature,
		backend:   backend,
		done:      make(chan struct{}),
		taskState: tasks.NewPendingTaskState(signature),
	}
}

// Resolve settles the result with message. It returns false, changing
// nothing, if the result was already settled.
func (asyncResult *AsyncResult) Resolve(message interface{}) bool {
	return asyncResult.settle(message, nil)
}

// Reject settles the result with err. It returns false, changing nothing,
// if the result was already settled.
func (asyncResult *AsyncResult) Reject(err error) bool {
	return asyncResult.settle(nil, err)
}

// settle runs the pending continuations before Done is closed, so a caller
// woken by Get observes their effects
func (asyncResult *AsyncResult) settle(message interface{}, err error) bool {
	asyncResult.mu.Lock()
	if asyncResult.settled {
		asyncResult.mu.Unlock()
		return false
	}
	asyncResult.settled = true
	asyncResult.message = message
	asyncResult.err = err
	callbacks := asyncResult.callbacks
	asyncResult.callbacks = nil
	asyncResult.mu.Unlock()

	for _, callback := range callbacks {
		callback()
	}
	close(asyncResult.done)
	return true
}

// Then registers continuations. Exactly one of them runs, once, when the
// result settles; immediately if it already has. Either may be nil.
//
// Continuations run on the settling goroutine before Done is closed, so
// they must not call Get or GetWithTimeout on the same result: use the
// argument they are given, or Touch.
func (asyncResult *AsyncResult) Then(onSuccess func(message interface{}), onFailure func(err error)) *AsyncResult {
	callback := func() {
		if asyncResult.err != nil {
			if onFailure != nil {
				onFailure(asyncResult.err)
			}
			return
		}
		if onSuccess != nil {
			onSuccess(asyncResult.message)
		}
	}

	asyncResult.mu.Lock()
	if !asyncResult.settled {
		asyncResult.callbacks = append(asyncResult.callbacks, callback)
		asyncResult.mu.Unlock()
		return asyncResult
	}
	asyncResult.mu.Unlock()

	callback()
	return asyncResult
}

// Done is closed once the result has settled and its continuations ran
func (asyncResult *AsyncResult) Done() <-chan struct{} {
	return asyncResult.done
}

// Touch returns the outcome without waiting. A pending result returns
// nil, nil, check Settled to tell it from a unit that resolved with nil.
func (asyncResult *AsyncResult) Touch() (interface{}, error) {
	asyncResult.mu.Lock()
	defer asyncResult.mu.Unlock()
	return asyncResult.message, asyncResult.err
}

// Settled reports whether the result is resolved or rejected
func (asyncResult *AsyncResult) Settled() bool {
	asyncResult.mu.Lock()
	defer asyncResult.mu.Unlock()
	return asyncResult.settled
}

// Get returns the message or the error (synchronous blocking call).
// There is no timeout: if the unit never finishes, Get never returns.
func (asyncResult *AsyncResult) Get() (interface{}, error) {
	<-asyncResult.done
	return asyncResult.message, asyncResult.err
}

// GetWithTimeout returns the message or the error (synchronous blocking
// call). It stops waiting after timeoutDuration; the task keeps running.
func (asyncResult *AsyncResult) GetWithTimeout(timeoutDuration time.Duration) (interface{}, error) {
	timeout := time.NewTimer(timeoutDuration)
	defer timeout.Stop()

	select {
	case <-timeout.C:
		return nil, ErrTimeoutReached
	case <-asyncResult.done:
		return asyncResult.message, asyncResult.err
	}
}

// GetState returns latest task state as recorded by the result backend.
// Without a backend, or while the backend has nothing, the state is
// derived from the in-memory outcome.
func (asyncResult *AsyncResult) GetState() *tasks.TaskState {
	asyncResult.mu.Lock()
	taskState := asyncResult.taskState
	asyncResult.mu.Unlock()

	if taskState.IsCompleted() {
		return taskState
	}

	// the backend is read without holding the lock, it may be remote
	if asyncResult.backend != nil {
		stored, err := asyncResult.backend.GetState(asyncResult.Signature.UUID)
		if err == nil && stored != nil {
			// AMQP states are consumed by reading them
			if asyncResult.backend.IsAMQP() && stored.IsCompleted() {
				asyncResult.backend.PurgeState(stored.TaskUUID)
			}
			return asyncResult.setState(stored)
		}
	}

	asyncResult.mu.Lock()
	defer asyncResult.mu.Unlock()
	if asyncResult.settled && !asyncResult.taskState.IsCompleted() {
		if asyncResult.err != nil {
			asyncResult.taskState = tasks.NewFailureTaskState(asyncResult.Signature, asyncResult.err)
		} else {
			asyncResult.taskState = tasks.NewSuccessTaskState(asyncResult.Signature, tasks.NewTaskResults(asyncResult.message))
		}
	}
	return asyncResult.taskState
}

// setState caches a state read from the backend unless a completed one is
// already cached
func (asyncResult *AsyncResult) setState(taskState *tasks.TaskState) *tasks.TaskState {
	asyncResult.mu.Lock()
	defer asyncResult.mu.Unlock()
	if !asyncResult.taskState.IsCompleted() {
		asyncResult.taskState = taskState
	}
	return asyncResult.taskState
}
