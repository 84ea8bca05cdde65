package null

import (
	"fmt"

	"github.com/RichardKnop/dispatcher/backends/common"
	"github.com/RichardKnop/dispatcher/backends/iface"
	"github.com/RichardKnop/dispatcher/config"
	"github.com/RichardKnop/dispatcher/tasks"
)

// ErrGroupNotFound ...
type ErrGroupNotFound struct {
	groupUUID string
}

// Error implements error interface
func (e ErrGroupNotFound) Error() string {
	return fmt.Sprintf("Group not found: %v", e.groupUUID)
}

// ErrTasknotFound ...
type ErrTasknotFound struct {
	taskUUID string
}

// Error implements error interface
func (e ErrTasknotFound) Error() string {
	return fmt.Sprintf("Task not found: %v", e.taskUUID)
}

// Backend discards every state. Futures returned by the dispatcher still
// settle, but nothing can be looked up afterwards.
type Backend struct {
	common.Backend
}

// New creates NullBackend instance
func New() iface.Backend {
	return &Backend{
		Backend: common.NewBackend(new(config.Config)),
	}
}

// InitGroup ...
func (b *Backend) InitGroup(groupUUID string, taskUUIDs []string) error {
	return nil
}

// GroupCompleted ...
func (b *Backend) GroupCompleted(groupUUID string, groupTaskCount int) (bool, error) {
	return false, ErrGroupNotFound{groupUUID: groupUUID}
}

// GroupTaskStates ...
func (b *Backend) GroupTaskStates(groupUUID string, groupTaskCount int) ([]*tasks.TaskState, error) {
	return nil, ErrGroupNotFound{groupUUID: groupUUID}
}

// SetStatePending ...
func (b *Backend) SetStatePending(signature *tasks.Signature) error {
	return nil
}

// SetStateStarted ...
func (b *Backend) SetStateStarted(signature *tasks.Signature) error {
	return nil
}

// SetStateSuccess ...
func (b *Backend) SetStateSuccess(signature *tasks.Signature, results []*tasks.TaskResult) error {
	return nil
}

// SetStateFailure ...
func (b *Backend) SetStateFailure(signature *tasks.Signature, err error) error {
	return nil
}

// GetState ...
func (b *Backend) GetState(taskUUID string) (*tasks.TaskState, error) {
	return nil, ErrTasknotFound{taskUUID: taskUUID}
}

// PurgeState ...
func (b *Backend) PurgeState(taskUUID string) error {
	return nil
}

// PurgeGroupMeta ...
func (b *Backend) PurgeGroupMeta(groupUUID string) error {
	return nil
}
