package iface

import (
	"github.com/RichardKnop/dispatcher/tasks"
)

// Backend - a common interface for all result backends
//
// Implementations must never overwrite a SUCCESS or FAILURE state: a write
// against a completed task returns tasks.ErrTaskAlreadyCompleted.
type Backend interface {
	// Batch related functions
	InitGroup(groupUUID string, taskUUIDs []string) error
	GroupCompleted(groupUUID string, groupTaskCount int) (bool, error)
	GroupTaskStates(groupUUID string, groupTaskCount int) ([]*tasks.TaskState, error)

	// Setting / getting task state
	SetStatePending(signature *tasks.Signature) error
	SetStateStarted(signature *tasks.Signature) error
	SetStateSuccess(signature *tasks.Signature, results []*tasks.TaskResult) error
	SetStateFailure(signature *tasks.Signature, err error) error
	GetState(taskUUID string) (*tasks.TaskState, error)

	// Purging stored task states and batch meta data
	IsAMQP() bool
	PurgeState(taskUUID string) error
	PurgeGroupMeta(groupUUID string) error
}
