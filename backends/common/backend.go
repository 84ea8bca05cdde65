package common

import (
	"time"

	"github.com/RichardKnop/dispatcher/config"
	"github.com/RichardKnop/dispatcher/tasks"
)

// Backend represents a base backend structure
type Backend struct {
	cnf *config.Config
}

// NewBackend creates new Backend instance
func NewBackend(cnf *config.Config) Backend {
	return Backend{cnf: cnf}
}

// GetConfig returns config
func (b *Backend) GetConfig() *config.Config {
	return b.cnf
}

// IsAMQP ...
func (b *Backend) IsAMQP() bool {
	return false
}

// GetExpiresIn returns how long task states and batch metadata are kept
func (b *Backend) GetExpiresIn() time.Duration {
	expiresIn := b.cnf.ResultsExpireIn
	if expiresIn == 0 {
		// expire results after 1 hour by default
		expiresIn = config.DefaultResultsExpireIn
	}
	return time.Duration(expiresIn) * time.Second
}

// GetExpirationTimestamp returns the unix time at which a record written now expires
func (b *Backend) GetExpirationTimestamp() int64 {
	return time.Now().Add(b.GetExpiresIn()).Unix()
}

// CountCompleted returns how many of the states are SUCCESS or FAILURE
func CountCompleted(taskStates []*tasks.TaskState) int {
	var countCompleted = 0
	for _, taskState := range taskStates {
		if taskState != nil && taskState.IsCompleted() {
			countCompleted++
		}
	}
	return countCompleted
}

// MergeState carries the fields only a PENDING state knows about onto a later state
func MergeState(previous, next *tasks.TaskState) {
	if previous == nil {
		return
	}
	next.CreatedAt = previous.CreatedAt
	if next.TaskName == "" {
		next.TaskName = previous.TaskName
	}
}
