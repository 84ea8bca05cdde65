package common_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/RichardKnop/dispatcher/backends/common"
	"github.com/RichardKnop/dispatcher/config"
	"github.com/RichardKnop/dispatcher/tasks"
)

func TestGetExpiresIn(t *testing.T) {
	t.Parallel()

	b := common.NewBackend(&config.Config{})
	assert.Equal(t, time.Hour, b.GetExpiresIn())

	b = common.NewBackend(&config.Config{ResultsExpireIn: 30})
	assert.Equal(t, 30*time.Second, b.GetExpiresIn())
	assert.InDelta(t, time.Now().Unix()+30, b.GetExpirationTimestamp(), 1)
	assert.False(t, b.IsAMQP())
}

func TestCountCompleted(t *testing.T) {
	t.Parallel()

	states := []*tasks.TaskState{
		{State: tasks.StatePending},
		{State: tasks.StateSuccess},
		nil,
		{State: tasks.StateFailure},
		{State: tasks.StateStarted},
	}
	assert.Equal(t, 2, common.CountCompleted(states))
}

func TestMergeState(t *testing.T) {
	t.Parallel()

	created := time.Now().Add(-time.Minute).UTC()
	previous := &tasks.TaskState{TaskName: "service", CreatedAt: created}
	next := &tasks.TaskState{State: tasks.StateSuccess}

	common.MergeState(previous, next)
	assert.Equal(t, created, next.CreatedAt)
	assert.Equal(t, "service", next.TaskName)

	common.MergeState(nil, next)
	assert.Equal(t, created, next.CreatedAt)
}
