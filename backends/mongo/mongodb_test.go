package mongo_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardKnop/dispatcher/backends/iface"
	"github.com/RichardKnop/dispatcher/backends/mongo"
	"github.com/RichardKnop/dispatcher/config"
	"github.com/RichardKnop/dispatcher/tasks"
)

func newBackend(t *testing.T) iface.Backend {
	mongoURL := os.Getenv("MONGODB_URL")
	if mongoURL == "" {
		t.Skip("MONGODB_URL is not defined")
	}

	cnf := config.Default()
	cnf.ResultBackend = mongoURL
	cnf.MongoDB = &config.MongoDBConfig{Database: "dispatcher_test"}

	backend, err := mongo.New(cnf)
	require.NoError(t, err)
	return backend
}

func TestGroupCompleted(t *testing.T) {
	backend := newBackend(t)

	groupUUID := "testGroupUUID"
	task1 := tasks.NewSignature("service", 0, nil)
	task2 := tasks.NewSignature("service", 1, nil)
	backend.PurgeGroupMeta(groupUUID)
	defer backend.PurgeGroupMeta(groupUUID)
	defer backend.PurgeState(task1.UUID)
	defer backend.PurgeState(task2.UUID)

	require.NoError(t, backend.InitGroup(groupUUID, []string{task1.UUID, task2.UUID}))
	require.NoError(t, backend.SetStatePending(task1))
	require.NoError(t, backend.SetStatePending(task2))

	groupCompleted, err := backend.GroupCompleted(groupUUID, 2)
	if assert.NoError(t, err) {
		assert.False(t, groupCompleted)
	}

	require.NoError(t, backend.SetStateSuccess(task1, tasks.NewTaskResults("done")))
	require.NoError(t, backend.SetStateFailure(task2, tasks.NewErrAbnormalTermination(2)))

	states, err := backend.GroupTaskStates(groupUUID, 2)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, task1.UUID, states[0].TaskUUID)
	assert.Equal(t, "done", states[0].Message())
	assert.Equal(t, 2, states[1].ExitCode)

	groupCompleted, err = backend.GroupCompleted(groupUUID, 2)
	if assert.NoError(t, err) {
		assert.True(t, groupCompleted)
	}
}

func TestCompletedStateIsFinal(t *testing.T) {
	backend := newBackend(t)

	signature := tasks.NewSignature("service", 1, nil)
	defer backend.PurgeState(signature.UUID)

	require.NoError(t, backend.SetStatePending(signature))
	require.NoError(t, backend.SetStateSuccess(signature, tasks.NewTaskResults("done")))

	err := backend.SetStateStarted(signature)
	assert.Equal(t, tasks.ErrTaskAlreadyCompleted, err)

	taskState, err := backend.GetState(signature.UUID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StateSuccess, taskState.State)
	assert.Equal(t, 1, taskState.TaskID)
	assert.Equal(t, "service", taskState.TaskName)
}
