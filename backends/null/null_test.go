package null_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/RichardKnop/dispatcher/backends/iface"
	"github.com/RichardKnop/dispatcher/backends/null"
	"github.com/RichardKnop/dispatcher/tasks"
)

func TestNullBackendDiscardsStates(t *testing.T) {
	t.Parallel()

	backend := null.New()
	assert.Implements(t, (*iface.Backend)(nil), backend)

	signature := tasks.NewSignature("service", 0, nil)
	assert.NoError(t, backend.SetStatePending(signature))
	assert.NoError(t, backend.SetStateSuccess(signature, tasks.NewTaskResults("done")))

	state, err := backend.GetState(signature.UUID)
	assert.Nil(t, state)
	assert.Error(t, err)

	_, err = backend.GroupTaskStates("group", 2)
	assert.Error(t, err)
}
