package local_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardKnop/dispatcher/tasks"
	"github.com/RichardKnop/dispatcher/units/local"
)

func TestRun(t *testing.T) {
	signature := tasks.NewSignature("local", 0, "payload")

	unit := local.New(func(ctx context.Context, payload interface{}) (interface{}, error) {
		return payload.(string) + " done", nil
	})
	message, err := unit.Run(context.Background(), signature)
	require.NoError(t, err)
	assert.Equal(t, "payload done", message)
}

func TestRunErrors(t *testing.T) {
	signature := tasks.NewSignature("local", 0, nil)

	testCases := []struct {
		name     string
		fn       local.Func
		internal bool
		exitCode int
		errorMsg string
	}{
		{
			name: "returned error",
			fn: func(context.Context, interface{}) (interface{}, error) {
				return "ignored", errors.New("boom")
			},
			internal: true,
			errorMsg: "Unit error: boom",
		},
		{
			name: "panic",
			fn: func(context.Context, interface{}) (interface{}, error) {
				panic("boom")
			},
			internal: true,
			errorMsg: "Unit error: panic: boom",
		},
		{
			name: "abnormal termination",
			fn: func(context.Context, interface{}) (interface{}, error) {
				return nil, tasks.NewErrAbnormalTermination(1)
			},
			exitCode: 1,
			errorMsg: "Unit stopped with exit code 1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			message, err := local.New(tc.fn).Run(context.Background(), signature)
			assert.Nil(t, message)
			require.Error(t, err)
			assert.Equal(t, tc.errorMsg, err.Error())
			assert.Equal(t, tc.internal, tasks.IsInternalUnitError(err))
			code, _ := tasks.ExitCode(err)
			assert.Equal(t, tc.exitCode, code)
		})
	}
}
