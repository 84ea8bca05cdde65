package local

import (
	"context"
	"errors"
	"fmt"

	"github.com/RichardKnop/dispatcher/tasks"
)

// Func is a unit of work implemented in Go. It receives the task payload
// and returns the message to resolve the task with.
type Func func(ctx context.Context, payload interface{}) (interface{}, error)

// Unit runs a Func in the dispatcher's own process
type Unit struct {
	fn Func
}

// New creates Unit instance
func New(fn Func) *Unit {
	return &Unit{fn: fn}
}

// Run calls the function. Returned errors and panics fail the task as
// internal unit errors; an ErrAbnormalTermination is passed through so a
// function can emulate an exit status.
func (u *Unit) Run(ctx context.Context, signature *tasks.Signature) (message interface{}, err error) {
	defer func() {
		if e := recover(); e != nil {
			message = nil
			err = tasks.NewErrInternalUnit(fmt.Errorf("panic: %v", e))
		}
	}()

	message, err = u.fn(ctx, signature.Payload)
	if err == nil {
		return message, nil
	}

	var abnormal tasks.ErrAbnormalTermination
	if errors.As(err, &abnormal) || tasks.IsInternalUnitError(err) {
		return nil, err
	}
	return nil, tasks.NewErrInternalUnit(err)
}
