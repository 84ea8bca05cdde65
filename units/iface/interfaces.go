package iface

import (
	"context"

	"github.com/RichardKnop/dispatcher/tasks"
)

// Unit is the work a launched task runs. Run blocks until the unit
// finishes and returns the message the unit sent, or an error:
// tasks.ErrAbnormalTermination when the unit exited with a non-zero status,
// tasks.ErrInternalUnit when the unit reported an error itself.
type Unit interface {
	Run(ctx context.Context, signature *tasks.Signature) (interface{}, error)
}
