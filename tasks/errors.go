package tasks

import (
	"errors"
	"fmt"
)

// ErrTaskAlreadyCompleted is returned by result backends asked to overwrite a
// SUCCESS or FAILURE state
var ErrTaskAlreadyCompleted = errors.New("Task already completed")

// ErrAbnormalTermination means the execution unit exited with a non-zero status
type ErrAbnormalTermination struct {
	Code int
}

// NewErrAbnormalTermination returns new ErrAbnormalTermination instance
func NewErrAbnormalTermination(code int) ErrAbnormalTermination {
	return ErrAbnormalTermination{Code: code}
}

// Error implements the error interface
func (e ErrAbnormalTermination) Error() string {
	return fmt.Sprintf("Unit stopped with exit code %d", e.Code)
}

// ErrInternalUnit means the execution unit itself reported an error during its run
type ErrInternalUnit struct {
	err error
}

// NewErrInternalUnit returns new ErrInternalUnit instance
func NewErrInternalUnit(err error) ErrInternalUnit {
	return ErrInternalUnit{err: err}
}

// Error implements the error interface
func (e ErrInternalUnit) Error() string {
	return fmt.Sprintf("Unit error: %v", e.err)
}

// Unwrap returns the underlying failure cause
func (e ErrInternalUnit) Unwrap() error {
	return e.err
}

// ExitCode returns the exit status carried by an abnormal termination anywhere in err's chain
func ExitCode(err error) (int, bool) {
	var abnormal ErrAbnormalTermination
	if errors.As(err, &abnormal) {
		return abnormal.Code, true
	}
	return 0, false
}

// IsInternalUnitError reports whether err is, or wraps, an ErrInternalUnit
func IsInternalUnitError(err error) bool {
	var internal ErrInternalUnit
	return errors.As(err, &internal)
}
