package kernel

import (
	"errors"
	"fmt"
)

// ErrEmptyMenu is returned when a proposer is built without kernels
var ErrEmptyMenu = errors.New("kernel menu is empty")

// ProposalAbnormalFailureError reports a kernel that could not produce a
// proposal because of its configuration, as opposed to having nothing to
// propose. It aborts the run.
type ProposalAbnormalFailureError struct {
	Kernel string
	Reason string
	Err    error
}

func (e *ProposalAbnormalFailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("kernel %s failed abnormally: %s: %v", e.Kernel, e.Reason, e.Err)
	}
	return fmt.Sprintf("kernel %s failed abnormally: %s", e.Kernel, e.Reason)
}

func (e *ProposalAbnormalFailureError) Unwrap() error { return e.Err }

// Is matches any ProposalAbnormalFailureError
func (e *ProposalAbnormalFailureError) Is(target error) bool {
	_, ok := target.(*ProposalAbnormalFailureError)
	return ok
}

func abnormal(k Kernel, reason string, err error) *ProposalAbnormalFailureError {
	return &ProposalAbnormalFailureError{Kernel: k.Name(), Reason: reason, Err: err}
}

// InitError reports a kernel or proposer that cannot be used with the given
// context. It is raised before any iteration executes.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init %s: %v", e.Component, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Is matches any InitError
func (e *InitError) Is(target error) bool {
	_, ok := target.(*InitError)
	return ok
}
