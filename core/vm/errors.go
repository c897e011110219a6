package vm

import (
	"errors"
	"fmt"
)

// List bridge execution errors
var (
	ErrAssociationMismatch     = errors.New("association mismatch")
	ErrPointeeIsPointer        = errors.New("pointee is a pointer")
	ErrPointerDeploymentFailed = errors.New("pointer deployment failed")
	ErrUnsupportedOperation    = errors.New("unsupported operation")
	ErrExecutionFailed         = errors.New("execution failed")

	ErrPermissionDenied      = errors.New("permission denied")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrUnknownStandard       = errors.New("unknown pointer standard")
)

// UnsupportedOperationError is returned for operations that have no analog
// on the pointee's side.
type UnsupportedOperationError struct {
	Standard Standard
	Op       string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation: %s is not available on %s pointers", e.Op, e.Standard)
}

func (e *UnsupportedOperationError) Is(target error) bool {
	return target == ErrUnsupportedOperation
}

// ExecutionFailedError is a pointee-side failure. Reason is what callers
// see; it only names the underlying cause when that cause is well known.
type ExecutionFailedError struct {
	Reason string
	Err    error
}

func (e *ExecutionFailedError) Error() string { return "execution failed: " + e.Reason }

func (e *ExecutionFailedError) Is(target error) bool { return target == ErrExecutionFailed }

func (e *ExecutionFailedError) Unwrap() error { return e.Err }

// ExecutionFailed wraps a pointee error. Insufficient balance and allowance
// keep their reason, everything else is reported uniformly.
func ExecutionFailed(err error) error {
	var efe *ExecutionFailedError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &efe):
		return err
	case errors.Is(err, ErrInsufficientBalance):
		return &ExecutionFailedError{Reason: ErrInsufficientBalance.Error(), Err: err}
	case errors.Is(err, ErrInsufficientAllowance):
		return &ExecutionFailedError{Reason: ErrInsufficientAllowance.Error(), Err: err}
	}
	return &ExecutionFailedError{Reason: "pointee execution failed", Err: err}
}

// ExecutionFailedReason builds an ExecutionFailedError with a bridge-side
// reason.
func ExecutionFailedReason(format string, args ...any) error {
	return &ExecutionFailedError{Reason: fmt.Sprintf(format, args...)}
}

// deploymentError keeps the public message coarse while still unwrapping to
// the concrete cause for errors.Is checks and logs.
type deploymentError struct {
	cause error
}

// DeploymentFailed wraps cause as ErrPointerDeploymentFailed.
func DeploymentFailed(cause error) error {
	if errors.Is(cause, ErrPointerDeploymentFailed) {
		return cause
	}
	return &deploymentError{cause: cause}
}

func (e *deploymentError) Error() string { return ErrPointerDeploymentFailed.Error() }

func (e *deploymentError) Is(target error) bool { return target == ErrPointerDeploymentFailed }

func (e *deploymentError) Unwrap() error { return e.cause }

// Cause returns the wrapped cause of a deployment failure, for logging.
func Cause(err error) error {
	var de *deploymentError
	if errors.As(err, &de) && de.cause != nil {
		return de.cause
	}
	return err
}
