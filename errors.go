package kvsession

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection is returned when the backing store stays unreachable after
	// every connection attempt has been spent.
	ErrConnection = errors.New("kvsession: connection failed")

	// ErrOperation is returned when a single store command fails while connected,
	// or when identifier allocation exhausts its attempt budget.
	ErrOperation = errors.New("kvsession: operation failed")

	// ErrData is returned when a wire payload cannot be decoded or a mapping
	// cannot be represented in the selected wire format.
	ErrData = errors.New("kvsession: malformed session data")

	// ErrConfiguration is returned for invalid constructor arguments.
	ErrConfiguration = errors.New("kvsession: invalid configuration")

	// ErrHook marks an error raised by host-supplied hook or filter code.
	ErrHook = errors.New("kvsession: hook failed")

	// ErrScanUnsupported is returned by backends that cannot enumerate keys.
	ErrScanUnsupported = errors.New("kvsession: backend does not support key enumeration")
)

// Stage identifies a point in the read or write pipeline.
type Stage string

const (
	StageBeforeRead  Stage = "before_read"
	StageAfterRead   Stage = "after_read"
	StageFilter      Stage = "filter"
	StageBeforeWrite Stage = "before_write"
	StageAfterWrite  Stage = "after_write"
)

// HookError records a failure contained at the pipeline boundary. Index is the
// registration position of the failing hook within its list.
type HookError struct {
	Stage Stage
	Index int
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook #%d: %v", e.Stage, e.Index, e.Err)
}

// Unwrap exposes both ErrHook and the hook's own error to errors.Is.
func (e *HookError) Unwrap() []error {
	return []error{ErrHook, e.Err}
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func dataError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrData, fmt.Sprintf(format, args...))
}
