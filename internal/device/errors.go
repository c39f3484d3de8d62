package device

import (
	"errors"
	"fmt"
)

// FailureKind classifies lifecycle failures so callers can branch on the
// category without parsing messages.
type FailureKind string

const (
	PermissionDenied   FailureKind = "permission_denied"
	AdapterUnavailable FailureKind = "adapter_unavailable"
	ScanFailed         FailureKind = "scan_failed"
	ScanAlreadyActive  FailureKind = "scan_already_active"
	AlreadyConnecting  FailureKind = "already_connecting"
	ConnectFailed      FailureKind = "connect_failed"
	NotReady           FailureKind = "not_ready"
	Busy               FailureKind = "busy"
	WriteFailed        FailureKind = "write_failed"
	TimedOut           FailureKind = "timed_out"
)

// LifecycleError represents any coordinator-level failure
type LifecycleError struct {
	Kind FailureKind
	Msg  string
}

// Error implements the error interface
func (e *LifecycleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare LifecycleError values by Kind
func (e *LifecycleError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*LifecycleError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors, one per failure kind. Wrap them with
// fmt.Errorf("%w: ...") to attach context while keeping errors.Is working.
var (
	ErrPermissionDenied   = &LifecycleError{Kind: PermissionDenied}
	ErrAdapterUnavailable = &LifecycleError{Kind: AdapterUnavailable}
	ErrScanFailed         = &LifecycleError{Kind: ScanFailed}
	ErrScanAlreadyActive  = &LifecycleError{Kind: ScanAlreadyActive}
	ErrAlreadyConnecting  = &LifecycleError{Kind: AlreadyConnecting}
	ErrConnectFailed      = &LifecycleError{Kind: ConnectFailed}
	ErrNotReady           = &LifecycleError{Kind: NotReady}
	ErrBusy               = &LifecycleError{Kind: Busy}
	ErrWriteFailed        = &LifecycleError{Kind: WriteFailed}
	ErrTimedOut           = &LifecycleError{Kind: TimedOut}
)

// ErrReleased indicates an operation on a device handle that was explicitly
// released by the application; released handles never leave that state.
var ErrReleased = errors.New("device released")

// IsKind reports whether err is a LifecycleError with the given kind
func IsKind(err error, kind FailureKind) bool {
	var lerr *LifecycleError
	if errors.As(err, &lerr) {
		return lerr.Kind == kind
	}
	return false
}

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "service" or "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}
