package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a workflow failure
type ErrorKind string

const (
	KindNetwork           ErrorKind = "network"
	KindAuth              ErrorKind = "auth"
	KindDeviceIO          ErrorKind = "device_io"
	KindProtocol          ErrorKind = "protocol"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindCancelled         ErrorKind = "cancelled"
)

// WorkflowError is a typed failure of one workflow operation
type WorkflowError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *WorkflowError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is matches another *WorkflowError by kind, so sentinels like ErrInvalidTransition work with errors.Is.
func (e *WorkflowError) Is(target error) bool {
	t, ok := target.(*WorkflowError)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks
var (
	ErrNetwork           = &WorkflowError{Kind: KindNetwork}
	ErrAuth              = &WorkflowError{Kind: KindAuth}
	ErrDeviceIO          = &WorkflowError{Kind: KindDeviceIO}
	ErrProtocol          = &WorkflowError{Kind: KindProtocol}
	ErrInvalidTransition = &WorkflowError{Kind: KindInvalidTransition}
	ErrCancelled         = &WorkflowError{Kind: KindCancelled}
)

// NetworkError wraps a transport failure
func NetworkError(op string, err error) error {
	return wrap(KindNetwork, op, err)
}

// AuthError wraps a credential or token failure
func AuthError(op string, err error) error {
	return wrap(KindAuth, op, err)
}

// DeviceIOError wraps a media device or filesystem failure
func DeviceIOError(op string, err error) error {
	return wrap(KindDeviceIO, op, err)
}

// ProtocolError wraps an unexpected message from a remote service
func ProtocolError(op string, err error) error {
	return wrap(KindProtocol, op, err)
}

// InvalidTransitionError reports an operation not allowed in the current state
func InvalidTransitionError(op string, err error) error {
	return &WorkflowError{Kind: KindInvalidTransition, Op: op, Err: err}
}

// wrap keeps an existing typed error. Cancellation becomes KindCancelled and
// an expired deadline becomes KindNetwork, whatever kind was asked for.
func wrap(kind ErrorKind, op string, err error) error {
	var we *WorkflowError
	if errors.As(err, &we) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		kind = KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindNetwork
	}
	return &WorkflowError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or "" when err is not a workflow error.
func KindOf(err error) ErrorKind {
	var we *WorkflowError
	if errors.As(err, &we) {
		return we.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return ""
}

// IsTimeout reports whether err ended on an expired deadline
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// IsKind reports whether err is a workflow error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
