package pinjector

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure of one of the remote primitives.
type Kind int

const (
	KindUnknown Kind = iota
	ResourceExhausted
	InvalidArgument
	PermissionDenied
	OperationFailed
	SymbolNotFound
	InjectionFailed
	EntryPointFailed
	Timeout
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	ResourceExhausted: "resource exhausted",
	InvalidArgument:   "invalid argument",
	PermissionDenied:  "permission denied",
	OperationFailed:   "operation failed",
	SymbolNotFound:    "symbol not found",
	InjectionFailed:   "injection failed",
	EntryPointFailed:  "entry point failed",
	Timeout:           "timeout",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels, one per kind, usable with errors.Is.
var (
	ErrResourceExhausted = &Error{Kind: ResourceExhausted}
	ErrInvalidArgument   = &Error{Kind: InvalidArgument}
	ErrPermissionDenied  = &Error{Kind: PermissionDenied}
	ErrOperationFailed   = &Error{Kind: OperationFailed}
	ErrSymbolNotFound    = &Error{Kind: SymbolNotFound}
	ErrInjectionFailed   = &Error{Kind: InjectionFailed}
	ErrEntryPointFailed  = &Error{Kind: EntryPointFailed}
	ErrTimeout           = &Error{Kind: Timeout}
)

// Error is a classified failure from a primitive operation.
type Error struct {
	Kind Kind
	Err  error
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: errors.Errorf(format, args...)}
}

// Wrap classifies err, annotating it with msg. A nil err still yields an
// error so that callers reporting a zero return value from the OS do not
// lose the failure.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return &Error{Kind: kind, Err: errors.New(msg)}
	}
	return &Error{Kind: kind, Err: errors.Wrap(err, msg)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels compare by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Phase names the step of an injection attempt that failed.
type Phase string

const (
	PhaseLoad    Phase = "load"
	PhaseResolve Phase = "resolve"
	PhaseInvoke  Phase = "invoke"
)

// InjectError is the single structured failure returned by Injector.
type InjectError struct {
	Phase Phase
	Kind  Kind
	Err   error
}

func (e *InjectError) Error() string {
	return fmt.Sprintf("%s phase: %v", e.Phase, e.Err)
}

func (e *InjectError) Unwrap() error { return e.Err }

func (e *InjectError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf reports the kind carried anywhere in err's chain.
func KindOf(err error) Kind {
	var ie *InjectError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// PhaseOf reports the phase an injection failure is attributed to, or "".
func PhaseOf(err error) Phase {
	var ie *InjectError
	if errors.As(err, &ie) {
		return ie.Phase
	}
	return ""
}

func phaseError(phase Phase, err error) error {
	kind := KindOf(err)
	if kind == KindUnknown {
		kind = OperationFailed
	}
	return &InjectError{Phase: phase, Kind: kind, Err: err}
}
