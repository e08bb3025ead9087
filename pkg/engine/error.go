package engine

import (
	"errors"
	"fmt"

	"github.com/caseflow-io/caseflow/pkg/flownet"
)

// ErrorKind classifies the recoverable per-operation failures. Callers
// branch on the kind, not the message.
type ErrorKind string

const (
	ErrInvalidTransition   ErrorKind = "INVALID_TRANSITION"
	ErrNotEligible         ErrorKind = "NOT_ELIGIBLE"
	ErrNotOwner            ErrorKind = "NOT_OWNER"
	ErrConstraintViolation ErrorKind = "CONSTRAINT_VIOLATION"
	ErrMalformedNet        ErrorKind = "MALFORMED_NET"
	ErrEvaluation          ErrorKind = "EVALUATION_ERROR"
	ErrCancelled           ErrorKind = "CANCELLED"
)

// LifecycleError is the typed failure of a work item or case operation. The
// owning case state is untouched when one is returned.
type LifecycleError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *LifecycleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

func newLifecycleErrorf(kind ErrorKind, format string, a ...any) error {
	return &LifecycleError{Kind: kind, Msg: fmt.Sprintf(format, a...)}
}

// KindOf extracts the error kind, mapping net validation failures to
// MalformedNet. Unclassified errors return "".
func KindOf(err error) ErrorKind {
	var le *LifecycleError
	if errors.As(err, &le) {
		return le.Kind
	}
	var ve *flownet.ValidationError
	if errors.As(err, &ve) {
		return ErrMalformedNet
	}
	return ""
}

// EngineError is an internal engine failure that is not a typed lifecycle
// rejection.
type EngineError struct {
	Msg string
}

func (e *EngineError) Error() string {
	return e.Msg
}

// newEngineErrorf uses fmt.Sprintf(format, a...) to format the message
func newEngineErrorf(format string, a ...any) error {
	return &EngineError{Msg: fmt.Sprintf(format, a...)}
}
