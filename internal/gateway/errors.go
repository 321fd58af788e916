package gateway

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable error classification returned to callers.
type Kind string

const (
	KindRoutingFailure     Kind = "routing_failure"
	KindSchemaNegotiation  Kind = "schema_negotiation"
	KindSynthesisFailure   Kind = "synthesis_failure"
	KindExecutionFault     Kind = "execution_fault"
	KindExecutionTimeout   Kind = "execution_timeout"
	KindExecutionCancelled Kind = "execution_cancelled"
	KindResourceExhausted  Kind = "resource_exhausted"
)

// Error is a terminal, reported failure. Every gateway operation returns
// either a result or one of these; internal errors never cross the boundary
// unclassified.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Tool    string `json:"tool,omitempty"`
	err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

func errf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), err: err}
}

// KindOf extracts the classification from an error returned by a gateway
// operation; unclassified errors report as execution faults.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindExecutionFault
}
