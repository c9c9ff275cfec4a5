package invoke

import "fmt"

// ErrorKind classifies an invocation failure.
type ErrorKind string

const (
	// ErrTransport covers network and provider-side failures.
	ErrTransport ErrorKind = "transport"
	// ErrTimeout covers the per-invocation deadline expiring.
	ErrTimeout ErrorKind = "timeout"
	// ErrSchemaMismatch covers a success payload that does not match
	// the expected response shape.
	ErrSchemaMismatch ErrorKind = "schema_mismatch"
	// ErrStatus covers a well-formed envelope with a non-success status.
	ErrStatus ErrorKind = "status"
)

// InvocationError is the typed failure surfaced to callers. The layer
// never retries; retry policy belongs to the scheduler.
type InvocationError struct {
	// Kind classifies the failure.
	Kind ErrorKind
	// Role is the role being invoked.
	Role Role
	// Status is the envelope status for ErrStatus failures.
	Status Status
	// Detail is human-readable context.
	Detail string
	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *InvocationError) Error() string {
	msg := fmt.Sprintf("invoke %s: %s", e.Role, e.Kind)
	if e.Status != "" {
		msg += fmt.Sprintf(" (%s)", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped cause.
func (e *InvocationError) Unwrap() error {
	return e.Err
}

func transportErr(role Role, err error) *InvocationError {
	return &InvocationError{Kind: ErrTransport, Role: role, Err: err}
}

func timeoutErr(role Role, err error) *InvocationError {
	return &InvocationError{Kind: ErrTimeout, Role: role, Err: err}
}

func schemaErr(role Role, detail string, err error) *InvocationError {
	return &InvocationError{Kind: ErrSchemaMismatch, Role: role, Detail: detail, Err: err}
}

func statusErr(role Role, status Status, detail string) *InvocationError {
	return &InvocationError{Kind: ErrStatus, Role: role, Status: status, Detail: detail}
}
