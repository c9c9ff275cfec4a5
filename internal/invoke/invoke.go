package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Constraints bounds a single invocation.
type Constraints struct {
	// Timeout caps wall-clock time for the call.
	Timeout time.Duration
	// MaxTurns caps tool-use turns.
	MaxTurns int
	// Model is the resolved model for this role.
	Model string
	// PermissionMode is forwarded to the runtime; empty inherits.
	PermissionMode string
}

// Request describes one invocation. Prompt text is supplied by the
// caller; the layer adds the envelope instruction and tool bounds.
type Request struct {
	// Role selects the tool capability set.
	Role Role
	// SystemPrompt is the role's standing instruction.
	SystemPrompt string
	// Prompt is the role-specific payload for this call, typically
	// rendered context plus a task statement.
	Prompt string
	// WorkDir is the directory the agent operates in. Required for
	// write roles; read roles may use the repo root.
	WorkDir string
	// Memory holds injected shared-memory entries, rendered into the
	// prompt ahead of the task statement.
	Memory map[string]string
	// Constraints bounds the call.
	Constraints Constraints
}

// Result is the uniform outcome of an invocation. Non-success statuses
// arrive as an *InvocationError from Invoke, never as a panic.
type Result struct {
	// Role is the invoked role.
	Role Role
	// Status is the envelope status.
	Status Status
	// Payload is the structured success payload.
	Payload json.RawMessage
	// Text is the agent's full final text, kept for iteration records.
	Text string
	// Turns is the number of tool-use turns consumed.
	Turns int
}

// Decode unmarshals the success payload into v. A payload that does
// not fit v's shape is an ErrSchemaMismatch.
func (r *Result) Decode(v any) error {
	if len(r.Payload) == 0 {
		return schemaErr(r.Role, "empty payload", nil)
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return schemaErr(r.Role, "payload does not match schema", err)
	}
	return nil
}

// Invoker is the uniform invocation contract. Implementations are the
// runtimes: the direct API loop and the CLI subprocess.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// IsInvocationError reports whether err is an InvocationError of the
// given kind.
func IsInvocationError(err error, kind ErrorKind) bool {
	var ie *InvocationError
	if errors.As(err, &ie) {
		return ie.Kind == kind
	}
	return false
}

// finalize converts raw agent text plus turn count into a Result or an
// InvocationError, shared by all runtimes.
func finalize(role Role, text string, turns int) (*Result, error) {
	env, err := parseEnvelope(text)
	if err != nil {
		return nil, schemaErr(role, "unparseable envelope", err)
	}
	if env.Status != StatusSuccess {
		return nil, statusErr(role, env.Status, env.Error)
	}
	return &Result{
		Role:    role,
		Status:  env.Status,
		Payload: env.Payload,
		Text:    text,
		Turns:   turns,
	}, nil
}

// classifyCtxErr maps a context error to the matching typed failure.
func classifyCtxErr(role Role, ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return timeoutErr(role, err)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return &InvocationError{Kind: ErrStatus, Role: role, Status: StatusCancelled, Err: err}
	}
	return transportErr(role, err)
}
