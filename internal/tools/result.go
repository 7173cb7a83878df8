package tools

import "fmt"

// Kind classifies a failed tool call.
type Kind string

const (
	KindToolNotFound     Kind = "tool_not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindValidation       Kind = "validation"
	KindExecution        Kind = "execution"
)

// Result is the tagged outcome of a tool call: Output when OK, otherwise
// Error and Kind.
type Result struct {
	OK     bool
	Output string
	Error  string
	Kind   Kind
}

// Success wraps output in a successful result.
func Success(output string) Result {
	return Result{OK: true, Output: output}
}

// Failure builds an error result.
func Failure(kind Kind, format string, args ...any) Result {
	return Result{Kind: kind, Error: fmt.Sprintf(format, args...)}
}

// Text renders the result for an agent transcript.
func (r Result) Text() string {
	if r.OK {
		return r.Output
	}
	return fmt.Sprintf("error (%s): %s", r.Kind, r.Error)
}
