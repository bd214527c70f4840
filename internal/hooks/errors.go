package hooks

import "fmt"

// CompileError reports hook source that could not be compiled or resolved.
// It is fatal at startup.
type CompileError struct {
	Kind   string
	Source string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s hook %q: %v", e.Kind, abbreviate(e.Source), e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// HookError reports a failure raised by user logic while it ran. It fails
// only the unit of work the hook was invoked for.
type HookError struct {
	Label Label
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook: %v", e.Label, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

func abbreviate(s string) string {
	const limit = 60
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
