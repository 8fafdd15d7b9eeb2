package router

// SchemaError reports a request or frame payload that fails spec-level
// validation (spec.md §7 SchemaInvalid): surfaced as HTTP 400 on the
// request-response surface, a silent drop on the stream.
type SchemaError struct {
	Msg string
}

func (e *SchemaError) Error() string { return e.Msg }

// ConflictError wraps a well-formed operation that the current state
// forbids (spec.md §7 StateConflict): surfaced as HTTP 409 with a
// human-readable body on the request-response surface.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string { return e.Err.Error() }
func (e *ConflictError) Unwrap() error { return e.Err }
