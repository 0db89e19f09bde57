package ingest

import (
	"errors"
	"fmt"
)

// Per-source rejection kinds. They are recoverable unless the engine runs
// with StopOnError.
var (
	ErrOpenFailure       = errors.New("source cannot be opened")
	ErrGeoreferencing    = errors.New("unsupported georeferencing")
	ErrReferenceMismatch = errors.New("spatial reference mismatch")
)

// ErrEmptyCatalog is returned when no source survives validation.
var ErrEmptyCatalog = errors.New("no valid sources")

// SourceError reports why one input was rejected.
type SourceError struct {
	Path string
	Kind error // one of the Err* kinds above
	Err  error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Path, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Path, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Reason returns the short label used in logs, metrics and reports.
func (e *SourceError) Reason() string {
	switch e.Kind {
	case ErrOpenFailure:
		return "open"
	case ErrGeoreferencing:
		return "georeferencing"
	case ErrReferenceMismatch:
		return "reference_mismatch"
	default:
		return "unknown"
	}
}
