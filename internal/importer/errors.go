package importer

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatch means no ticket carries the unique value.
	ErrNoMatch = errors.New("no ticket matches")

	// ErrAmbiguousMatch means two or more tickets carry the unique value.
	ErrAmbiguousMatch = errors.New("multiple tickets match")

	// ErrStaleBatch means the caller's handle no longer names the user's
	// current batch: another upload replaced it.
	ErrStaleBatch = errors.New("stale import: another import was started since this one")

	// ErrNoBatch means the user has no upload waiting to be committed.
	ErrNoBatch = errors.New("upload not found: no import is in progress")

	// ErrEmptyInput means the payload holds no data line.
	ErrEmptyInput = errors.New("empty file: no data line in the file, check its encoding")

	// ErrMalformedInput wraps parse failures of the payload.
	ErrMalformedInput = errors.New("invalid csv")

	// ErrUniqueFieldRequired means the request needs a unique column and has none.
	ErrUniqueFieldRequired = errors.New("a unique field is required")

	// ErrUnknownUniqueField means the unique column maps to something that cannot be matched on.
	ErrUnknownUniqueField = errors.New("unique field cannot be matched on")

	// ErrInvalidMapping means the column mapping is not usable.
	ErrInvalidMapping = errors.New("invalid field mapping")

	// ErrBatchInProgress means a commit of the same batch is already running.
	ErrBatchInProgress = errors.New("import already in progress for this upload")

	// ErrFileTooLarge means the payload exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file too large")
)

// ReferenceNotFoundError reports a row value naming an entity that does not exist.
type ReferenceNotFoundError struct {
	Kind string // User, Version, Category, Project
	Key  string
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("%s %q was not found", e.Kind, e.Key)
}

// MatchError wraps ErrNoMatch or ErrAmbiguousMatch with the lookup that produced it.
type MatchError struct {
	Attribute string
	Value     string
	Err       error
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("%s: %s = %q", e.Err, e.Attribute, e.Value)
}

func (e *MatchError) Unwrap() error { return e.Err }

// FieldCoercionError reports a raw value that could not be converted for a field.
type FieldCoercionError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldCoercionError) Error() string {
	return fmt.Sprintf("field %s: value %q was invalid: %v", e.Field, e.Value, e.Err)
}

func (e *FieldCoercionError) Unwrap() error { return e.Err }

// InputError reports a payload problem found before any row was processed.
type InputError struct {
	Line   int    // offending line, 0 when not line-specific
	Reason string // what is wrong
	Header string // header line, for display
	Err    error
}

func (e *InputError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d)", e.Reason, e.Line)
	}
	return e.Reason
}

func (e *InputError) Unwrap() error { return e.Err }
