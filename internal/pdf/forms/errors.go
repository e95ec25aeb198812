package forms

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes engine failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindDetectionFailure is fatal: the whole ingest aborts.
	KindDetectionFailure
	// KindResolutionMiss means a logical name matched nothing; the field is skipped.
	KindResolutionMiss
	// KindFillFailure is a per-field write failure; the field is skipped.
	KindFillFailure
	// KindValidationFailure blocks finalize until the user corrects it.
	KindValidationFailure
)

// String returns a string representation of the ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindDetectionFailure:
		return "DETECTION_FAILURE"
	case KindResolutionMiss:
		return "RESOLUTION_MISS"
	case KindFillFailure:
		return "FILL_FAILURE"
	case KindValidationFailure:
		return "VALIDATION_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Fatal reports whether errors of this kind abort the surrounding operation
// with no partial result.
func (k ErrorKind) Fatal() bool {
	return k == KindDetectionFailure
}

// EngineError carries the kind of failure, the fields involved and the cause.
type EngineError struct {
	Kind    ErrorKind
	Message string
	Fields  []string
	Page    int
	Err     error
}

// Error implements the error interface
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)
	if e.Page > 0 {
		fmt.Fprintf(&b, " (page %d)", e.Page)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Recoverable reports whether the caller may continue with a partial result.
func (e *EngineError) Recoverable() bool {
	return !e.Kind.Fatal()
}

func newDetectionError(page int, msg string, cause error) *EngineError {
	return &EngineError{Kind: KindDetectionFailure, Message: msg, Page: page, Err: cause}
}

// NewResolutionMiss reports a logical name absent from every lookup table.
func NewResolutionMiss(logicalName string) *EngineError {
	return &EngineError{
		Kind:    KindResolutionMiss,
		Message: "no field or positioned annotation",
		Fields:  []string{logicalName},
	}
}

// NewFillFailure reports a failed write for one field.
func NewFillFailure(identifier string, cause error) *EngineError {
	return &EngineError{
		Kind:    KindFillFailure,
		Message: "field write failed",
		Fields:  []string{identifier},
		Err:     cause,
	}
}

// NewValidationFailure reports required fields that are still empty.
func NewValidationFailure(missing []string) *EngineError {
	return &EngineError{
		Kind:    KindValidationFailure,
		Message: "required fields are empty",
		Fields:  missing,
	}
}

// KindOf extracts the engine error kind from err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is an EngineError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
