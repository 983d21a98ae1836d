package epidemic

import (
	"errors"
	"fmt"
)

// Error kinds returned by the derivation pipeline. Match them with errors.Is.
var (
	ErrParse            = errors.New("parse error")
	ErrShapeMismatch    = errors.New("shape mismatch")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNoDataForEntity  = errors.New("no data for entity")
)

// Error carries the kind of a pipeline failure together with a message.
type Error struct {
	// Kind is one of the Err* sentinels above.
	Kind error
	// Message describes what was wrong with the input.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

// Error returns the error message string.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newErrorf(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapErrorf(kind error, cause error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// NewParseErrorf creates a ParseError with a formatted message.
func NewParseErrorf(format string, args ...interface{}) error {
	return newErrorf(ErrParse, format, args...)
}

// NewShapeMismatchf creates a ShapeMismatch error with a formatted message.
func NewShapeMismatchf(format string, args ...interface{}) error {
	return newErrorf(ErrShapeMismatch, format, args...)
}

// NewInvalidParameterf creates an InvalidParameter error with a formatted message.
func NewInvalidParameterf(format string, args ...interface{}) error {
	return newErrorf(ErrInvalidParameter, format, args...)
}

// NewNoDataForEntity reports that entity is absent from the parsed rows.
func NewNoDataForEntity(entity string) error {
	return newErrorf(ErrNoDataForEntity, "entity %q not found", entity)
}
