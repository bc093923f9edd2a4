// Package apperr classifies failures so callers can decide whether a media
// item is worth another attempt.
package apperr

import (
	stdErrors "errors"
	"fmt"
)

type Kind string

const (
	KindTransientIO       Kind = "TRANSIENT_IO"
	KindPayloadTooLarge   Kind = "PAYLOAD_TOO_LARGE"
	KindAnnotationService Kind = "ANNOTATION_SERVICE"
	KindPersistence       Kind = "PERSISTENCE"
	KindNotFound          Kind = "NOT_FOUND"
	KindValidation        Kind = "VALIDATION"
	KindInternal          Kind = "INTERNAL"
)

var retryableKinds = map[Kind]bool{
	KindTransientIO:       true,
	KindAnnotationService: true,
	KindPersistence:       true,
	KindInternal:          true,
}

type Error struct {
	kind    Kind
	message string
	cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, message string) *Error {
	if err == nil {
		return New(kind, message)
	}
	return &Error{kind: kind, message: message, cause: err}
}

func (e *Error) Kind() Kind {
	if e == nil {
		return KindInternal
	}
	return e.kind
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the first *Error in err's chain.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// KindOf reports the kind of err; untyped errors are KindInternal.
func KindOf(err error) Kind {
	if typed := As(err); typed != nil {
		return typed.kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether another attempt could succeed. Oversized media
// and validation failures never will.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return retryableKinds[KindOf(err)]
}
