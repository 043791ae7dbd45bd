// Package errs defines the typed error kinds the core raises, mirroring the
// handling semantics the pipeline attaches to each: SourceMalformed rejects a
// dialogue, PartialContent is recorded and swallowed, ConstraintViolation
// rolls back a transaction, AnnotatorFailure is caught per-entity by the
// annotator runner, and StoreUnavailable propagates straight to the caller.
package errs

import "errors"

// Kind classifies an error for callers that need to branch on handling.
type Kind int

const (
	KindSourceMalformed Kind = iota
	KindPartialContent
	KindConstraintViolation
	KindAnnotatorFailure
	KindStoreUnavailable
)

// Error wraps an underlying cause with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func SourceMalformed(msg string, cause error) error {
	return &Error{Kind: KindSourceMalformed, Msg: msg, Err: cause}
}

func PartialContent(msg string, cause error) error {
	return &Error{Kind: KindPartialContent, Msg: msg, Err: cause}
}

func ConstraintViolation(msg string, cause error) error {
	return &Error{Kind: KindConstraintViolation, Msg: msg, Err: cause}
}

func AnnotatorFailure(msg string, cause error) error {
	return &Error{Kind: KindAnnotatorFailure, Msg: msg, Err: cause}
}

func StoreUnavailable(msg string, cause error) error {
	return &Error{Kind: KindStoreUnavailable, Msg: msg, Err: cause}
}

// Is reports whether err carries the given Kind, so callers can use
// errors.Is-style dispatch without a type switch.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
