package model

import "errors"

var (
	// ErrArity is returned when the number of params does not match the
	// number of slots in a URL template. It is a caller bug and is never retried.
	ErrArity = errors.New("params do not match url template arity")

	// ErrInvalidParams is returned when a params value is not valid UTF-8.
	ErrInvalidParams = errors.New("invalid params")

	// ErrEmptyTemplate is returned when a URL template has no fragments.
	ErrEmptyTemplate = errors.New("url template is empty")
)
