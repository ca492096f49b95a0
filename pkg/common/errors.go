package common

import "github.com/pkg/errors"

var (
	// ErrKindMismatch is returned when two values of incompatible kinds are compared
	// or a value does not fit the kind of a field.
	ErrKindMismatch = errors.New("value kind mismatch")
	// ErrArityMismatch is returned when two order keys of different length meet.
	ErrArityMismatch = errors.New("order key arity mismatch")
	// ErrFieldNotFound is returned when an alias is not part of a field list.
	ErrFieldNotFound = errors.New("field not found")
	// ErrValidation is returned when a value violates a field constraint.
	ErrValidation = errors.New("field validation failed")
	// ErrParse is returned when a textual literal cannot be converted into a value.
	ErrParse = errors.New("cannot parse value")
)
