package store

import "errors"

var (
	// ErrNotFound signals that the requested run or result does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition signals an illegal run state change.
	ErrInvalidTransition = errors.New("invalid run transition")
	// ErrAlreadyExists signals a duplicate run id.
	ErrAlreadyExists = errors.New("record already exists")
)
