package storage

import "errors"

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates that a write would violate a storage
	// invariant, such as opening a second encounter for one subject.
	ErrConflict = errors.New("storage conflict")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)
