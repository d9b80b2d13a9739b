package graphstore

import "errors"

var (
	// ErrNotFound is returned when a node or edge does not exist.
	ErrNotFound = errors.New("graphstore: not found")

	// ErrAlreadyExists is returned by CreateNode for a duplicate id.
	ErrAlreadyExists = errors.New("graphstore: already exists")

	// ErrInvalidID is returned for empty ids.
	ErrInvalidID = errors.New("graphstore: invalid id")

	// ErrInvalidData is returned for nil or malformed input.
	ErrInvalidData = errors.New("graphstore: invalid data")

	// ErrDimensionMismatch is returned when an embedding does not match the
	// dimension of the index covering its label.
	ErrDimensionMismatch = errors.New("graphstore: embedding dimension mismatch")

	// ErrStorageClosed is returned after Close.
	ErrStorageClosed = errors.New("graphstore: storage closed")

	// ErrUnknownIndex is returned for an undeclared vector index name.
	ErrUnknownIndex = errors.New("graphstore: unknown vector index")
)
