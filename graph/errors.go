// Package graph is an embedded labeled property graph with Cypher-shaped
// pattern matching and optimistic units of work over a pluggable backend.
package graph

import "errors"

// Node and relationship errors
var (
	// ErrNodeNotFound indicates the referenced node does not exist
	ErrNodeNotFound = errors.New("node not found")

	// ErrConstraintViolation indicates a write would break a key constraint
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrInvalidLabel indicates an empty or unknown label
	ErrInvalidLabel = errors.New("invalid label")

	// ErrInvalidProperty indicates a property name or value the graph cannot store
	ErrInvalidProperty = errors.New("invalid property")

	// ErrInvalidRelationship indicates a relationship without a type or endpoint
	ErrInvalidRelationship = errors.New("invalid relationship")
)

// Query errors
var (
	// ErrInvalidPattern indicates a pattern that cannot be parsed or bound
	ErrInvalidPattern = errors.New("invalid pattern")
)

// Unit of work errors
var (
	// ErrReadOnly is returned by mutations inside View
	ErrReadOnly = errors.New("transaction is read-only")

	// ErrTxClosed is returned when a transaction is used after its unit of work ended
	ErrTxClosed = errors.New("transaction closed")

	// ErrRevisionConflict is returned by a Backend when the stored revision moved
	ErrRevisionConflict = errors.New("revision conflict")

	// ErrSnapshotTooLarge is returned by a Backend that cannot hold the encoded graph
	ErrSnapshotTooLarge = errors.New("snapshot too large")
)
