package storage

import "errors"

// Common client storage errors
var (
	// ErrOwnerNotFound indicates that the owner is not stored on this device
	ErrOwnerNotFound = errors.New("owner not found")

	// ErrRowNotFound indicates that the row has no applied columns
	ErrRowNotFound = errors.New("row not found")

	// ErrIntegrity indicates a colliding (owner, timestamp) key with a different payload.
	// The collision is fatal and never overwritten.
	ErrIntegrity = errors.New("operation integrity violation")

	// ErrTransient marks I/O failures that may succeed on retry
	ErrTransient = errors.New("transient storage error")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
