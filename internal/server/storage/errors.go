package storage

import "errors"

// Common storage errors
var (
	// ErrOwnerNotFound indicates that owner is not registered on the relay
	ErrOwnerNotFound = errors.New("owner not found")

	// ErrOwnerMismatch indicates that owner is already registered with another token key
	ErrOwnerMismatch = errors.New("owner registered with another key")

	// ErrQuotaExceeded indicates that the owner storage quota is exhausted
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrIntegrity indicates a colliding (owner, timestamp) key with a different payload
	ErrIntegrity = errors.New("operation integrity violation")

	// ErrTransient marks I/O failures that may succeed on retry
	ErrTransient = errors.New("transient storage error")
)
