package store

import "errors"

var (
	ErrNotFound       = errors.New("entity not found")
	ErrOutboxNotFound = errors.New("outbox item not found")
	ErrCASFailed      = errors.New("compare-and-set failed: status did not match expected")
	ErrStoreClosed    = errors.New("store is closed")
)
