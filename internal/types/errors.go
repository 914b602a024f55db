package types

import (
	"errors"
	"fmt"
)

// CaptureError means the frame source (or the engine processing its frames) failed.
// It ends the current session.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// StorageError wraps a failed read or write of the identity store or the ledger.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

var (
	// ErrIdentityNotFound is returned by keyed lookups for an id that was never enrolled.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrIncompleteIdentity rejects an identity whose sample count does not match its embeddings.
	ErrIncompleteIdentity = errors.New("identity does not carry its full sample set")
)
