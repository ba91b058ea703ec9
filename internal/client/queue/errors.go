package queue

import (
	"errors"
	"fmt"
)

var ErrDuplicateID = errors.New("capture record id already queued")

// StorageError wraps failures of the underlying store. The queue does not try
// to recover from them.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("queue storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
