package repository

import (
	"errors"
	"fmt"

	"formsave/internal/answers/model"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrAlreadyExists   = errors.New("document already exists")
	ErrVersionConflict = errors.New("version conflict")
)

// ConflictError is returned by CompareAndSwap when the expected version is
// stale. Current is the authoritative state read in the same transaction.
type ConflictError struct {
	Expected int64
	Current  *model.Document
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, current %d", e.Expected, e.Current.Version)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}
