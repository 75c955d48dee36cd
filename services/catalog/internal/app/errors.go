package app

import (
	"errors"
	"fmt"

	"appcatalog/pkg/domain"
	"appcatalog/pkg/store"
)

var (
	// ErrNotFound indicates the app id does not exist.
	ErrNotFound = errors.New("app not found")
	// ErrDuplicateID indicates create was called with an id already in use.
	ErrDuplicateID = store.ErrDuplicateID
	// ErrMissingField indicates a required creation field is empty.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidRating indicates a rating outside [1,5].
	ErrInvalidRating = domain.ErrInvalidRating
	// ErrStoreFailure wraps every persistence error.
	ErrStoreFailure = errors.New("store failure")
)

// StoreError carries the failing operation and the backend diagnostic.
// errors.Is matches both ErrStoreFailure and the underlying error.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store failure: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreFailure, e.Err}
}

func storeFailure(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

func missingField(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}
