package docmap

import (
	"errors"
	"fmt"

	"github.com/hupe1980/docmap/internal/header"
)

var (
	// ErrNotFound is returned when a key is absent from the live index.
	ErrNotFound = errors.New("document not found")

	// ErrOutOfRange is returned for ordinal or range bounds outside the array.
	ErrOutOfRange = errors.New("index out of range")

	// ErrEmptyKey is returned when a document has no ID.
	ErrEmptyKey = errors.New("document key must not be empty")
)

// ErrKeyTooLong indicates a document ID that exceeds the store's fixed key
// width. Keys are never truncated; the operation fails instead.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrKeyTooLong struct {
	Key       string
	KeyLength int
	cause     error
}

func (e *ErrKeyTooLong) Error() string {
	return fmt.Sprintf("key %q exceeds fixed width of %d runes", e.Key, e.KeyLength)
}

func (e *ErrKeyTooLong) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, header.ErrSlotOutOfRange) {
		return fmt.Errorf("%w: %w", ErrOutOfRange, err)
	}

	return err
}
