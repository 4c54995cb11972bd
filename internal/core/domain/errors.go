package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTagNotFound      = errors.New("tag not found")
	ErrImageDecode      = errors.New("image decode failure")
	ErrDocumentLoad     = errors.New("document load failure")
	ErrDocumentSave     = errors.New("document save failure")
	ErrRequestMalformed = errors.New("request malformed")
	ErrBatchNotFound    = errors.New("signing batch not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
