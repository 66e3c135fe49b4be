package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput            = errors.New("invalid input")
	ErrNotFound                = errors.New("not found")
	ErrServiceUnavailable      = errors.New("external service unavailable")
	ErrClassificationAmbiguous = errors.New("classification ambiguous")
	ErrQueryValidationFailed   = errors.New("query validation failed")
	ErrSafetyViolation         = errors.New("safety violation prevented")
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
