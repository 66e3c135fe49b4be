package qdrant

import (
	"errors"
	"fmt"
)

type statusError struct {
	code   int
	status string
	body   string
}

func (e *statusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("status %s: %s", e.status, e.body)
	}
	return fmt.Sprintf("status %s", e.status)
}

func asStatusError(err error, target **statusError) bool {
	return errors.As(err, target)
}
