package httpadapter

import (
	"net/http"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicErrorMessage hides internal details of unclassified failures.
func publicErrorMessage(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrNotFound):
		return err.Error()
	case domain.IsKind(err, domain.ErrServiceUnavailable):
		return "an upstream service is unavailable, please retry"
	case domain.IsKind(err, domain.ErrQueryValidationFailed):
		return domain.ErrQueryValidationFailed.Error()
	case domain.IsKind(err, domain.ErrSafetyViolation):
		return domain.ErrSafetyViolation.Error()
	default:
		return "internal error"
	}
}
