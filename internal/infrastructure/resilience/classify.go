package resilience

import (
	"context"
	"errors"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

// Run executes fn with the domain error classifier. An open breaker is
// reported as domain.ErrServiceUnavailable so callers can map it like any
// other upstream outage.
func (e *Executor) Run(ctx context.Context, operation string, fn func(context.Context) error) error {
	err := e.Execute(ctx, operation, fn, ClassifyDomainError)
	if err != nil && IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrServiceUnavailable, operation, err)
	}
	return err
}

// ClassifyDomainError retries and records upstream outages only. Caller
// mistakes and cancellations neither retry nor count against the breaker.
func ClassifyDomainError(err error) ErrorClassification {
	switch {
	case err == nil:
		return ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassification{}
	case domain.IsKind(err, domain.ErrServiceUnavailable):
		return ErrorClassification{Retryable: true, RecordFailure: true}
	case domain.IsKind(err, domain.ErrInvalidInput),
		domain.IsKind(err, domain.ErrNotFound),
		domain.IsKind(err, domain.ErrQueryValidationFailed),
		domain.IsKind(err, domain.ErrClassificationAmbiguous):
		return ErrorClassification{}
	default:
		return ErrorClassification{RecordFailure: true}
	}
}
