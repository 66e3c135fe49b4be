package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

// wrapDBError marks connection-level failures as ErrServiceUnavailable so the
// resilience executor retries them. Statement errors pass through unchanged.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, net.ErrClosed) {
		return domain.WrapError(domain.ErrServiceUnavailable, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrServiceUnavailable, op, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return domain.WrapError(domain.ErrServiceUnavailable, op, err)
	}
	var pgErr *pgconn.PgError
	// Class 08 is connection exception, 57P0x is operator shutdown.
	if errors.As(err, &pgErr) && (len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" || pgErr.Code == "57P01" || pgErr.Code == "57P03") {
		return domain.WrapError(domain.ErrServiceUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
