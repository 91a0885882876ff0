package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"villagepay.org/internal/apperr"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrCheckViolation      = "23514"
	pgErrSerialization       = "40001"
	pgErrDeadlock            = "40P01"
)

// mapErr folds driver errors into the apperr taxonomy. Errors that already carry
// a kind, and context errors, pass through unchanged.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case apperr.Kind(err) != "internal", errors.Is(err, apperr.ErrInternal):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrSerialization, pgErrDeadlock, pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", apperr.ErrConflict, pgErr.Message)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", apperr.ErrNotFound, pgErr.Message)
		case pgErrCheckViolation:
			return fmt.Errorf("%w: %s", apperr.ErrValidation, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: postgres: %v", apperr.ErrInternal, err)
}

func notFoundOr(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", apperr.ErrNotFound, kind, id)
	}
	return mapErr(err)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
