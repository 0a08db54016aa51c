package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Postgres SQLSTATE codes for failures that retrying cannot fix.
var permanentCodes = map[string]struct{}{
	"23502": {}, // not_null_violation
	"23503": {}, // foreign_key_violation
	"23514": {}, // check_violation
	"22P02": {}, // invalid_text_representation
	"22001": {}, // string_data_right_truncation
}

// IsPermanent reports whether a storage error will fail the same way on every retry.
// Serialization failures, deadlocks, timeouts and connection errors are transient.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := permanentCodes[pgErr.Code]
		return ok
	}
	return false
}
