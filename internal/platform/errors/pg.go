package errors

import (
	stderrs "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// sqlStateCodes classifies the SQLSTATEs curator's queries can raise
// https://www.postgresql.org/docs/current/errcodes-appendix.html
var sqlStateCodes = map[string]ErrorCode{
	"23505": ErrorCodeDuplicateKey,    // unique_violation
	"23503": ErrorCodeInvalidArgument, // foreign_key_violation
	"23502": ErrorCodeValidation,      // not_null_violation
	"23514": ErrorCodeValidation,      // check_violation
	"22001": ErrorCodeInvalidArgument, // string_data_right_truncation
	"22P02": ErrorCodeInvalidArgument, // invalid_text_representation
	"55P03": ErrorCodeConflict,        // lock_not_available
	"40001": ErrorCodeConflict,        // serialization_failure
	"40P01": ErrorCodeConflict,        // deadlock_detected
	"25006": ErrorCodeUnavailable,     // read_only_sql_transaction
	"57P03": ErrorCodeUnavailable,     // cannot_connect_now
}

// SQLState is the SQLSTATE of a postgres error in err's chain, "" if none
func SQLState(err error) string {
	var pg *pgconn.PgError
	if stderrs.As(err, &pg) {
		return pg.Code
	}
	return ""
}

// FromPostgres wraps a database error under msg, nil stays nil
// an error that already carries a code keeps it, otherwise the SQLSTATE decides
// and anything unrecognized is ErrorCodeDB
func FromPostgres(err error, msg string) error {
	if err == nil {
		return nil
	}
	code := CodeOf(err)
	if code == ErrorCodeUnknown {
		var ok bool
		if code, ok = sqlStateCodes[SQLState(err)]; !ok {
			code = ErrorCodeDB
		}
	}
	return Wrap(err, code, msg)
}

// FromPostgresf is FromPostgres with formatting
func FromPostgresf(err error, format string, a ...any) error {
	return FromPostgres(err, fmt.Sprintf(format, a...))
}
