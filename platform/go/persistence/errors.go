package persistence

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrRecordNotFound indicates a missing (or out of scope) row.
	ErrRecordNotFound = errors.New("record not found")
	// ErrConflict indicates a uniqueness or reference violation.
	ErrConflict = errors.New("record conflict")
	// ErrNotSoftDeletable is returned when a soft-delete operation targets a type without that capability.
	ErrNotSoftDeletable = errors.New("entity does not support soft delete")
	// ErrUnknownEntity is returned when a name does not match any registered table.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrInvalidCascadeDepth is returned when a cascade is requested with a non-positive depth.
	ErrInvalidCascadeDepth = errors.New("cascade depth must be a positive integer")
	// ErrCascadeDepthExceeded is returned when related rows remain once the depth budget is spent.
	ErrCascadeDepthExceeded = errors.New("maximum cascade depth exceeded")
	// ErrInvalidIdentifier is returned for table or column names that are unsafe to embed in SQL.
	ErrInvalidIdentifier = errors.New("invalid sql identifier")
	// ErrNoFieldsToUpdate is returned by partial updates without any column.
	ErrNoFieldsToUpdate = errors.New("no fields to update")
)

const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateForeignKeyViolation
}
