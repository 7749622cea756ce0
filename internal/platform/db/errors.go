package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the loader reacts to.
const (
	CodeUniqueViolation      = "23505"
	CodeDuplicateTable       = "42P07"
	CodeDuplicateObject      = "42710"
	CodeInvalidTableDef      = "42P16"
	CodeInvalidObjectDef     = "42P17"
	CodeLockNotAvailable     = "55P03"
	CodeDeadlockDetected     = "40P01"
	CodeUndefinedTable       = "42P01"
	CodeCheckViolation       = "23514"
	CodeSerializationFailure = "40001"
)

// SQLState returns the PostgreSQL error code carried by err, or "".
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// ConstraintName returns the violated constraint for integrity errors.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func IsUniqueViolation(err error) bool {
	return SQLState(err) == CodeUniqueViolation
}

// IsDuplicateObject covers relations, constraints and indexes that already exist.
func IsDuplicateObject(err error) bool {
	switch SQLState(err) {
	case CodeDuplicateTable, CodeDuplicateObject, CodeInvalidTableDef:
		return true
	}
	return false
}

// IsPartitionOverlap reports a partition bound that collides with an
// existing partition.
func IsPartitionOverlap(err error) bool {
	return SQLState(err) == CodeInvalidObjectDef
}

// IsTransientLock reports errors worth retrying after a short wait.
func IsTransientLock(err error) bool {
	switch SQLState(err) {
	case CodeLockNotAvailable, CodeDeadlockDetected, CodeSerializationFailure:
		return true
	}
	return false
}
