package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestSQLState_Wrapped(t *testing.T) {
	err := fmt.Errorf("validate staging: %w", &pgconn.PgError{Code: CodeUniqueViolation, ConstraintName: "observation_fact_stage_u7_pk"})

	if SQLState(err) != CodeUniqueViolation {
		t.Errorf("expected %s, got %q", CodeUniqueViolation, SQLState(err))
	}
	if !IsUniqueViolation(err) {
		t.Error("expected unique violation")
	}
	if ConstraintName(err) != "observation_fact_stage_u7_pk" {
		t.Errorf("unexpected constraint %q", ConstraintName(err))
	}
}

func TestSQLState_NonPg(t *testing.T) {
	err := errors.New("connection reset")
	if SQLState(err) != "" {
		t.Errorf("expected empty code, got %q", SQLState(err))
	}
	if IsTransientLock(err) || IsDuplicateObject(err) || IsPartitionOverlap(err) {
		t.Error("plain error must not classify")
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		code      string
		duplicate bool
		overlap   bool
		transient bool
	}{
		{CodeDuplicateTable, true, false, false},
		{CodeDuplicateObject, true, false, false},
		{CodeInvalidTableDef, true, false, false},
		{CodeInvalidObjectDef, false, true, false},
		{CodeLockNotAvailable, false, false, true},
		{CodeDeadlockDetected, false, false, true},
		{CodeSerializationFailure, false, false, true},
		{CodeUniqueViolation, false, false, false},
	}

	for _, tt := range tests {
		err := &pgconn.PgError{Code: tt.code}
		if got := IsDuplicateObject(err); got != tt.duplicate {
			t.Errorf("IsDuplicateObject(%s) = %v, want %v", tt.code, got, tt.duplicate)
		}
		if got := IsPartitionOverlap(err); got != tt.overlap {
			t.Errorf("IsPartitionOverlap(%s) = %v, want %v", tt.code, got, tt.overlap)
		}
		if got := IsTransientLock(err); got != tt.transient {
			t.Errorf("IsTransientLock(%s) = %v, want %v", tt.code, got, tt.transient)
		}
	}
}
