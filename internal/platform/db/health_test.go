package db

import (
	"context"
	"errors"
	"testing"
)

func TestPoolStats_UnhealthyState(t *testing.T) {
	stats := &PoolStats{
		MaxConns:        20,
		AcquireDuration: "0s",
		Healthy:         false,
	}

	if stats.Healthy {
		t.Error("expected Healthy to be false when TotalConns is 0")
	}
	if stats.TotalConns != 0 {
		t.Errorf("expected TotalConns 0, got %d", stats.TotalConns)
	}
}

func TestRunChecks_AllPass(t *testing.T) {
	ready := []ReadyCheck{
		{Name: "fact_table", Check: func(ctx context.Context) error { return nil }},
		{Name: "ledger", Check: func(ctx context.Context) error { return nil }},
	}

	checks, ok := runChecks(context.Background(), ready)
	if !ok {
		t.Fatal("expected all checks to pass")
	}
	if checks["fact_table"] != "ok" || checks["ledger"] != "ok" {
		t.Errorf("unexpected checks: %v", checks)
	}
}

func TestRunChecks_OneFails(t *testing.T) {
	ready := []ReadyCheck{
		{Name: "fact_table", Check: func(ctx context.Context) error { return errors.New("relation does not exist") }},
		{Name: "ledger", Check: func(ctx context.Context) error { return nil }},
	}

	checks, ok := runChecks(context.Background(), ready)
	if ok {
		t.Fatal("expected failure when a check fails")
	}
	if checks["fact_table"] != "relation does not exist" {
		t.Errorf("expected failing check message, got %q", checks["fact_table"])
	}
	if checks["ledger"] != "ok" {
		t.Errorf("expected ledger ok, got %q", checks["ledger"])
	}
}

func TestRunChecks_None(t *testing.T) {
	checks, ok := runChecks(context.Background(), nil)
	if !ok {
		t.Error("expected no checks to be healthy")
	}
	if len(checks) != 0 {
		t.Errorf("expected empty checks, got %v", checks)
	}
}
