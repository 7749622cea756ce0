package partition

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// -- Mock Repository --

// mockRepo models the catalog of a single upload.
type mockRepo struct {
	cat        Catalog
	higherPart bool
	dupKeys    bool

	exchangeErrs []error
	splits       int
	exchanges    int
	drops        int
	constrains   int
	catalogErr   error
	parts        []Partition
}

func (m *mockRepo) Catalog(_ context.Context, _ int64) (*Catalog, error) {
	if m.catalogErr != nil {
		return nil, m.catalogErr
	}
	c := m.cat
	return &c, nil
}

func (m *mockRepo) Split(_ context.Context, _ int64) error {
	m.splits++
	if m.cat.PartitionAttached {
		return ErrPartitionExists
	}
	if m.higherPart {
		return ErrOutOfOrder
	}
	m.cat.PartitionAttached = true
	return nil
}

func (m *mockRepo) Constrain(_ context.Context, uploadID int64) error {
	m.constrains++
	if m.dupKeys {
		return errors.Join(ErrDuplicateKey, errors.New("key (patient_num)=(1) already exists"))
	}
	m.cat.StagingHasKey = true
	return nil
}

func (m *mockRepo) Exchange(_ context.Context, _ int64) error {
	m.exchanges++
	if len(m.exchangeErrs) > 0 {
		err := m.exchangeErrs[0]
		m.exchangeErrs = m.exchangeErrs[1:]
		if err != nil {
			return err
		}
	}
	m.cat.PartitionHasBound = true
	m.cat.StagingHasKey = false
	return nil
}

func (m *mockRepo) DropStaging(_ context.Context, _ int64) error {
	m.drops++
	m.cat.StagingExists = false
	m.cat.StagingHasKey = false
	return nil
}

func (m *mockRepo) List(_ context.Context) ([]Partition, error) { return m.parts, nil }

func newTestService(repo *mockRepo, retries int) *Service {
	svc := NewService(repo, retries, zerolog.Nop())
	svc.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return svc
}

func lockTimeout() error {
	return &pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"}
}

// -- Tests --

func TestCatalog_State(t *testing.T) {
	tests := []struct {
		cat  Catalog
		want State
	}{
		{Catalog{}, CatchAllOnly},
		{Catalog{StagingExists: true, StagingHasKey: true}, CatchAllOnly},
		{Catalog{PartitionAttached: true}, Split},
		{Catalog{PartitionAttached: true, StagingExists: true}, Split},
		{Catalog{PartitionAttached: true, StagingExists: true, StagingHasKey: true}, StagedValidated},
		{Catalog{PartitionAttached: true, PartitionHasBound: true, StagingExists: true}, Exchanged},
		{Catalog{PartitionAttached: true, PartitionHasBound: true}, StagingDropped},
	}
	for _, tt := range tests {
		if got := tt.cat.State(); got != tt.want {
			t.Errorf("%+v: got %s, want %s", tt.cat, got, tt.want)
		}
	}
}

func TestState_String(t *testing.T) {
	if StagedValidated.String() != "STAGED_VALIDATED" {
		t.Errorf("unexpected %s", StagedValidated)
	}
	if State(42).String() != "State(42)" {
		t.Errorf("unexpected %s", State(42))
	}
	b, _ := Exchanged.MarshalText()
	if string(b) != "EXCHANGED" {
		t.Errorf("unexpected text %s", b)
	}
	if Split.Live() || !Exchanged.Live() || !StagingDropped.Live() {
		t.Error("unexpected Live results")
	}
}

func TestErrors_StructuralConflict(t *testing.T) {
	for _, err := range []error{ErrPartitionExists, ErrOutOfOrder, ErrAlreadyValidated, ErrAlreadyExchanged} {
		if !errors.Is(err, ErrStructuralConflict) {
			t.Errorf("%v: expected structural conflict", err)
		}
		wrapped := errors.Join(errors.New("context"), err)
		if !errors.Is(wrapped, ErrStructuralConflict) || !errors.Is(wrapped, err) {
			t.Errorf("%v: expected wrapped error to match", err)
		}
	}
	if errors.Is(ErrDuplicateKey, ErrStructuralConflict) {
		t.Error("duplicate key must not be a structural conflict")
	}
	if errors.Is(ErrPartitionExists, ErrOutOfOrder) {
		t.Error("expected distinct conflicts")
	}
}

func TestIsDone(t *testing.T) {
	if !IsDone(ErrPartitionExists) || !IsDone(ErrAlreadyValidated) || !IsDone(ErrAlreadyExchanged) {
		t.Error("expected already-done errors")
	}
	if IsDone(ErrOutOfOrder) || IsDone(ErrDuplicateKey) || IsDone(nil) {
		t.Error("unexpected already-done match")
	}
}

func TestLifecycle(t *testing.T) {
	repo := &mockRepo{}
	svc := newTestService(repo, 3)
	ctx := context.Background()

	steps := []struct {
		name string
		run  func() error
		want State
	}{
		{"split", func() error { return svc.Split(ctx, 7) }, Split},
		{"stage", func() error { repo.cat.StagingExists = true; return nil }, Split},
		{"validate", func() error { return svc.Validate(ctx, 7) }, StagedValidated},
		{"exchange", func() error { return svc.Exchange(ctx, 7) }, Exchanged},
		{"drop", func() error { return svc.Drop(ctx, 7) }, StagingDropped},
	}
	for _, st := range steps {
		if err := st.run(); err != nil {
			t.Fatalf("%s: %v", st.name, err)
		}
		got, err := svc.Inspect(ctx, 7)
		if err != nil {
			t.Fatalf("inspect: %v", err)
		}
		if got != st.want {
			t.Fatalf("after %s: state %s, want %s", st.name, got, st.want)
		}
	}
}

func TestSplit_Repeated(t *testing.T) {
	repo := &mockRepo{cat: Catalog{PartitionAttached: true}}
	err := newTestService(repo, 0).Split(context.Background(), 7)
	if !errors.Is(err, ErrPartitionExists) || !errors.Is(err, ErrStructuralConflict) {
		t.Errorf("expected ErrPartitionExists, got %v", err)
	}
}

func TestSplit_OutOfOrder(t *testing.T) {
	repo := &mockRepo{higherPart: true}
	if err := newTestService(repo, 0).Split(context.Background(), 7); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("expected ErrOutOfOrder, got %v", err)
	}
}

func TestSplit_RejectsUnboundedID(t *testing.T) {
	for _, id := range []int64{0, -3, math.MaxInt64} {
		repo := &mockRepo{}
		if err := newTestService(repo, 0).Split(context.Background(), id); err == nil {
			t.Errorf("upload %d: expected split to be refused", id)
		}
		if repo.splits != 0 {
			t.Errorf("upload %d: expected no split issued, got %d", id, repo.splits)
		}
	}
}

func TestValidate_States(t *testing.T) {
	tests := []struct {
		name string
		cat  Catalog
		want error
	}{
		{"not split", Catalog{}, ErrNotSplit},
		{"no staging", Catalog{PartitionAttached: true}, ErrNoStaging},
		{"already", Catalog{PartitionAttached: true, StagingExists: true, StagingHasKey: true}, ErrAlreadyValidated},
		{"exchanged", Catalog{PartitionAttached: true, PartitionHasBound: true, StagingExists: true}, ErrAlreadyExchanged},
		{"dropped", Catalog{PartitionAttached: true, PartitionHasBound: true}, ErrAlreadyExchanged},
	}
	for _, tt := range tests {
		repo := &mockRepo{cat: tt.cat}
		err := newTestService(repo, 0).Validate(context.Background(), 7)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
		if repo.constrains != 0 {
			t.Errorf("%s: expected no DDL", tt.name)
		}
	}
}

func TestValidate_DuplicateKey(t *testing.T) {
	repo := &mockRepo{cat: Catalog{PartitionAttached: true, StagingExists: true}, dupKeys: true}
	err := newTestService(repo, 0).Validate(context.Background(), 7)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if errors.Is(err, ErrStructuralConflict) {
		t.Error("duplicate key must not look like a structural conflict")
	}
}

func TestExchange_RetriesLockTimeout(t *testing.T) {
	repo := &mockRepo{
		cat:          Catalog{PartitionAttached: true, StagingExists: true, StagingHasKey: true},
		exchangeErrs: []error{lockTimeout(), &pgconn.PgError{Code: "40P01"}},
	}
	if err := newTestService(repo, 3).Exchange(context.Background(), 7); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if repo.exchanges != 3 {
		t.Errorf("expected 3 attempts, got %d", repo.exchanges)
	}
}

func TestExchange_RetriesExhausted(t *testing.T) {
	repo := &mockRepo{
		cat:          Catalog{PartitionAttached: true, StagingExists: true, StagingHasKey: true},
		exchangeErrs: []error{lockTimeout(), lockTimeout(), lockTimeout(), lockTimeout()},
	}
	err := newTestService(repo, 2).Exchange(context.Background(), 7)
	if err == nil || !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("expected exhausted retries, got %v", err)
	}
	if !IsTransient(err) {
		t.Error("expected the lock error to stay visible")
	}
	if repo.exchanges != 3 {
		t.Errorf("expected 3 attempts, got %d", repo.exchanges)
	}
}

func TestExchange_PermanentErrorNotRetried(t *testing.T) {
	repo := &mockRepo{exchangeErrs: []error{ErrAlreadyExchanged}}
	err := newTestService(repo, 5).Exchange(context.Background(), 7)
	if !errors.Is(err, ErrAlreadyExchanged) {
		t.Fatalf("expected ErrAlreadyExchanged, got %v", err)
	}
	if repo.exchanges != 1 {
		t.Errorf("expected a single attempt, got %d", repo.exchanges)
	}
}

func TestExchange_Cancelled(t *testing.T) {
	repo := &mockRepo{exchangeErrs: []error{lockTimeout(), lockTimeout()}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := newTestService(repo, 5).Exchange(ctx, 7); err == nil {
		t.Error("expected error on cancelled context")
	}
}

func TestDrop(t *testing.T) {
	repo := &mockRepo{cat: Catalog{PartitionAttached: true, PartitionHasBound: true}}
	svc := newTestService(repo, 0)
	if err := svc.Drop(context.Background(), 7); err != nil {
		t.Errorf("expected drop after drop to be a no-op, got %v", err)
	}
	if repo.drops != 0 {
		t.Errorf("expected no DDL, got %d drops", repo.drops)
	}

	repo.cat = Catalog{PartitionAttached: true, StagingExists: true, StagingHasKey: true}
	if err := svc.Drop(context.Background(), 7); !errors.Is(err, ErrNotExchanged) {
		t.Errorf("expected ErrNotExchanged before exchange, got %v", err)
	}
}

func TestAbort(t *testing.T) {
	repo := &mockRepo{cat: Catalog{PartitionAttached: true, StagingExists: true, StagingHasKey: true}}
	svc := newTestService(repo, 0)
	if err := svc.Abort(context.Background(), 7); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if st, _ := svc.Inspect(context.Background(), 7); st != Split {
		t.Errorf("expected partition kept and staging gone, got %s", st)
	}

	repo.cat = Catalog{PartitionAttached: true, PartitionHasBound: true, StagingExists: true}
	if err := svc.Abort(context.Background(), 7); !errors.Is(err, ErrAlreadyExchanged) {
		t.Errorf("expected abort after exchange to be refused, got %v", err)
	}
}

func TestInspect_Error(t *testing.T) {
	repo := &mockRepo{catalogErr: errors.New("conn reset")}
	if _, err := newTestService(repo, 0).Inspect(context.Background(), 7); err == nil {
		t.Error("expected catalog error")
	}
}

func TestList(t *testing.T) {
	repo := &mockRepo{parts: []Partition{{UploadID: 3, Name: "observation_fact_u3", Exchanged: true}}}
	parts, err := newTestService(repo, 0).List(context.Background())
	if err != nil || len(parts) != 1 || parts[0].UploadID != 3 {
		t.Errorf("unexpected %v, %v", parts, err)
	}
}
