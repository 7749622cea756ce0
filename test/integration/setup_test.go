package integration

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cdw/cdw/internal/domain/encounter"
	"github.com/cdw/cdw/internal/domain/fact"
	"github.com/cdw/cdw/internal/domain/partition"
	"github.com/cdw/cdw/internal/domain/pipeline"
	"github.com/cdw/cdw/internal/domain/staging"
	"github.com/cdw/cdw/internal/domain/upload"
	"github.com/cdw/cdw/internal/domain/verify"
	"github.com/cdw/cdw/internal/platform/db"
	"github.com/cdw/cdw/internal/platform/metrics"
	"github.com/cdw/cdw/migrations"
)

// connStr points at the shared database; empty when none could be started.
var connStr string

var schemaSeq atomic.Int64

// TestMain starts PostgreSQL in a container unless TEST_DATABASE_URL names
// an existing server. Without Docker the tests skip.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		connStr = url
		os.Exit(m.Run())
	}

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("cdw_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres container unavailable, skipping integration tests: %v\n", err)
		os.Exit(m.Run())
	}

	connStr, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "container connection string: %v\n", err)
		_ = container.Terminate(ctx)
		os.Exit(1)
	}

	code := m.Run()
	if err := container.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "terminate container: %v\n", err)
	}
	os.Exit(code)
}

// warehouse is one freshly migrated star schema and the services on it.
type warehouse struct {
	schema string
	pool   *pgxpool.Pool
	tables fact.Tables
	parts  *partition.Service
	ledger *upload.Service
	verify *verify.Service
	runner *pipeline.Runner
}

func newWarehouse(t *testing.T) *warehouse {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	if connStr == "" {
		t.Skip("no database available")
	}

	ctx := context.Background()
	schema := fmt.Sprintf("it_%d_%d", os.Getpid(), schemaSeq.Add(1))

	pool, err := db.NewPool(ctx, connStr, 4, 0, schema)
	require.NoError(t, err)

	_, err = db.CreateStarSchema(ctx, pool, schema, db.NewMigratorFS(pool, migrations.FS))
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
		pool.Close()
	})

	w := &warehouse{
		schema: schema,
		pool:   pool,
		tables: fact.Tables{Schema: schema, Fact: "observation_fact"},
	}
	log := zerolog.Nop()
	w.parts = partition.NewService(partition.NewRepo(pool, w.tables, 2*time.Second), 2, log)
	w.ledger = upload.NewService(upload.NewRepo(pool, schema))
	w.verify = verify.NewService(w.ledger, verify.NewRepo(pool, w.tables))
	stager := staging.NewService(staging.NewRepo(pool, w.tables), 2, "", log)
	w.runner = pipeline.NewRunner(stager, w.parts, w.ledger, w.verify, log, metrics.New())
	return w
}

func (w *warehouse) exec(t *testing.T, sql string, args ...interface{}) {
	t.Helper()
	_, err := w.pool.Exec(context.Background(), sql, args...)
	require.NoError(t, err)
}

func (w *warehouse) mapPatient(t *testing.T, ide string, num int64) {
	w.exec(t, `INSERT INTO patient_mapping (patient_ide, patient_ide_source, patient_num) VALUES ($1, 'CMS', $2)`, ide, num)
}

func (w *warehouse) mapEncounter(t *testing.T, ide, source string, num int64) {
	w.exec(t, `INSERT INTO encounter_mapping (encounter_ide, encounter_ide_source, encounter_num) VALUES ($1, $2, $3)`, ide, source, num)
}

// mapPatientIn and mapEncounterIn add a mapping under another project, so
// one external id can carry several surrogate keys.
func (w *warehouse) mapPatientIn(t *testing.T, project, ide string, num int64) {
	w.exec(t, `INSERT INTO patient_mapping (patient_ide, patient_ide_source, project_id, patient_num) VALUES ($1, 'CMS', $2, $3)`, ide, project, num)
}

func (w *warehouse) mapEncounterIn(t *testing.T, project, ide, source string, num int64) {
	w.exec(t, `INSERT INTO encounter_mapping (encounter_ide, encounter_ide_source, project_id, encounter_num) VALUES ($1, $2, $3, $4)`, ide, source, project, num)
}

func (w *warehouse) factKeys(t *testing.T, uploadID int64) (patients, encounters []int64) {
	t.Helper()
	rows, err := w.pool.Query(context.Background(),
		`SELECT patient_num, encounter_num FROM observation_fact WHERE upload_id = $1 ORDER BY patient_num, encounter_num`, uploadID)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var p, e int64
		require.NoError(t, rows.Scan(&p, &e))
		patients = append(patients, p)
		encounters = append(encounters, e)
	}
	require.NoError(t, rows.Err())
	return patients, encounters
}

func (w *warehouse) countFacts(t *testing.T, uploadID int64) int64 {
	t.Helper()
	var n int64
	err := w.pool.QueryRow(context.Background(),
		`SELECT count(*) FROM observation_fact WHERE upload_id = $1`, uploadID).Scan(&n)
	require.NoError(t, err)
	return n
}

func (w *warehouse) tableExists(t *testing.T, name string) bool {
	t.Helper()
	var ok bool
	err := w.pool.QueryRow(context.Background(),
		`SELECT to_regclass($1) IS NOT NULL`, w.tables.Ident(name)).Scan(&ok)
	require.NoError(t, err)
	return ok
}

func (w *warehouse) resolver() *encounter.Service {
	return encounter.NewService(encounter.NewRepo(w.pool, w.schema), "MEDPAR")
}
