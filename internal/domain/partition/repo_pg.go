package partition

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cdw/cdw/internal/domain/fact"
	"github.com/cdw/cdw/internal/platform/db"
)

// physicalKey is the fact primary key. upload_id is the partition key and
// must be part of any unique index on the partitioned table.
const physicalKey = `patient_num, concept_cd, modifier_cd, start_date, encounter_num, instance_num, provider_id, upload_id`

type repoPG struct {
	pool        *pgxpool.Pool
	tables      fact.Tables
	lockTimeout time.Duration
}

func NewRepo(pool *pgxpool.Pool, tables fact.Tables, lockTimeout time.Duration) Repository {
	return &repoPG{pool: pool, tables: tables, lockTimeout: lockTimeout}
}

func (r *repoPG) qualified(name string) string {
	return r.tables.Schema + "." + name
}

// lockFact serialises structural changes to the fact table across loaders.
func (r *repoPG) lockFact(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, r.qualified(r.tables.Fact))
	if err != nil {
		return fmt.Errorf("lock fact table: %w", err)
	}
	return nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func (r *repoPG) catalog(ctx context.Context, q queryRower, uploadID int64) (*Catalog, error) {
	var c Catalog
	err := q.QueryRow(ctx, `
		SELECT
			EXISTS (
				SELECT 1 FROM pg_inherits i
				WHERE i.inhparent = to_regclass($1) AND i.inhrelid = to_regclass($2)
			),
			EXISTS (
				SELECT 1 FROM pg_constraint
				WHERE conrelid = to_regclass($2) AND conname = $4
			),
			to_regclass($3) IS NOT NULL,
			EXISTS (
				SELECT 1 FROM pg_constraint
				WHERE conrelid = to_regclass($3) AND conname = $5 AND contype = 'p'
			) AND EXISTS (
				SELECT 1 FROM pg_constraint
				WHERE conrelid = to_regclass($3) AND conname = $4 AND contype = 'c'
			)`,
		r.qualified(r.tables.Fact),
		r.qualified(r.tables.PartitionName(uploadID)),
		r.qualified(r.tables.StagingName(uploadID)),
		r.tables.BoundConstraint(uploadID),
		r.tables.PrimaryKeyName(uploadID),
	).Scan(&c.PartitionAttached, &c.PartitionHasBound, &c.StagingExists, &c.StagingHasKey)
	if err != nil {
		return nil, fmt.Errorf("read catalog for upload %d: %w", uploadID, err)
	}
	return &c, nil
}

func (r *repoPG) Catalog(ctx context.Context, uploadID int64) (*Catalog, error) {
	return r.catalog(ctx, r.pool, uploadID)
}

// uploadPartitions lists attached partitions named like upload partitions.
func (r *repoPG) uploadPartitions(ctx context.Context, q queryRower) ([]Partition, error) {
	rows, err := q.Query(ctx, `
		SELECT c.relname, pg_get_expr(c.relpartbound, c.oid),
			EXISTS (
				SELECT 1 FROM pg_constraint k
				WHERE k.conrelid = c.oid AND k.contype = 'c' AND k.conname LIKE $2
			)
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		WHERE i.inhparent = to_regclass($1)`,
		r.qualified(r.tables.Fact), r.tables.Fact+`\_stage\_u%\_bound`,
	)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	prefix := r.tables.Fact + "_u"
	var out []Partition
	for rows.Next() {
		var p Partition
		if err := rows.Scan(&p.Name, &p.Bound, &p.Exchanged); err != nil {
			return nil, err
		}
		suffix, ok := strings.CutPrefix(p.Name, prefix)
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			continue
		}
		p.UploadID = id
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadID < out[j].UploadID })
	return out, nil
}

func (r *repoPG) List(ctx context.Context) ([]Partition, error) {
	return r.uploadPartitions(ctx, r.pool)
}

func (r *repoPG) Split(ctx context.Context, uploadID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.lockFact(ctx, tx); err != nil {
		return err
	}

	parts, err := r.uploadPartitions(ctx, tx)
	if err != nil {
		return err
	}
	for _, p := range parts {
		if p.UploadID == uploadID {
			return ErrPartitionExists
		}
	}
	if n := len(parts); n > 0 && parts[n-1].UploadID > uploadID {
		return fmt.Errorf("split upload %d after upload %d: %w", uploadID, parts[n-1].UploadID, ErrOutOfOrder)
	}

	// PostgreSQL moves nothing here: it rejects the split if the catch-all
	// holds rows in the new range.
	_, err = tx.Exec(ctx, fmt.Sprintf(`CREATE TABLE %s PARTITION OF %s FOR VALUES FROM (%d) TO (%d)`,
		r.tables.Ident(r.tables.PartitionName(uploadID)), r.tables.FactIdent(), uploadID, uploadID+1))
	if err != nil {
		if db.IsDuplicateObject(err) || db.IsPartitionOverlap(err) {
			return ErrPartitionExists
		}
		return fmt.Errorf("split upload %d: %w", uploadID, err)
	}
	return tx.Commit(ctx)
}

func (r *repoPG) Constrain(ctx context.Context, uploadID int64) error {
	stage := r.tables.Ident(r.tables.StagingName(uploadID))

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	stmts := []string{
		fmt.Sprintf(`ALTER TABLE %s ADD CONSTRAINT %s CHECK (upload_id IS NOT NULL AND upload_id >= %d AND upload_id < %d)`,
			stage, pgx.Identifier{r.tables.BoundConstraint(uploadID)}.Sanitize(), uploadID, uploadID+1),
		fmt.Sprintf(`ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY (%s)`,
			stage, pgx.Identifier{r.tables.PrimaryKeyName(uploadID)}.Sanitize(), physicalKey),
	}
	for _, s := range stmts {
		if _, err := tx.Exec(ctx, s); err != nil {
			return constrainError(uploadID, err)
		}
	}
	return tx.Commit(ctx)
}

// constrainError maps a failed ADD CONSTRAINT on staging to the loader's
// errors.
func constrainError(uploadID int64, err error) error {
	switch {
	case db.IsUniqueViolation(err):
		return fmt.Errorf("upload %d: %w on %s: %v", uploadID, ErrDuplicateKey, db.ConstraintName(err), err)
	case db.SQLState(err) == db.CodeCheckViolation:
		return fmt.Errorf("upload %d: %w: %v", uploadID, ErrOutOfBounds, err)
	case db.IsDuplicateObject(err):
		return ErrAlreadyValidated
	case db.SQLState(err) == db.CodeUndefinedTable:
		return ErrNoStaging
	}
	return fmt.Errorf("constrain staging for upload %d: %w", uploadID, err)
}

func (r *repoPG) Exchange(ctx context.Context, uploadID int64) error {
	part := r.tables.PartitionName(uploadID)
	stage := r.tables.StagingName(uploadID)
	swap := fmt.Sprintf("%s_swap_u%d", r.tables.Fact, uploadID)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`SET LOCAL lock_timeout = '%dms'`, r.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	if err := r.lockFact(ctx, tx); err != nil {
		return err
	}

	c, err := r.catalog(ctx, tx, uploadID)
	if err != nil {
		return err
	}
	switch c.State() {
	case Exchanged, StagingDropped:
		return ErrAlreadyExchanged
	case CatchAllOnly:
		return ErrNotSplit
	case Split:
		return ErrNotValidated
	}

	rename := func(from, to string) string {
		return fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, r.tables.Ident(from), pgx.Identifier{to}.Sanitize())
	}
	stmts := []string{
		fmt.Sprintf(`ALTER TABLE %s DETACH PARTITION %s`, r.tables.FactIdent(), r.tables.Ident(part)),
		rename(part, swap),
		rename(stage, part),
		rename(swap, stage),
		fmt.Sprintf(`ALTER TABLE %s ATTACH PARTITION %s FOR VALUES FROM (%d) TO (%d)`,
			r.tables.FactIdent(), r.tables.Ident(part), uploadID, uploadID+1),
	}
	for _, s := range stmts {
		if _, err := tx.Exec(ctx, s); err != nil {
			return fmt.Errorf("exchange upload %d: %w", uploadID, err)
		}
	}
	return tx.Commit(ctx)
}

func (r *repoPG) DropStaging(ctx context.Context, uploadID int64) error {
	for _, name := range []string{r.tables.StagingName(uploadID), r.tables.LoadName(uploadID)} {
		if _, err := r.pool.Exec(ctx, `DROP TABLE IF EXISTS `+r.tables.Ident(name)); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
	}
	return nil
}

// IsTransient reports whether an exchange attempt failed on lock contention
// and can be retried.
func IsTransient(err error) bool {
	return db.IsTransientLock(err)
}
