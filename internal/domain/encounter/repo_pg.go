package encounter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool   *pgxpool.Pool
	schema string
}

func NewRepo(pool *pgxpool.Pool, schema string) Repository {
	return &repoPG{pool: pool, schema: schema}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn() querier {
	return r.pool
}

func (r *repoPG) table(name string) string {
	return pgx.Identifier{r.schema, name}.Sanitize()
}

func (r *repoPG) FindStay(ctx context.Context, personIDE string, on time.Time) (*Stay, error) {
	var s Stay
	err := r.conn().QueryRow(ctx, `
		SELECT stay_id, person_ide, admit_date, discharge_date
		FROM `+r.table("facility_stay")+`
		WHERE person_ide = $1
		  AND admit_date::date <= $2::date
		  AND discharge_date::date >= $2::date
		ORDER BY admit_date, stay_id
		LIMIT 1`,
		personIDE, on,
	).Scan(&s.StayID, &s.PersonIDE, &s.AdmitDate, &s.DischargeDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find stay for %s: %w", personIDE, err)
	}
	return &s, nil
}

func (r *repoPG) LookupEncounter(ctx context.Context, encounterIDE, source string) (*int64, error) {
	var num *int64
	err := r.conn().QueryRow(ctx, `
		SELECT min(encounter_num)
		FROM `+r.table("encounter_mapping")+`
		WHERE encounter_ide = $1 AND encounter_ide_source = $2`,
		encounterIDE, source,
	).Scan(&num)
	if err != nil {
		return nil, fmt.Errorf("lookup encounter %s/%s: %w", source, encounterIDE, err)
	}
	return num, nil
}
