package verify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cdw/cdw/internal/domain/fact"
)

type repoPG struct {
	pool   *pgxpool.Pool
	tables fact.Tables
}

func NewRepo(pool *pgxpool.Pool, tables fact.Tables) Repository {
	return &repoPG{pool: pool, tables: tables}
}

func (r *repoPG) HasRows(ctx context.Context, uploadID int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+r.tables.FactIdent()+` WHERE upload_id = $1)`, uploadID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check upload %d: %w", uploadID, err)
	}
	return ok, nil
}
