package staging

import (
	"context"

	"github.com/cdw/cdw/internal/domain/fact"
)

// Repository owns the per-upload load and staging tables.
type Repository interface {
	// Prepare drops and recreates the load and staging tables of an upload.
	Prepare(ctx context.Context, uploadID int64) error
	// CopyRows bulk-appends rows to the load table.
	CopyRows(ctx context.Context, uploadID int64, rows []fact.Row) (int64, error)
	// Populate joins the load table against the mapping tables into staging.
	Populate(ctx context.Context, uploadID int64, p JoinParams) (*Counts, error)
	DropLoad(ctx context.Context, uploadID int64) error
}
