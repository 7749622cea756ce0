package verify

import (
	"context"

	"github.com/cdw/cdw/internal/domain/upload"
)

// Repository checks the live fact table.
type Repository interface {
	HasRows(ctx context.Context, uploadID int64) (bool, error)
}

// Ledger finds the latest upload of a pipeline.
type Ledger interface {
	Latest(ctx context.Context, pipeline string) (*upload.Upload, error)
}
