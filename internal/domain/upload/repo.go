package upload

import (
	"context"
	"time"
)

type Repository interface {
	// Upsert writes u, replacing any earlier row for the same upload id.
	Upsert(ctx context.Context, u *Upload) error
	Finish(ctx context.Context, uploadID int64, status Status, counts *Counts, message *string, at time.Time) error
	Get(ctx context.Context, uploadID int64) (*Upload, error)
	// Latest returns the highest upload id recorded for the pipeline, or nil.
	Latest(ctx context.Context, pipeline string) (*Upload, error)
	// List returns uploads newest first; an empty pipeline matches all.
	List(ctx context.Context, pipeline string, limit, offset int) ([]*Upload, error)
}
