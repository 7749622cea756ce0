package partition

import "context"

// Repository performs the catalog reads and DDL for upload partitions.
type Repository interface {
	Catalog(ctx context.Context, uploadID int64) (*Catalog, error)
	// Split creates the upload partition out of the catch-all. It returns
	// ErrPartitionExists or ErrOutOfOrder instead of changing anything.
	Split(ctx context.Context, uploadID int64) error
	// Constrain adds the bound check and primary key to the staging table.
	Constrain(ctx context.Context, uploadID int64) error
	// Exchange swaps the staging table into the partition slot. One attempt.
	Exchange(ctx context.Context, uploadID int64) error
	// DropStaging drops the staging and load tables if they exist.
	DropStaging(ctx context.Context, uploadID int64) error
	List(ctx context.Context) ([]Partition, error)
}
