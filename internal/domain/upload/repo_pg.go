package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an upload id has no ledger row.
var ErrNotFound = errors.New("upload not found")

type repoPG struct {
	pool  *pgxpool.Pool
	table string
}

func NewRepo(pool *pgxpool.Pool, schema string) Repository {
	return &repoPG{pool: pool, table: pgx.Identifier{schema, "upload_status"}.Sanitize()}
}

const uploadCols = `upload_id, upload_label, user_id, source_cd, no_of_record,
	loaded_record, deleted_record, load_date, end_date, load_status, message,
	input_file_name, transform_name`

func (r *repoPG) scanUpload(row pgx.Row) (*Upload, error) {
	var u Upload
	err := row.Scan(&u.UploadID, &u.Label, &u.UserID, &u.SourceCD, &u.NoOfRecord,
		&u.LoadedRecord, &u.DeletedRecord, &u.LoadDate, &u.EndDate, &u.LoadStatus, &u.Message,
		&u.InputFileName, &u.TransformName)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repoPG) Upsert(ctx context.Context, u *Upload) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO `+r.table+` (`+uploadCols+`)
		VALUES ($1,$2,$3,$4,NULL,NULL,NULL,$5,NULL,$6,NULL,$7,$8)
		ON CONFLICT (upload_id) DO UPDATE SET
			upload_label = EXCLUDED.upload_label,
			user_id = EXCLUDED.user_id,
			source_cd = EXCLUDED.source_cd,
			no_of_record = NULL,
			loaded_record = NULL,
			deleted_record = NULL,
			load_date = EXCLUDED.load_date,
			end_date = NULL,
			load_status = EXCLUDED.load_status,
			message = NULL,
			input_file_name = EXCLUDED.input_file_name,
			transform_name = EXCLUDED.transform_name`,
		u.UploadID, u.Label, u.UserID, u.SourceCD, u.LoadDate, u.LoadStatus,
		u.InputFileName, u.TransformName,
	)
	if err != nil {
		return fmt.Errorf("record upload %d: %w", u.UploadID, err)
	}
	return nil
}

func (r *repoPG) Finish(ctx context.Context, uploadID int64, status Status, counts *Counts, message *string, at time.Time) error {
	var source, loaded, excluded *int64
	if counts != nil {
		source, loaded, excluded = &counts.SourceRows, &counts.Loaded, &counts.Excluded
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE `+r.table+` SET
			load_status = $2,
			no_of_record = coalesce($3, no_of_record),
			loaded_record = coalesce($4, loaded_record),
			deleted_record = coalesce($5, deleted_record),
			message = $6,
			end_date = $7
		WHERE upload_id = $1`,
		uploadID, status, source, loaded, excluded, message, at,
	)
	if err != nil {
		return fmt.Errorf("finish upload %d: %w", uploadID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish upload %d: %w", uploadID, ErrNotFound)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, uploadID int64) (*Upload, error) {
	u, err := r.scanUpload(r.pool.QueryRow(ctx, `SELECT `+uploadCols+` FROM `+r.table+` WHERE upload_id = $1`, uploadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (r *repoPG) Latest(ctx context.Context, pipeline string) (*Upload, error) {
	u, err := r.scanUpload(r.pool.QueryRow(ctx, `
		SELECT `+uploadCols+` FROM `+r.table+`
		WHERE transform_name = $1
		ORDER BY upload_id DESC
		LIMIT 1`, pipeline))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest upload for %s: %w", pipeline, err)
	}
	return u, nil
}

func (r *repoPG) List(ctx context.Context, pipeline string, limit, offset int) ([]*Upload, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+uploadCols+` FROM `+r.table+`
		WHERE $1 = '' OR transform_name = $1
		ORDER BY upload_id DESC
		LIMIT $2 OFFSET $3`, pipeline, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var out []*Upload
	for rows.Next() {
		u, err := r.scanUpload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
