package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/cdw/cdw/pkg/pagination"
)

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Begin records an upload as STARTED. Re-running an upload id resets its
// row.
func (s *Service) Begin(ctx context.Context, u *Upload) error {
	if u.UploadID <= 0 {
		return fmt.Errorf("upload_id must be positive")
	}
	if u.TransformName == "" {
		return fmt.Errorf("transform_name is required")
	}
	if u.Label == "" {
		u.Label = fmt.Sprintf("%s upload %d", u.TransformName, u.UploadID)
	}
	if u.UserID == "" {
		u.UserID = "cdw-loader"
	}
	if u.LoadDate.IsZero() {
		u.LoadDate = s.clock().UTC()
	}
	u.LoadStatus = StatusStarted
	u.NoOfRecord, u.LoadedRecord, u.DeletedRecord = nil, nil, nil
	u.EndDate, u.Message = nil, nil
	return s.repo.Upsert(ctx, u)
}

func (s *Service) Complete(ctx context.Context, uploadID int64, counts Counts) error {
	return s.repo.Finish(ctx, uploadID, StatusOK, &counts, nil, s.clock().UTC())
}

func (s *Service) Fail(ctx context.Context, uploadID int64, message string) error {
	return s.repo.Finish(ctx, uploadID, StatusFailed, nil, &message, s.clock().UTC())
}

func (s *Service) Get(ctx context.Context, uploadID int64) (*Upload, error) {
	return s.repo.Get(ctx, uploadID)
}

// Latest returns the most recent upload of a pipeline, or nil if it has
// none.
func (s *Service) Latest(ctx context.Context, pipeline string) (*Upload, error) {
	return s.repo.Latest(ctx, pipeline)
}

func (s *Service) List(ctx context.Context, pipeline string, p pagination.Params) (*pagination.Page[*Upload], error) {
	p = p.Normalize()
	rows, err := s.repo.List(ctx, pipeline, p.Fetch(), p.Offset)
	if err != nil {
		return nil, err
	}
	return pagination.NewPage(rows, p), nil
}
