package verify

import (
	"context"
	"time"

	"github.com/cdw/cdw/internal/domain/upload"
)

type Service struct {
	ledger Ledger
	repo   Repository
	clock  func() time.Time
}

func NewService(ledger Ledger, repo Repository) *Service {
	return &Service{ledger: ledger, repo: repo, clock: time.Now}
}

// Verify checks that the most recent upload of a pipeline has at least one
// live fact row. It reads only and can be repeated at any time.
func (s *Service) Verify(ctx context.Context, pipeline string) (*Result, error) {
	res := &Result{Pipeline: pipeline, CheckedAt: s.clock().UTC()}

	u, err := s.ledger.Latest(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	if u == nil {
		res.Status = StatusNoUpload
		return res, nil
	}
	id := u.UploadID
	res.UploadID = &id
	res.LedgerStatus = string(u.LoadStatus)

	ok, err := s.repo.HasRows(ctx, u.UploadID)
	if err != nil {
		return nil, err
	}
	switch {
	case ok:
		res.Status = StatusComplete
	case u.LoadStatus == upload.StatusOK:
		res.Status = StatusZeroRows
	default:
		res.Status = StatusLoadFailed
	}
	return res, nil
}
