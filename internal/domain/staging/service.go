package staging

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/cdw/cdw/internal/domain/fact"
)

type Service struct {
	repo          Repository
	batchSize     int
	patientSource *string
	log           zerolog.Logger
}

// NewService stages rows in COPY chunks of batchSize. A non-empty
// patientSource restricts patient_mapping to that patient_ide_source.
func NewService(repo Repository, batchSize int, patientSource string, log zerolog.Logger) *Service {
	if batchSize < 1 {
		batchSize = 10000
	}
	s := &Service{repo: repo, batchSize: batchSize, log: log}
	if patientSource != "" {
		s.patientSource = &patientSource
	}
	return s
}

// Stage builds a fresh staging table for the upload. Only rows that map to a
// patient in range and to an encounter, and that are not already live, are
// staged. Excluded rows are counted, not reported as errors.
func (s *Service) Stage(ctx context.Context, req Request) (*Result, error) {
	if req.UploadID <= 0 {
		return nil, fmt.Errorf("upload id must be positive, got %d", req.UploadID)
	}
	if req.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if err := req.Range.Validate(); err != nil {
		return nil, err
	}
	if req.Groups < 0 {
		return nil, fmt.Errorf("groups must not be negative, got %d", req.Groups)
	}

	if err := s.repo.Prepare(ctx, req.UploadID); err != nil {
		return nil, err
	}

	res := &Result{UploadID: req.UploadID}
	counts, err := s.load(ctx, req, res)
	if err != nil {
		if derr := s.repo.DropLoad(ctx, req.UploadID); derr != nil {
			s.log.Warn().Err(derr).Int64("upload_id", req.UploadID).Msg("drop load table after failure")
		}
		return nil, err
	}
	if err := s.repo.DropLoad(ctx, req.UploadID); err != nil {
		return nil, err
	}

	res.Staged = counts.Staged
	res.Excluded = counts.Excluded
	res.Synthetic = counts.Synthetic
	if counts.Loaded != res.SourceRows {
		s.log.Warn().
			Int64("upload_id", req.UploadID).
			Int64("source_rows", res.SourceRows).
			Int64("loaded", counts.Loaded).
			Msg("load table row count differs from source")
	}
	return res, nil
}

func (s *Service) load(ctx context.Context, req Request, res *Result) (*Counts, error) {
	buf := make([]fact.Row, 0, s.batchSize)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if _, err := s.repo.CopyRows(ctx, req.UploadID, buf); err != nil {
			return err
		}
		s.log.Debug().Int64("upload_id", req.UploadID).Int("rows", len(buf)).Msg("copied chunk")
		buf = buf[:0]
		if req.Progress != nil {
			req.Progress(res.SourceRows)
		}
		return nil
	}

	for {
		row, err := req.Source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read source row %d: %w", res.SourceRows+1, err)
		}
		row.Normalize()
		buf = append(buf, *row)
		res.SourceRows++
		if len(buf) >= s.batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	params := JoinParams{
		Range:         req.Range,
		PatientSource: s.patientSource,
		DownloadDate:  req.DownloadDate,
		Groups:        req.Groups,
	}
	if req.SourceSystem != "" {
		params.SourceSystem = &req.SourceSystem
	}
	return s.repo.Populate(ctx, req.UploadID, params)
}
