package fact

import (
	"context"
	"io"
)

// RowSource yields transformed rows one at a time. Next returns io.EOF when
// the source is exhausted.
type RowSource interface {
	Next(ctx context.Context) (*Row, error)
	Close() error
}

// SliceSource serves rows from memory.
type SliceSource struct {
	rows []Row
	pos  int
}

func NewSliceSource(rows []Row) *SliceSource {
	return &SliceSource{rows: rows}
}

func (s *SliceSource) Next(ctx context.Context) (*Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	r := s.rows[s.pos]
	s.pos++
	return &r, nil
}

func (s *SliceSource) Close() error { return nil }
