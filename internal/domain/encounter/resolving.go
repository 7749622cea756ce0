package encounter

import (
	"context"
	"fmt"

	"github.com/cdw/cdw/internal/domain/fact"
)

type memoKey struct {
	stay, person, day string
}

// ResolvingSource fills EncounterNum on rows that carry a person but no
// encounter, so they are not dropped by the stager's mapping join. Lookups
// are memoised per stay, person and day.
type ResolvingSource struct {
	fact.RowSource
	svc  *Service
	memo map[memoKey]int64

	resolved  int64
	synthetic int64
}

func NewResolvingSource(src fact.RowSource, svc *Service) *ResolvingSource {
	return &ResolvingSource{RowSource: src, svc: svc, memo: make(map[memoKey]int64)}
}

func (s *ResolvingSource) Next(ctx context.Context) (*fact.Row, error) {
	row, err := s.RowSource.Next(ctx)
	if err != nil {
		return nil, err
	}
	if row.HasEncounter() || row.PatientIDE == "" {
		return row, nil
	}

	key := memoKey{person: row.PatientIDE, day: row.StartDate.Format("20060102")}
	if row.StayID != nil {
		key.stay = *row.StayID
	}
	num, ok := s.memo[key]
	if !ok {
		num, err = s.svc.ResolveEncounter(ctx, row.StayID, row.PatientIDE, row.StartDate)
		if err != nil {
			return nil, fmt.Errorf("resolve encounter for %s: %w", row.PatientIDE, err)
		}
		s.memo[key] = num
	}

	row.EncounterNum = &num
	s.resolved++
	if num < 0 {
		s.synthetic++
	}
	return row, nil
}

// Resolved is the number of rows that had their encounter filled in, and
// how many of those got a synthetic key.
func (s *ResolvingSource) Resolved() (resolved, synthetic int64) {
	return s.resolved, s.synthetic
}
