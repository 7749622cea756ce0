package encounter

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/cdw/cdw/internal/domain/idcode"
)

type Service struct {
	repo       Repository
	staySource string
}

// NewService resolves stays against encounter_mapping rows tagged with
// staySource (e.g. "MEDPAR").
func NewService(repo Repository, staySource string) *Service {
	return &Service{repo: repo, staySource: staySource}
}

// ResolveEncounter returns the encounter key of a person's observation on a
// given day. A missing stay or mapping is not an error: the key falls back to
// FallbackKey of the patient-day code, which is always negative.
func (s *Service) ResolveEncounter(ctx context.Context, stayID *string, personID string, on time.Time) (int64, error) {
	res, err := s.Resolve(ctx, stayID, personID, on)
	if err != nil {
		return 0, err
	}
	return res.EncounterNum, nil
}

// Resolve is ResolveEncounter with the intermediate results.
func (s *Service) Resolve(ctx context.Context, stayID *string, personID string, on time.Time) (*Resolution, error) {
	res := &Resolution{}

	if stayID != nil && *stayID != "" {
		id := *stayID
		res.StayID = &id
	} else {
		stay, err := s.repo.FindStay(ctx, personID, on)
		if err != nil {
			return nil, err
		}
		if stay != nil {
			res.StayID = &stay.StayID
		}
	}

	if res.StayID != nil {
		num, err := s.repo.LookupEncounter(ctx, *res.StayID, s.staySource)
		if err != nil {
			return nil, err
		}
		if num != nil {
			res.EncounterNum = *num
			return res, nil
		}
	}

	res.FallbackOf = idcode.PatientDay(personID, on)
	res.EncounterNum = FallbackKey(res.FallbackOf)
	res.Synthetic = true
	return res, nil
}

// FallbackKey derives a synthetic encounter key from a code string. The
// result lies in [-2^31, -1], so it never collides with a mapped (positive)
// key. Distinct codes can collide with each other: with 31 bits there is an
// even chance of at least one collision among about 55k distinct
// patient-days, and a collision merges two synthetic encounters. Collisions
// are not detected.
func FallbackKey(code string) int64 {
	return -int64(xxhash.Sum64String(code)>>33) - 1
}

func (r *Resolution) String() string {
	if r.Synthetic {
		return fmt.Sprintf("%d (synthetic, from %q)", r.EncounterNum, r.FallbackOf)
	}
	return fmt.Sprintf("%d (stay %s)", r.EncounterNum, *r.StayID)
}
