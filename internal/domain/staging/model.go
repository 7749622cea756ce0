package staging

import (
	"time"

	"github.com/cdw/cdw/internal/domain/fact"
)

// Request describes one upload to stage. SourceSystem is written to
// sourcesystem_cd on rows that carry none. Groups > 1 populates staging one
// patient_num sub-range at a time. Progress, when set, is called with the
// running source row count after each copied chunk.
type Request struct {
	UploadID     int64
	DownloadDate time.Time
	Range        fact.Range
	Source       fact.RowSource
	SourceSystem string
	Groups       int
	Progress     func(copied int64)
}

// Exclusions counts source rows that were not staged, by reason.
type Exclusions struct {
	NoPatient     int64 `json:"no_patient"`
	OutOfRange    int64 `json:"out_of_range"`
	NoEncounter   int64 `json:"no_encounter"`
	AlreadyLoaded int64 `json:"already_loaded"`
}

func (e Exclusions) Total() int64 {
	return e.NoPatient + e.OutOfRange + e.NoEncounter + e.AlreadyLoaded
}

// ByReason returns the non-zero counts keyed by reason label.
func (e Exclusions) ByReason() map[string]int64 {
	out := map[string]int64{}
	for k, v := range map[string]int64{
		"no_patient":     e.NoPatient,
		"out_of_range":   e.OutOfRange,
		"no_encounter":   e.NoEncounter,
		"already_loaded": e.AlreadyLoaded,
	} {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

// Counts is what the mapping join reports back.
type Counts struct {
	Loaded    int64
	Staged    int64
	Excluded  Exclusions
	Synthetic int64
}

// Result summarises a staged upload. Synthetic counts staged rows whose
// encounter key is a fallback key.
type Result struct {
	UploadID   int64      `json:"upload_id"`
	SourceRows int64      `json:"source_rows"`
	Staged     int64      `json:"staged"`
	Excluded   Exclusions `json:"excluded"`
	Synthetic  int64      `json:"synthetic"`
}

// JoinParams are the filters applied when moving rows from the load table
// into staging.
type JoinParams struct {
	Range         fact.Range
	PatientSource *string
	DownloadDate  time.Time
	SourceSystem  *string
	Groups        int
}

// patientGroups splits the inclusive range [lo, hi] into at most n
// contiguous inclusive sub-ranges of near equal width.
func patientGroups(lo, hi int64, n int) []fact.Range {
	if n < 1 {
		n = 1
	}
	if hi < lo {
		return nil
	}
	width := (uint64(hi)-uint64(lo))/uint64(n) + 1
	var out []fact.Range
	for start := lo; ; {
		if uint64(hi)-uint64(start) < width {
			s, e := start, hi
			out = append(out, fact.Range{Lo: &s, Hi: &e})
			return out
		}
		s, e := start, start+int64(width-1)
		out = append(out, fact.Range{Lo: &s, Hi: &e})
		start = e + 1
	}
}
