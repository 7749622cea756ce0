package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/cdw/cdw/internal/domain/fact"
	"github.com/cdw/cdw/internal/domain/partition"
	"github.com/cdw/cdw/internal/domain/staging"
	"github.com/cdw/cdw/internal/domain/verify"
)

// Batch is one upload to load. UploadIDs are assigned by the caller and
// must increase over time. ExpectedRows, when known, drives progress
// estimates while staging; Groups splits the patient range for populate.
type Batch struct {
	UploadID     int64
	Pipeline     string
	DownloadDate time.Time
	Range        fact.Range
	Source       fact.RowSource
	SourceSystem string
	InputName    string
	ExpectedRows int64
	Groups       int
}

func (b Batch) Validate() error {
	if b.UploadID <= 0 {
		return fmt.Errorf("upload id must be positive, got %d", b.UploadID)
	}
	// The partition of id n covers [n, n+1).
	if b.UploadID == math.MaxInt64 {
		return fmt.Errorf("upload id %d leaves no room for a partition bound", b.UploadID)
	}
	if b.Pipeline == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if b.Source == nil {
		return fmt.Errorf("row source is required")
	}
	if b.Groups < 0 {
		return fmt.Errorf("groups must not be negative, got %d", b.Groups)
	}
	return b.Range.Validate()
}

// StepTiming is how long one pipeline step took.
type StepTiming struct {
	Name      string        `json:"name"`
	Elapsed   time.Duration `json:"-"`
	ElapsedMS int64         `json:"elapsed_ms"`
}

// Summary reports what a run did. It is returned alongside errors with the
// steps completed so far.
type Summary struct {
	RunID              string             `json:"run_id"`
	UploadID           int64              `json:"upload_id"`
	Pipeline           string             `json:"pipeline"`
	ResumedFrom        partition.State    `json:"resumed_from"`
	SourceRows         int64              `json:"source_rows"`
	Staged             int64              `json:"staged"`
	Excluded           staging.Exclusions `json:"excluded"`
	ExcludedTotal      int64              `json:"excluded_total"`
	Synthetic          int64              `json:"synthetic_encounters"`
	ResolvedEncounters int64              `json:"resolved_encounters"`
	State              partition.State    `json:"state"`
	Verification       verify.Status      `json:"verification,omitempty"`
	Steps              []StepTiming       `json:"steps"`
	ElapsedMS          int64              `json:"elapsed_ms"`
}

func (s *Summary) addStep(name string, d time.Duration) {
	s.Steps = append(s.Steps, StepTiming{Name: name, Elapsed: d, ElapsedMS: d.Milliseconds()})
}
