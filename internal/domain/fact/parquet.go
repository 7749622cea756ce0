package fact

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"
)

// ParquetRow is the on-disk layout of a Parquet extract. Optional dates are
// strings in any layout ParseDate accepts. Claim columns stand in for
// concept_cd and encounter_ide as in CSV extracts.
type ParquetRow struct {
	PatientIDE         string    `parquet:"patient_ide"`
	EncounterIDE       *string   `parquet:"encounter_ide,optional"`
	EncounterIDESource *string   `parquet:"encounter_ide_source,optional"`
	EncounterNum       *int64    `parquet:"encounter_num,optional"`
	StayID             *string   `parquet:"stay_id,optional"`
	ConceptCD          *string   `parquet:"concept_cd,optional"`
	ProviderID         *string   `parquet:"provider_id,optional"`
	StartDate          time.Time `parquet:"start_date,timestamp(millisecond)"`
	ModifierCD         *string   `parquet:"modifier_cd,optional"`
	InstanceNum        *int64    `parquet:"instance_num,optional"`
	ValtypeCD          *string   `parquet:"valtype_cd,optional"`
	TvalChar           *string   `parquet:"tval_char,optional"`
	NvalNum            *float64  `parquet:"nval_num,optional"`
	ValueflagCD        *string   `parquet:"valueflag_cd,optional"`
	QuantityNum        *float64  `parquet:"quantity_num,optional"`
	UnitsCD            *string   `parquet:"units_cd,optional"`
	EndDate            *string   `parquet:"end_date,optional"`
	LocationCD         *string   `parquet:"location_cd,optional"`
	ConfidenceNum      *float64  `parquet:"confidence_num,optional"`
	UpdateDate         *string   `parquet:"update_date,optional"`
	SourcesystemCD     *string   `parquet:"sourcesystem_cd,optional"`
	DxCode             *string   `parquet:"dx_code,optional"`
	DxVersion          *string   `parquet:"dx_version,optional"`
	PxCode             *string   `parquet:"px_code,optional"`
	PxVersion          *string   `parquet:"px_version,optional"`
	ClaimID            *string   `parquet:"claim_id,optional"`
	LineNum            *int64    `parquet:"line_num,optional"`
}

const parquetReadBatch = 4096

// ParquetSource streams rows from a Parquet file in read batches.
type ParquetSource struct {
	file   *os.File
	reader *parquet.GenericReader[ParquetRow]
	buf    []ParquetRow
	n, pos int
	read   int64
}

// OpenParquet opens a Parquet file as a row source.
func OpenParquet(path string) (*ParquetSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	return &ParquetSource{
		file:   f,
		reader: parquet.NewGenericReader[ParquetRow](f),
		buf:    make([]ParquetRow, parquetReadBatch),
	}, nil
}

// NumRows is the row count recorded in the file footer.
func (s *ParquetSource) NumRows() int64 { return s.reader.NumRows() }

func (s *ParquetSource) Next(ctx context.Context) (*Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= s.n {
		clear(s.buf)
		n, err := s.reader.Read(s.buf)
		if n == 0 {
			if err == nil || err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read parquet: %w", err)
		}
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("read parquet: %w", err)
		}
		s.n, s.pos = n, 0
	}
	pr := &s.buf[s.pos]
	s.pos++
	s.read++

	row, err := pr.toRow()
	if err != nil {
		return nil, fmt.Errorf("parquet row %d: %w", s.read, err)
	}
	return row, nil
}

func (s *ParquetSource) Close() error {
	rerr := s.reader.Close()
	ferr := s.file.Close()
	if rerr != nil {
		return rerr
	}
	return ferr
}

func (p *ParquetRow) toRow() (*Row, error) {
	r := &Row{
		PatientIDE:         p.PatientIDE,
		EncounterIDE:       clone(p.EncounterIDE),
		EncounterIDESource: clone(p.EncounterIDESource),
		EncounterNum:       clone(p.EncounterNum),
		StayID:             clone(p.StayID),
		ConceptCD:          deref(p.ConceptCD),
		ProviderID:         deref(p.ProviderID),
		StartDate:          p.StartDate.UTC(),
		ModifierCD:         deref(p.ModifierCD),
		InstanceNum:        clone(p.InstanceNum),
		ValtypeCD:          clone(p.ValtypeCD),
		TvalChar:           clone(p.TvalChar),
		NvalNum:            clone(p.NvalNum),
		ValueflagCD:        clone(p.ValueflagCD),
		QuantityNum:        clone(p.QuantityNum),
		UnitsCD:            clone(p.UnitsCD),
		LocationCD:         clone(p.LocationCD),
		ConfidenceNum:      clone(p.ConfidenceNum),
		SourcesystemCD:     clone(p.SourcesystemCD),
	}
	var err error
	if r.EndDate, err = optDate(deref(p.EndDate)); err != nil {
		return nil, fmt.Errorf("end_date: %w", err)
	}
	if r.UpdateDate, err = optDate(deref(p.UpdateDate)); err != nil {
		return nil, fmt.Errorf("update_date: %w", err)
	}
	c := coded{
		DxCode:    clone(p.DxCode),
		DxVersion: clone(p.DxVersion),
		PxCode:    clone(p.PxCode),
		PxVersion: clone(p.PxVersion),
		ClaimID:   clone(p.ClaimID),
		LineNum:   clone(p.LineNum),
	}
	if err := c.derive(r); err != nil {
		return nil, err
	}
	r.Normalize()
	return r, nil
}

// clone detaches a value from the reader's buffer, which is reused.
func clone[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
