package fact

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Accepted date layouts, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"20060102",
}

var requiredColumns = []string{"patient_ide", "start_date"}

// One of these must be present to produce a concept code.
var conceptColumns = []string{"concept_cd", "dx_code", "px_code"}

// CSVSource reads rows from a CSV extract with a header line. Column names
// match the Row JSON names; unknown columns are ignored and empty cells are
// NULL. Claim extracts may carry dx_code/dx_version, px_code/px_version and
// claim_id/line_num in place of concept_cd and encounter_ide.
type CSVSource struct {
	closer io.Closer
	csv    *csv.Reader
	colIdx map[string]int
	line   int
}

// OpenCSV opens a CSV file as a row source.
func OpenCSV(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	src, err := NewCSVSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	src.closer = f
	return src, nil
}

// NewCSVSource reads the header from r.
func NewCSVSource(r io.Reader) (*CSVSource, error) {
	br := bufio.NewReaderSize(r, 256*1024)
	// Skip UTF-8 BOM if present
	if bom, err := br.Peek(3); err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		br.Discard(3)
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	s := &CSVSource{csv: reader, colIdx: make(map[string]int, len(header)), line: 1}
	for i, h := range header {
		s.colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := s.colIdx[col]; !ok {
			return nil, fmt.Errorf("csv header is missing column %q", col)
		}
	}
	if !s.hasAny(conceptColumns) {
		return nil, fmt.Errorf("csv header needs one of %v", conceptColumns)
	}
	return s, nil
}

func (s *CSVSource) Next(ctx context.Context) (*Row, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := s.csv.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", s.line+1, err)
		}
		s.line++

		if len(rec) == 0 || (len(rec) == 1 && rec[0] == "") {
			continue
		}
		row, err := s.parse(rec)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", s.line, err)
		}
		return row, nil
	}
}

func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *CSVSource) hasAny(cols []string) bool {
	for _, col := range cols {
		if _, ok := s.colIdx[col]; ok {
			return true
		}
	}
	return false
}

func (s *CSVSource) cell(rec []string, col string) string {
	i, ok := s.colIdx[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func (s *CSVSource) optStr(rec []string, col string) *string {
	v := s.cell(rec, col)
	if v == "" {
		return nil
	}
	return &v
}

func (s *CSVSource) parse(rec []string) (*Row, error) {
	start, err := parseDate(s.cell(rec, "start_date"))
	if err != nil {
		return nil, fmt.Errorf("start_date: %w", err)
	}
	r := &Row{
		PatientIDE:         s.cell(rec, "patient_ide"),
		EncounterIDE:       s.optStr(rec, "encounter_ide"),
		EncounterIDESource: s.optStr(rec, "encounter_ide_source"),
		StayID:             s.optStr(rec, "stay_id"),
		ConceptCD:          s.cell(rec, "concept_cd"),
		ProviderID:         s.cell(rec, "provider_id"),
		StartDate:          start,
		ModifierCD:         s.cell(rec, "modifier_cd"),
		ValtypeCD:          s.optStr(rec, "valtype_cd"),
		TvalChar:           s.optStr(rec, "tval_char"),
		ValueflagCD:        s.optStr(rec, "valueflag_cd"),
		UnitsCD:            s.optStr(rec, "units_cd"),
		LocationCD:         s.optStr(rec, "location_cd"),
		SourcesystemCD:     s.optStr(rec, "sourcesystem_cd"),
	}
	if r.EncounterNum, err = optInt(s.cell(rec, "encounter_num")); err != nil {
		return nil, fmt.Errorf("encounter_num: %w", err)
	}
	if r.InstanceNum, err = optInt(s.cell(rec, "instance_num")); err != nil {
		return nil, fmt.Errorf("instance_num: %w", err)
	}
	if r.NvalNum, err = optFloat(s.cell(rec, "nval_num")); err != nil {
		return nil, fmt.Errorf("nval_num: %w", err)
	}
	if r.QuantityNum, err = optFloat(s.cell(rec, "quantity_num")); err != nil {
		return nil, fmt.Errorf("quantity_num: %w", err)
	}
	if r.ConfidenceNum, err = optFloat(s.cell(rec, "confidence_num")); err != nil {
		return nil, fmt.Errorf("confidence_num: %w", err)
	}
	if r.EndDate, err = optDate(s.cell(rec, "end_date")); err != nil {
		return nil, fmt.Errorf("end_date: %w", err)
	}
	if r.UpdateDate, err = optDate(s.cell(rec, "update_date")); err != nil {
		return nil, fmt.Errorf("update_date: %w", err)
	}

	c := coded{
		DxCode:    s.optStr(rec, "dx_code"),
		DxVersion: s.optStr(rec, "dx_version"),
		PxCode:    s.optStr(rec, "px_code"),
		PxVersion: s.optStr(rec, "px_version"),
		ClaimID:   s.optStr(rec, "claim_id"),
	}
	if c.LineNum, err = optInt(s.cell(rec, "line_num")); err != nil {
		return nil, fmt.Errorf("line_num: %w", err)
	}
	if err := c.derive(r); err != nil {
		return nil, err
	}

	r.Normalize()
	return r, nil
}

// ParseDate parses a date in any accepted layout.
func ParseDate(v string) (time.Time, error) {
	return parseDate(v)
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", v)
}

func optDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := parseDate(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func optInt(v string) (*int64, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func optFloat(v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
