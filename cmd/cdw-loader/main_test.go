package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/cdw/cdw/internal/domain/fact"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := rootCmd()
	want := []string{"load", "verify", "partitions", "resolve", "migrate", "schema", "serve"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("expected subcommand %q, got %v (%v)", name, cmd, err)
		}
	}
	for _, path := range [][]string{{"partitions", "list"}, {"partitions", "inspect"}, {"partitions", "abort"}, {"resolve", "encounter"}, {"resolve", "code"}, {"migrate", "up"}, {"migrate", "status"}, {"schema", "create"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[1] {
			t.Errorf("expected %v to resolve, got %v (%v)", path, cmd, err)
		}
	}
}

func TestLoadCmd_RequiresFlags(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"load", "--pipeline", "cms_dx"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "required") {
		t.Fatalf("expected missing required flags error, got %v", err)
	}
}

func TestLoadOptions_Batch(t *testing.T) {
	now := time.Date(2024, 6, 1, 15, 30, 0, 0, time.UTC)
	opts := loadOptions{
		uploadID:     12,
		pipeline:     "cms_dx",
		source:       "/data/in/dx_2012.csv",
		lo:           100,
		hasLo:        true,
		sourceSystem: "CMS",
		groups:       4,
	}

	b, err := opts.batch(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.UploadID != 12 || b.Pipeline != "cms_dx" || b.InputName != "dx_2012.csv" || b.SourceSystem != "CMS" || b.Groups != 4 {
		t.Errorf("unexpected batch %+v", b)
	}
	if b.Range.Lo == nil || *b.Range.Lo != 100 || b.Range.Hi != nil {
		t.Errorf("expected range [100, *], got %s", b.Range)
	}
	if !b.DownloadDate.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected download date to default to today, got %s", b.DownloadDate)
	}
}

func TestLoadOptions_ZeroBoundIsKept(t *testing.T) {
	opts := loadOptions{uploadID: 1, pipeline: "p", hasHi: true, hi: 0, hasLo: true, lo: 0, groups: 1}
	b, err := opts.batch(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if b.Range.Hi == nil || *b.Range.Hi != 0 {
		t.Errorf("expected explicit zero bound, got %s", b.Range)
	}
}

func TestLoadOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts loadOptions
	}{
		{"zero upload", loadOptions{pipeline: "p", groups: 1}},
		{"inverted range", loadOptions{uploadID: 1, pipeline: "p", lo: 10, hasLo: true, hi: 5, hasHi: true, groups: 1}},
		{"bad date", loadOptions{uploadID: 1, pipeline: "p", downloadDate: "June 1st", groups: 1}},
		{"no groups", loadOptions{uploadID: 1, pipeline: "p", groups: 0}},
	}
	for _, tt := range tests {
		if _, err := tt.opts.batch(time.Now()); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestLoadOptions_DownloadDate(t *testing.T) {
	opts := loadOptions{uploadID: 1, pipeline: "p", downloadDate: "2012-03-04", groups: 1}
	b, err := opts.batch(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if b.DownloadDate.Format("2006-01-02") != "2012-03-04" {
		t.Errorf("unexpected download date %s", b.DownloadDate)
	}
}

func TestOpenSource(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "dx.CSV")
	if err := os.WriteFile(csvPath, []byte("patient_ide,concept_cd,start_date\nP1,ICD9:250.00,2012-03-04\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := openSource(csvPath, "")
	if err != nil {
		t.Fatalf("open csv by extension: %v", err)
	}
	defer src.Close()
	if _, ok := src.(*fact.CSVSource); !ok {
		t.Errorf("expected CSV source, got %T", src)
	}
	if _, ok := src.(sized); ok {
		t.Error("expected CSV source to have no up-front row count")
	}

	txtPath := filepath.Join(dir, "dx.txt")
	if err := os.WriteFile(txtPath, []byte("patient_ide,concept_cd,start_date\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := openSource(txtPath, ""); err == nil || !strings.Contains(err.Error(), "unknown input format") {
		t.Errorf("expected unknown format error, got %v", err)
	}
	src2, err := openSource(txtPath, "csv")
	if err != nil {
		t.Fatalf("explicit format: %v", err)
	}
	src2.Close()

	if _, err := openSource(filepath.Join(dir, "missing.bin"), ""); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestResolveCodeCmd(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"resolve", "code", "--code", "9904"}, `"concept_cd": "ICD9:990.4"`},
		{[]string{"resolve", "code", "--code", "E119", "--version", "10"}, `"concept_cd": "ICD10:E119"`},
		{[]string{"resolve", "code", "--kind", "px", "--code", "99321", "--version", "HCPCS"}, `"concept_cd": "CPT:99321"`},
		{[]string{"resolve", "code", "--kind", "px", "--code", "9904", "--version", "9"}, `"concept_cd": "ICD9:99.04"`},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		root := rootCmd()
		root.SetArgs(tt.args)
		root.SetOut(&out)
		root.SetErr(&bytes.Buffer{})
		if err := root.Execute(); err != nil {
			t.Errorf("%v: unexpected error: %v", tt.args, err)
			continue
		}
		if !strings.Contains(out.String(), tt.want) {
			t.Errorf("%v: expected %s in %q", tt.args, tt.want, out.String())
		}
	}
}

func TestResolveCodeCmd_UnknownKind(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"resolve", "code", "--kind", "rx", "--code", "1"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "unknown code kind") {
		t.Errorf("expected unknown kind error, got %v", err)
	}
}

func TestOpenSource_ParquetIsSized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dx.parquet")
	cd := "ICD9:250.00"
	rows := []fact.ParquetRow{
		{PatientIDE: "P1", ConceptCD: &cd, StartDate: time.Date(2012, 3, 4, 0, 0, 0, 0, time.UTC)},
		{PatientIDE: "P2", ConceptCD: &cd, StartDate: time.Date(2012, 3, 4, 0, 0, 0, 0, time.UTC)},
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		t.Fatal(err)
	}
	src, err := openSource(path, "")
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	defer src.Close()
	s, ok := src.(sized)
	if !ok {
		t.Fatalf("expected parquet source to report its row count, got %T", src)
	}
	if s.NumRows() != 2 {
		t.Errorf("expected 2 rows, got %d", s.NumRows())
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := printJSON(&buf, map[string]int{"staged": 3}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"staged": 3`) {
		t.Errorf("unexpected output %q", buf.String())
	}
}
