package fact

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Placeholder values the warehouse uses for "unknown" in key columns.
const (
	NoProvider = "@"
	NoModifier = "@"
	NoInstance = int64(1)
)

// Row is one warehouse-shaped observation as produced by a row transformer.
// It is keyed by external identifiers; the stager resolves them into
// surrogate keys. EncounterNum may be set when the encounter was resolved
// before staging.
type Row struct {
	PatientIDE         string     `json:"patient_ide"`
	EncounterIDE       *string    `json:"encounter_ide,omitempty"`
	EncounterIDESource *string    `json:"encounter_ide_source,omitempty"`
	EncounterNum       *int64     `json:"encounter_num,omitempty"`
	StayID             *string    `json:"stay_id,omitempty"`
	ConceptCD          string     `json:"concept_cd"`
	ProviderID         string     `json:"provider_id"`
	StartDate          time.Time  `json:"start_date"`
	ModifierCD         string     `json:"modifier_cd"`
	InstanceNum        *int64     `json:"instance_num,omitempty"`
	ValtypeCD          *string    `json:"valtype_cd,omitempty"`
	TvalChar           *string    `json:"tval_char,omitempty"`
	NvalNum            *float64   `json:"nval_num,omitempty"`
	ValueflagCD        *string    `json:"valueflag_cd,omitempty"`
	QuantityNum        *float64   `json:"quantity_num,omitempty"`
	UnitsCD            *string    `json:"units_cd,omitempty"`
	EndDate            *time.Time `json:"end_date,omitempty"`
	LocationCD         *string    `json:"location_cd,omitempty"`
	ConfidenceNum      *float64   `json:"confidence_num,omitempty"`
	UpdateDate         *time.Time `json:"update_date,omitempty"`
	SourcesystemCD     *string    `json:"sourcesystem_cd,omitempty"`
}

// Normalize fills the key placeholders the fact primary key cannot hold as
// NULL. An explicit instance_num, zero included, is kept.
func (r *Row) Normalize() {
	if r.ProviderID == "" {
		r.ProviderID = NoProvider
	}
	if r.ModifierCD == "" {
		r.ModifierCD = NoModifier
	}
	if r.InstanceNum == nil {
		n := NoInstance
		r.InstanceNum = &n
	}
}

// Instance returns instance_num, or the placeholder when the row has none.
func (r *Row) Instance() int64 {
	if r.InstanceNum == nil {
		return NoInstance
	}
	return *r.InstanceNum
}

// HasEncounter reports whether the row can be placed on an encounter without
// the fallback resolver.
func (r *Row) HasEncounter() bool {
	return r.EncounterNum != nil || (r.EncounterIDE != nil && *r.EncounterIDE != "")
}

// Tables names the fact table and the per-upload objects derived from it.
type Tables struct {
	Schema string
	Fact   string
}

// Ident returns the schema-qualified, quoted name of a table in the star
// schema.
func (t Tables) Ident(name string) string {
	return pgx.Identifier{t.Schema, name}.Sanitize()
}

func (t Tables) FactIdent() string { return t.Ident(t.Fact) }

// PartitionName is the live partition holding one upload.
func (t Tables) PartitionName(uploadID int64) string {
	return fmt.Sprintf("%s_u%d", t.Fact, uploadID)
}

// StagingName is the table an upload is staged in before the exchange.
func (t Tables) StagingName(uploadID int64) string {
	return fmt.Sprintf("%s_stage_u%d", t.Fact, uploadID)
}

// LoadName is the unlogged table raw source rows are copied into.
func (t Tables) LoadName(uploadID int64) string {
	return fmt.Sprintf("%s_load_u%d", t.Fact, uploadID)
}

// DefaultName is the catch-all partition.
func (t Tables) DefaultName() string {
	return t.Fact + "_default"
}

// BoundConstraint names the check constraint that pins a staging table to
// its upload's partition bounds.
func (t Tables) BoundConstraint(uploadID int64) string {
	return fmt.Sprintf("%s_stage_u%d_bound", t.Fact, uploadID)
}

// PrimaryKeyName names the primary key built on a staging table.
func (t Tables) PrimaryKeyName(uploadID int64) string {
	return fmt.Sprintf("%s_stage_u%d_pk", t.Fact, uploadID)
}

// Range is an inclusive filter on patient_num. A nil bound is unbounded.
type Range struct {
	Lo *int64 `json:"lo,omitempty"`
	Hi *int64 `json:"hi,omitempty"`
}

func (r Range) Validate() error {
	if r.Lo != nil && r.Hi != nil && *r.Lo > *r.Hi {
		return fmt.Errorf("range lower bound %d is above upper bound %d", *r.Lo, *r.Hi)
	}
	return nil
}

func (r Range) Contains(patientNum int64) bool {
	if r.Lo != nil && patientNum < *r.Lo {
		return false
	}
	if r.Hi != nil && patientNum > *r.Hi {
		return false
	}
	return true
}

func (r Range) String() string {
	b := func(p *int64) string {
		if p == nil {
			return "*"
		}
		return fmt.Sprintf("%d", *p)
	}
	return "[" + b(r.Lo) + ", " + b(r.Hi) + "]"
}
