package fact

import (
	"fmt"

	"github.com/cdw/cdw/internal/domain/idcode"
)

// Encounter id sources for claim-keyed rows.
const (
	ClaimSource     = "ccwdata.org(clm_id)"
	ClaimLineSource = "ccwdata.org(clm_id,line_num)"
)

// coded holds the raw claim columns an extract may carry instead of
// concept_cd and encounter_ide.
type coded struct {
	DxCode    *string
	DxVersion *string
	PxCode    *string
	PxVersion *string
	ClaimID   *string
	LineNum   *int64
}

// derive fills concept_cd from a diagnosis or procedure code and
// encounter_ide from a claim (line) when the row does not carry them.
// Explicit values always win; a diagnosis wins over a procedure.
func (c coded) derive(r *Row) error {
	if r.ConceptCD == "" {
		switch {
		case c.DxCode != nil:
			r.ConceptCD = idcode.DiagnosisCode(*c.DxCode, c.DxVersion)
		case c.PxCode != nil:
			r.ConceptCD = idcode.ProcedureCode(*c.PxCode, c.PxVersion)
		default:
			return fmt.Errorf("concept_cd, dx_code or px_code is required")
		}
	}

	if (r.EncounterIDE == nil || *r.EncounterIDE == "") && c.ClaimID != nil {
		ide, src := *c.ClaimID, ClaimSource
		if c.LineNum != nil {
			ide, src = idcode.ClaimLine(*c.ClaimID, int(*c.LineNum)), ClaimLineSource
		}
		r.EncounterIDE = &ide
		if r.EncounterIDESource == nil {
			r.EncounterIDESource = &src
		}
	}
	return nil
}
