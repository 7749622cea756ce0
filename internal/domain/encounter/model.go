package encounter

import "time"

// Stay is a facility stay (institutional claim) of one person.
type Stay struct {
	StayID        string    `db:"stay_id" json:"stay_id"`
	PersonIDE     string    `db:"person_ide" json:"person_ide"`
	AdmitDate     time.Time `db:"admit_date" json:"admit_date"`
	DischargeDate time.Time `db:"discharge_date" json:"discharge_date"`
}

// Resolution explains how an encounter key was obtained. Synthetic is set
// when no mapping existed and the key was derived from FallbackKey of
// FallbackOf.
type Resolution struct {
	EncounterNum int64   `json:"encounter_num"`
	StayID       *string `json:"stay_id,omitempty"`
	Synthetic    bool    `json:"synthetic"`
	FallbackOf   string  `json:"fallback_of,omitempty"`
}
