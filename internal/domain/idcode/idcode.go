// Package idcode builds the text identifiers and concept codes shared by
// every fact pipeline. All functions are pure.
package idcode

import (
	"strconv"
	"time"
)

const dayLayout = "20060102"

// PatientDay keys a person's activity on one day. The date comes first so
// that a prefix scan selects a date range.
func PatientDay(personID string, day time.Time) string {
	return day.Format(dayLayout) + " " + personID
}

func ClaimLine(claimID string, line int) string {
	return claimID + " " + strconv.Itoa(line)
}

// DiagnosisCode returns the concept code for a diagnosis. Version "10" is
// ICD-10 and is passed through; anything else, including no version, is read
// as legacy ICD-9 with the decimal point restored after the third character.
func DiagnosisCode(code string, version *string) string {
	if version != nil && *version == "10" {
		return "ICD10:" + code
	}
	return "ICD9:" + dotAfter(code, 3)
}

// ProcedureCode returns the concept code for a procedure. HCPCS and CPT share
// the CPT namespace; ICD-9 procedure codes get a decimal point after the
// second character; other version tags are passed through as ICD<tag>.
func ProcedureCode(code string, version *string) string {
	tag := ""
	if version != nil {
		tag = *version
	}
	switch tag {
	case "HCPCS", "CPT":
		return "CPT:" + code
	case "9":
		return "ICD9:" + dotAfter(code, 2)
	default:
		return "ICD" + tag + ":" + code
	}
}

func dotAfter(code string, n int) string {
	if len(code) <= n {
		return code
	}
	return code[:n] + "." + code[n:]
}
