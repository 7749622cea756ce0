package verify

import "time"

// Status is the outcome of a completion check. zero_rows means the latest
// upload finished without live rows; load_failed means it has no live rows
// and the ledger says it failed or never finished.
type Status string

const (
	StatusComplete   Status = "complete"
	StatusZeroRows   Status = "zero_rows"
	StatusLoadFailed Status = "load_failed"
	StatusNoUpload   Status = "no_upload"
)

// Result of a completion check. It proves the upload is not empty, not
// that it is complete.
type Result struct {
	Pipeline     string    `json:"pipeline"`
	UploadID     *int64    `json:"upload_id,omitempty"`
	LedgerStatus string    `json:"ledger_status,omitempty"`
	Status       Status    `json:"status"`
	CheckedAt    time.Time `json:"checked_at"`
}

func (r *Result) OK() bool {
	return r != nil && r.Status == StatusComplete
}
