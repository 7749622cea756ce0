package upload

import "time"

type Status string

const (
	StatusStarted Status = "STARTED"
	StatusOK      Status = "OK"
	StatusFailed  Status = "FAILED"
)

// Upload maps to the upload_status table. TransformName is the pipeline
// that produced the upload.
type Upload struct {
	UploadID      int64      `db:"upload_id" json:"upload_id"`
	Label         string     `db:"upload_label" json:"upload_label"`
	UserID        string     `db:"user_id" json:"user_id"`
	SourceCD      string     `db:"source_cd" json:"source_cd"`
	NoOfRecord    *int64     `db:"no_of_record" json:"no_of_record,omitempty"`
	LoadedRecord  *int64     `db:"loaded_record" json:"loaded_record,omitempty"`
	DeletedRecord *int64     `db:"deleted_record" json:"deleted_record,omitempty"`
	LoadDate      time.Time  `db:"load_date" json:"load_date"`
	EndDate       *time.Time `db:"end_date" json:"end_date,omitempty"`
	LoadStatus    Status     `db:"load_status" json:"load_status"`
	Message       *string    `db:"message" json:"message,omitempty"`
	InputFileName *string    `db:"input_file_name" json:"input_file_name,omitempty"`
	TransformName string     `db:"transform_name" json:"transform_name"`
}

// Counts are recorded when an upload completes.
type Counts struct {
	SourceRows int64
	Loaded     int64
	Excluded   int64
}
