package partition

import (
	"errors"
	"fmt"
)

// State is where an upload is in the incorporation lifecycle.
type State int

const (
	CatchAllOnly State = iota
	Split
	StagedValidated
	Exchanged
	StagingDropped
)

var stateNames = [...]string{
	CatchAllOnly:    "CATCHALL_ONLY",
	Split:           "SPLIT",
	StagedValidated: "STAGED_VALIDATED",
	Exchanged:       "EXCHANGED",
	StagingDropped:  "STAGING_DROPPED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Live reports whether the upload's rows are visible in the fact table.
func (s State) Live() bool {
	return s >= Exchanged
}

// ErrStructuralConflict is matched by every error that means a step was
// already done or cannot be done in the current layout. Callers resuming an
// upload treat these as "already done" where appropriate.
var ErrStructuralConflict = errors.New("structural conflict")

type conflictError struct{ msg string }

func (e *conflictError) Error() string        { return e.msg }
func (e *conflictError) Is(target error) bool { return target == ErrStructuralConflict }

var (
	ErrPartitionExists  error = &conflictError{"upload partition already exists"}
	ErrOutOfOrder       error = &conflictError{"a later upload partition already exists"}
	ErrAlreadyValidated error = &conflictError{"staging table is already constrained"}
	ErrAlreadyExchanged error = &conflictError{"upload is already exchanged"}
)

// ErrDuplicateKey means the staged rows violate the fact primary key. The
// upload cannot be incorporated.
var ErrDuplicateKey = errors.New("duplicate key in staged upload")

// ErrOutOfBounds means a staged row carries another upload's id.
var ErrOutOfBounds = errors.New("staged rows fall outside the upload partition bound")

var (
	ErrNoStaging    = errors.New("staging table does not exist")
	ErrNotSplit     = errors.New("upload partition does not exist")
	ErrNotValidated = errors.New("staging table is not constrained")
	ErrNotExchanged = errors.New("upload is not exchanged")
)

// Catalog is what the database reports about one upload's objects.
// PartitionHasBound means the attached partition carries the staging bound
// constraint, so it is the former staging table. StagingHasKey means the
// staging table has its primary key and bound.
type Catalog struct {
	PartitionAttached bool
	PartitionHasBound bool
	StagingExists     bool
	StagingHasKey     bool
}

// State derives the lifecycle state from the catalog.
func (c Catalog) State() State {
	switch {
	case !c.PartitionAttached:
		return CatchAllOnly
	case c.PartitionHasBound && c.StagingExists:
		return Exchanged
	case c.PartitionHasBound:
		return StagingDropped
	case c.StagingExists && c.StagingHasKey:
		return StagedValidated
	default:
		return Split
	}
}

// Partition is one attached upload partition. Exchanged partitions carry
// their staging bound constraint.
type Partition struct {
	UploadID  int64  `json:"upload_id"`
	Name      string `json:"name"`
	Bound     string `json:"bound"`
	Exchanged bool   `json:"exchanged"`
}
