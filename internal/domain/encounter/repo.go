package encounter

import (
	"context"
	"time"
)

// Repository reads the facility stay and encounter mapping reference data.
// Both lookups return nil with no error when nothing matches.
type Repository interface {
	// FindStay returns the earliest stay of the person whose admit and
	// discharge days contain the given day.
	FindStay(ctx context.Context, personIDE string, on time.Time) (*Stay, error)
	// LookupEncounter returns the smallest encounter_num mapped to the
	// external id and source.
	LookupEncounter(ctx context.Context, encounterIDE, source string) (*int64, error)
}
