package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cdw/cdw/internal/domain/encounter"
	"github.com/cdw/cdw/internal/domain/partition"
	"github.com/cdw/cdw/internal/domain/staging"
	"github.com/cdw/cdw/internal/domain/upload"
	"github.com/cdw/cdw/internal/domain/verify"
	"github.com/cdw/cdw/internal/platform/logging"
	"github.com/cdw/cdw/internal/platform/metrics"
)

type Stager interface {
	Stage(ctx context.Context, req staging.Request) (*staging.Result, error)
}

type Incorporator interface {
	Inspect(ctx context.Context, uploadID int64) (partition.State, error)
	Split(ctx context.Context, uploadID int64) error
	Validate(ctx context.Context, uploadID int64) error
	Exchange(ctx context.Context, uploadID int64) error
	Drop(ctx context.Context, uploadID int64) error
	Abort(ctx context.Context, uploadID int64) error
}

type Ledger interface {
	Begin(ctx context.Context, u *upload.Upload) error
	Complete(ctx context.Context, uploadID int64, counts upload.Counts) error
	Fail(ctx context.Context, uploadID int64, message string) error
}

type Verifier interface {
	Verify(ctx context.Context, pipeline string) (*verify.Result, error)
}

// Runner loads one upload end to end: split, stage, validate, exchange,
// drop, then verify. A rerun of the same upload id resumes from the state
// the catalog reports.
type Runner struct {
	stager   Stager
	parts    Incorporator
	ledger   Ledger
	verifier Verifier
	resolver *encounter.Service
	log      zerolog.Logger
	metrics  *metrics.Recorder
	clock    func() time.Time
}

func NewRunner(stager Stager, parts Incorporator, ledger Ledger, verifier Verifier, log zerolog.Logger, rec *metrics.Recorder) *Runner {
	return &Runner{
		stager:   stager,
		parts:    parts,
		ledger:   ledger,
		verifier: verifier,
		log:      log,
		metrics:  rec,
		clock:    time.Now,
	}
}

// WithResolver fills missing encounters from facility stays before staging.
func (r *Runner) WithResolver(svc *encounter.Service) *Runner {
	r.resolver = svc
	return r
}

func (r *Runner) Run(ctx context.Context, b Batch) (*Summary, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	sum := &Summary{RunID: uuid.NewString(), UploadID: b.UploadID, Pipeline: b.Pipeline}
	log := r.log.With().
		Str("run_id", sum.RunID).
		Int64("upload_id", b.UploadID).
		Str("pipeline", b.Pipeline).
		Logger()
	steps := logging.NewSteps(log).WithClock(r.clock)

	top := steps.Begin(fmt.Sprintf("load upload %d", b.UploadID))
	err := r.run(ctx, b, steps, sum)
	top.Set("staged", sum.Staged).
		Set("excluded", sum.ExcludedTotal).
		Set("synthetic", sum.Synthetic).
		Set("state", sum.State.String())
	sum.ElapsedMS = top.End(err).Milliseconds()

	r.metrics.BatchFinished(b.Pipeline, outcome(err))
	return sum, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, partition.ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, partition.ErrStructuralConflict):
		return "structural_conflict"
	default:
		return "error"
	}
}

// step runs fn as a timed, logged step and records its duration.
func (r *Runner) step(steps *logging.Steps, sum *Summary, name string, fn func(st *logging.Step) error) error {
	st := steps.Begin(name)
	err := fn(st)
	d := st.End(err)
	sum.addStep(name, d)
	r.metrics.StepDuration(name, d)
	return err
}

func (r *Runner) run(ctx context.Context, b Batch, steps *logging.Steps, sum *Summary) error {
	state, err := r.parts.Inspect(ctx, b.UploadID)
	if err != nil {
		return err
	}
	sum.ResumedFrom, sum.State = state, state
	if state == partition.StagingDropped {
		return fmt.Errorf("upload %d: %w", b.UploadID, partition.ErrAlreadyExchanged)
	}

	u := &upload.Upload{UploadID: b.UploadID, TransformName: b.Pipeline, SourceCD: b.SourceSystem}
	if b.InputName != "" {
		u.InputFileName = &b.InputName
	}
	if err := r.ledger.Begin(ctx, u); err != nil {
		return err
	}

	if err := r.incorporate(ctx, b, state, steps, sum); err != nil {
		r.fail(ctx, b.UploadID, sum, err)
		return err
	}
	sum.State = partition.StagingDropped

	counts := upload.Counts{SourceRows: sum.SourceRows, Loaded: sum.Staged, Excluded: sum.ExcludedTotal}
	if err := r.ledger.Complete(ctx, b.UploadID, counts); err != nil {
		return err
	}

	return r.step(steps, sum, "verify", func(st *logging.Step) error {
		res, err := r.verifier.Verify(ctx, b.Pipeline)
		if err != nil {
			return err
		}
		sum.Verification = res.Status
		r.metrics.Verified(b.Pipeline, string(res.Status))
		st.Set("status", string(res.Status))
		return nil
	})
}

func (r *Runner) incorporate(ctx context.Context, b Batch, state partition.State, steps *logging.Steps, sum *Summary) error {
	if state < partition.Split {
		err := r.step(steps, sum, "split", func(st *logging.Step) error {
			err := r.parts.Split(ctx, b.UploadID)
			if errors.Is(err, partition.ErrPartitionExists) {
				st.Set("already", true)
				return nil
			}
			return err
		})
		if err != nil {
			return err
		}
		sum.State = partition.Split
	}

	if state < partition.StagedValidated {
		if err := r.step(steps, sum, "stage", func(st *logging.Step) error {
			return r.stage(ctx, b, st, sum)
		}); err != nil {
			return err
		}

		err := r.step(steps, sum, "validate", func(st *logging.Step) error {
			err := r.parts.Validate(ctx, b.UploadID)
			if errors.Is(err, partition.ErrAlreadyValidated) {
				st.Set("already", true)
				return nil
			}
			return err
		})
		if err != nil {
			return err
		}
		sum.State = partition.StagedValidated
	}

	if state < partition.Exchanged {
		err := r.step(steps, sum, "exchange", func(st *logging.Step) error {
			err := r.parts.Exchange(ctx, b.UploadID)
			if errors.Is(err, partition.ErrAlreadyExchanged) {
				st.Set("already", true)
				return nil
			}
			return err
		})
		if err != nil {
			return err
		}
		sum.State = partition.Exchanged
	}

	return r.step(steps, sum, "drop", func(*logging.Step) error {
		return r.parts.Drop(ctx, b.UploadID)
	})
}

func (r *Runner) stage(ctx context.Context, b Batch, st *logging.Step, sum *Summary) error {
	src := b.Source
	var resolving *encounter.ResolvingSource
	if r.resolver != nil {
		resolving = encounter.NewResolvingSource(src, r.resolver)
		src = resolving
	}

	res, err := r.stager.Stage(ctx, staging.Request{
		UploadID:     b.UploadID,
		DownloadDate: b.DownloadDate,
		Range:        b.Range,
		Source:       src,
		SourceSystem: b.SourceSystem,
		Groups:       b.Groups,
		Progress: func(copied int64) {
			st.Progress(copied, b.ExpectedRows)
		},
	})
	if err != nil {
		return err
	}

	sum.SourceRows = res.SourceRows
	sum.Staged = res.Staged
	sum.Excluded = res.Excluded
	sum.ExcludedTotal = res.Excluded.Total()
	sum.Synthetic = res.Synthetic
	if resolving != nil {
		sum.ResolvedEncounters, _ = resolving.Resolved()
	}

	r.metrics.SourceRows(res.SourceRows)
	r.metrics.StagedRows(res.Staged)
	for reason, n := range res.Excluded.ByReason() {
		r.metrics.ExcludedRows(reason, n)
	}
	r.metrics.SyntheticEncounters(res.Synthetic)

	st.Set("source_rows", res.SourceRows).
		Set("staged", res.Staged).
		Set("excluded", res.Excluded.ByReason()).
		Set("synthetic", res.Synthetic)
	return nil
}

// fail records a failed run. Before the exchange the staging table is
// dropped; afterwards the rows are live and a rerun resumes at the drop.
func (r *Runner) fail(ctx context.Context, uploadID int64, sum *Summary, cause error) {
	cleanup := context.WithoutCancel(ctx)
	log := r.log.With().Int64("upload_id", uploadID).Logger()

	if !sum.State.Live() {
		if err := r.parts.Abort(cleanup, uploadID); err != nil {
			log.Error().Err(err).Msg("abort upload")
		} else if st, err := r.parts.Inspect(cleanup, uploadID); err == nil {
			sum.State = st
		}
	}
	if err := r.ledger.Fail(cleanup, uploadID, cause.Error()); err != nil {
		log.Error().Err(err).Msg("record upload failure")
	}
}
