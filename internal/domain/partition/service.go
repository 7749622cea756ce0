package partition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

type Service struct {
	repo       Repository
	maxRetries int
	newBackOff func() backoff.BackOff
	log        zerolog.Logger
}

// NewService retries a contended exchange up to maxRetries times with
// exponential backoff.
func NewService(repo Repository, maxRetries int, log zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		maxRetries: maxRetries,
		log:        log,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
	}
}

func (s *Service) Inspect(ctx context.Context, uploadID int64) (State, error) {
	c, err := s.repo.Catalog(ctx, uploadID)
	if err != nil {
		return CatchAllOnly, err
	}
	return c.State(), nil
}

// Split carves the upload's partition out of the catch-all.
func (s *Service) Split(ctx context.Context, uploadID int64) error {
	if uploadID <= 0 || uploadID == math.MaxInt64 {
		return fmt.Errorf("upload id %d is outside the partitionable range", uploadID)
	}
	return s.repo.Split(ctx, uploadID)
}

// Validate constrains the staging table to the upload's bounds and builds
// its primary key. ErrDuplicateKey means the upload cannot be incorporated.
func (s *Service) Validate(ctx context.Context, uploadID int64) error {
	c, err := s.repo.Catalog(ctx, uploadID)
	if err != nil {
		return err
	}
	switch c.State() {
	case CatchAllOnly:
		return ErrNotSplit
	case StagedValidated:
		return ErrAlreadyValidated
	case Exchanged, StagingDropped:
		return ErrAlreadyExchanged
	}
	if !c.StagingExists {
		return ErrNoStaging
	}
	return s.repo.Constrain(ctx, uploadID)
}

// Exchange makes the staged rows the live content of the upload partition.
// Lock timeouts and deadlocks are retried; the swap itself is one
// transaction, so readers never see a partial upload.
func (s *Service) Exchange(ctx context.Context, uploadID int64) error {
	attempt := 0
	op := func() error {
		attempt++
		err := s.repo.Exchange(ctx, uploadID)
		if err == nil || IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn().
			Err(err).
			Int64("upload_id", uploadID).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("exchange blocked, retrying")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.maxRetries)), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if IsTransient(err) {
			return fmt.Errorf("exchange upload %d failed after %d attempts: %w", uploadID, attempt, err)
		}
		return err
	}
	return nil
}

// Drop discards the table left in the staging slot by the exchange.
func (s *Service) Drop(ctx context.Context, uploadID int64) error {
	st, err := s.Inspect(ctx, uploadID)
	if err != nil {
		return err
	}
	switch st {
	case StagingDropped:
		return nil
	case Exchanged:
		return s.repo.DropStaging(ctx, uploadID)
	}
	return fmt.Errorf("drop staging for upload %d in state %s: %w", uploadID, st, ErrNotExchanged)
}

// Abort drops the staging table of an upload that was not exchanged. The
// empty partition, if any, is left in place for a retry.
func (s *Service) Abort(ctx context.Context, uploadID int64) error {
	st, err := s.Inspect(ctx, uploadID)
	if err != nil {
		return err
	}
	if st.Live() {
		return ErrAlreadyExchanged
	}
	return s.repo.DropStaging(ctx, uploadID)
}

func (s *Service) List(ctx context.Context) ([]Partition, error) {
	return s.repo.List(ctx)
}

// IsDone reports whether err means a step had already been carried out.
func IsDone(err error) bool {
	return errors.Is(err, ErrPartitionExists) ||
		errors.Is(err, ErrAlreadyValidated) ||
		errors.Is(err, ErrAlreadyExchanged)
}
