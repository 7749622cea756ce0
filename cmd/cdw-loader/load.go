package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cdw/cdw/internal/domain/fact"
	"github.com/cdw/cdw/internal/domain/pipeline"
	"github.com/cdw/cdw/internal/platform/metrics"
)

type loadOptions struct {
	uploadID     int64
	pipeline     string
	source       string
	format       string
	lo, hi       int64
	hasLo, hasHi bool
	downloadDate string
	sourceSystem string
	resolve      bool
	groups       int
}

// sized is implemented by sources that know their row count up front.
type sized interface {
	NumRows() int64
}

func loadCmd() *cobra.Command {
	var opts loadOptions

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load one upload into the fact table",
		Long: `Stage the rows of a CSV or Parquet file, incorporate them as the
partition of --upload-id and verify the pipeline. Re-running an upload id
resumes from the state the catalog reports.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.hasLo = cmd.Flags().Changed("lo")
			opts.hasHi = cmd.Flags().Changed("hi")
			return runLoad(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.Int64Var(&opts.uploadID, "upload-id", 0, "Upload id; must exceed every loaded upload id")
	f.StringVar(&opts.pipeline, "pipeline", "", "Pipeline (transform) name")
	f.StringVar(&opts.source, "source", "", "Path of the input file")
	f.StringVar(&opts.format, "format", "", "Input format: csv or parquet (default: from the file extension)")
	f.Int64Var(&opts.lo, "lo", 0, "Lowest patient_num to load (inclusive)")
	f.Int64Var(&opts.hi, "hi", 0, "Highest patient_num to load (inclusive)")
	f.StringVar(&opts.downloadDate, "download-date", "", "Date the source was obtained, YYYY-MM-DD (default: today)")
	f.StringVar(&opts.sourceSystem, "source-system", "CDW", "sourcesystem_cd for rows that carry none")
	f.BoolVar(&opts.resolve, "resolve-encounters", false, "Fill missing encounters from facility stays")
	f.IntVar(&opts.groups, "groups", 1, "Populate staging in this many patient_num sub-ranges")
	_ = cmd.MarkFlagRequired("upload-id")
	_ = cmd.MarkFlagRequired("pipeline")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func runLoad(cmd *cobra.Command, opts loadOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	batch, err := opts.batch(time.Now())
	if err != nil {
		return err
	}

	src, err := openSource(opts.source, opts.format)
	if err != nil {
		return err
	}
	defer src.Close()
	batch.Source = src
	if s, ok := src.(sized); ok {
		batch.ExpectedRows = s.NumRows()
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if batch.ExpectedRows > 0 {
		a.log.Info().Int64("expected_rows", batch.ExpectedRows).Str("source", opts.source).Msg("source row count from file footer")
	}

	rec := metrics.New()
	runner := pipeline.NewRunner(a.stager(), a.partitions(), a.uploads(), a.verifier(), a.log, rec)
	if opts.resolve {
		runner.WithResolver(a.encounters())
	}

	sum, runErr := runner.Run(ctx, batch)

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := rec.Push(pushCtx, a.cfg.PushgatewayURL, "cdw_loader", batch.UploadID); err != nil {
		a.log.Warn().Err(err).Msg("push metrics")
	}

	if sum != nil {
		if err := printJSON(cmd.OutOrStdout(), sum); err != nil {
			return err
		}
	}
	return runErr
}

func (o loadOptions) batch(now time.Time) (pipeline.Batch, error) {
	b := pipeline.Batch{
		UploadID:     o.uploadID,
		Pipeline:     o.pipeline,
		SourceSystem: o.sourceSystem,
		InputName:    filepath.Base(o.source),
		DownloadDate: now.UTC().Truncate(24 * time.Hour),
		Groups:       o.groups,
	}
	if o.hasLo {
		lo := o.lo
		b.Range.Lo = &lo
	}
	if o.hasHi {
		hi := o.hi
		b.Range.Hi = &hi
	}
	if o.downloadDate != "" {
		d, err := fact.ParseDate(o.downloadDate)
		if err != nil {
			return b, fmt.Errorf("--download-date: %w", err)
		}
		b.DownloadDate = d
	}
	if b.UploadID <= 0 {
		return b, fmt.Errorf("--upload-id must be positive")
	}
	if b.Groups < 1 {
		return b, fmt.Errorf("--groups must be at least 1")
	}
	if err := b.Range.Validate(); err != nil {
		return b, err
	}
	return b, nil
}

func openSource(path, format string) (fact.RowSource, error) {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch format {
	case "csv":
		return fact.OpenCSV(path)
	case "parquet":
		return fact.OpenParquet(path)
	default:
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("unknown input format %q; use --format csv or parquet", format)
	}
}
