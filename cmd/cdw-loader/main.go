package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cdw/cdw/internal/config"
	"github.com/cdw/cdw/internal/domain/encounter"
	"github.com/cdw/cdw/internal/domain/fact"
	"github.com/cdw/cdw/internal/domain/partition"
	"github.com/cdw/cdw/internal/domain/staging"
	"github.com/cdw/cdw/internal/domain/upload"
	"github.com/cdw/cdw/internal/domain/verify"
	"github.com/cdw/cdw/internal/platform/db"
	"github.com/cdw/cdw/internal/platform/logging"
	"github.com/cdw/cdw/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cdw-loader",
		Short:         "Load observation facts into the clinical star schema",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(loadCmd())
	root.AddCommand(verifyCmd())
	root.AddCommand(partitionsCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(schemaCmd())
	root.AddCommand(serveCmd())
	return root
}

// app holds what every database-backed command needs.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	pool   *pgxpool.Pool
	tables fact.Tables
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.New(cfg.IsDev(), cfg.LogLevel)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.StarSchema)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("schema", cfg.StarSchema).Str("fact", cfg.FactTable).Msg("connected to database")

	return &app{
		cfg:    cfg,
		log:    log,
		pool:   pool,
		tables: fact.Tables{Schema: cfg.StarSchema, Fact: cfg.FactTable},
	}, nil
}

func (a *app) Close() {
	a.pool.Close()
}

func (a *app) partitions() *partition.Service {
	repo := partition.NewRepo(a.pool, a.tables, a.cfg.LockTimeout)
	return partition.NewService(repo, a.cfg.ExchangeMaxRetries, a.log)
}

func (a *app) stager() *staging.Service {
	return staging.NewService(staging.NewRepo(a.pool, a.tables), a.cfg.CopyBatchSize, a.cfg.PatientIDESource, a.log)
}

func (a *app) uploads() *upload.Service {
	return upload.NewService(upload.NewRepo(a.pool, a.cfg.StarSchema))
}

func (a *app) verifier() *verify.Service {
	return verify.NewService(a.uploads(), verify.NewRepo(a.pool, a.tables))
}

func (a *app) encounters() *encounter.Service {
	return encounter.NewService(encounter.NewRepo(a.pool, a.cfg.StarSchema), a.cfg.StayIDESource)
}

// migrator reads DDL from dir, then MIGRATIONS_DIR, then the embedded files.
func (a *app) migrator(dir string) *db.Migrator {
	if dir == "" {
		dir = a.cfg.MigrationsDir
	}
	if dir != "" {
		return db.NewMigrator(a.pool, dir)
	}
	return db.NewMigratorFS(a.pool, migrations.FS)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
