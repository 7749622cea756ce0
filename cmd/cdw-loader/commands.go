package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cdw/cdw/internal/domain/fact"
	"github.com/cdw/cdw/internal/domain/idcode"
	"github.com/cdw/cdw/internal/platform/db"
)

// errIncomplete makes verify exit non-zero without printing usage.
var errIncomplete = errors.New("pipeline incomplete")

func verifyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that the latest upload of a pipeline is live",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.verifier().Verify(ctx, name)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.OK() {
				return fmt.Errorf("%w: %s is %s", errIncomplete, name, res.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "pipeline", "", "Pipeline (transform) name")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

func partitionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partitions",
		Short: "Inspect and repair upload partitions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List upload partitions of the fact table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			parts, err := a.partitions().List(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "UPLOAD\tPARTITION\tEXCHANGED\tBOUND")
			for _, p := range parts {
				fmt.Fprintf(w, "%d\t%s\t%t\t%s\n", p.UploadID, p.Name, p.Exchanged, p.Bound)
			}
			return w.Flush()
		},
	})

	var uploadID int64
	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Show the lifecycle state of an upload",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.partitions().Inspect(ctx, uploadID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"upload_id": uploadID,
				"state":     st,
				"live":      st.Live(),
			})
		},
	}
	inspect.Flags().Int64Var(&uploadID, "upload-id", 0, "Upload id")
	_ = inspect.MarkFlagRequired("upload-id")
	cmd.AddCommand(inspect)

	var abortID int64
	abort := &cobra.Command{
		Use:   "abort",
		Short: "Drop the staging tables of an upload that was not exchanged",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.partitions().Abort(ctx, abortID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dropped staging for upload %d.\n", abortID)
			return nil
		},
	}
	abort.Flags().Int64Var(&abortID, "upload-id", 0, "Upload id")
	_ = abort.MarkFlagRequired("upload-id")
	cmd.AddCommand(abort)

	return cmd
}

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve identifiers against the mapping tables",
	}

	var person, date, stay string
	enc := &cobra.Command{
		Use:   "encounter",
		Short: "Resolve the encounter key of a person on a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := fact.ParseDate(date)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			var stayID *string
			if stay != "" {
				stayID = &stay
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.encounters().Resolve(ctx, stayID, person, on)
			if err != nil {
				return err
			}
			a.log.Debug().Str("resolution", res.String()).Msg("resolved encounter")
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	enc.Flags().StringVar(&person, "person", "", "Person (patient_ide)")
	enc.Flags().StringVar(&date, "date", "", "Observation date, YYYY-MM-DD")
	enc.Flags().StringVar(&stay, "stay", "", "Known stay id")
	_ = enc.MarkFlagRequired("person")
	_ = enc.MarkFlagRequired("date")
	cmd.AddCommand(enc, resolveCodeCmd())

	return cmd
}

// codeResolution is what resolve code prints.
type codeResolution struct {
	Kind      string `json:"kind"`
	Code      string `json:"code"`
	ConceptCD string `json:"concept_cd"`
}

func resolveCodeCmd() *cobra.Command {
	var kind, code, version string
	cmd := &cobra.Command{
		Use:   "code",
		Short: "Print the concept code of a diagnosis or procedure code",
		RunE: func(cmd *cobra.Command, args []string) error {
			var ver *string
			if cmd.Flags().Changed("version") {
				ver = &version
			}
			cd, err := conceptCode(kind, code, ver)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), codeResolution{Kind: kind, Code: code, ConceptCD: cd})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "dx", "Code kind: dx or px")
	cmd.Flags().StringVar(&code, "code", "", "Source code as it appears in the claim")
	cmd.Flags().StringVar(&version, "version", "", "Code version (dx: 9 or 10; px: 9, HCPCS, CPT, ...)")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func conceptCode(kind, code string, version *string) (string, error) {
	switch kind {
	case "dx":
		return idcode.DiagnosisCode(code, version), nil
	case "px":
		return idcode.ProcedureCode(code, version), nil
	default:
		return "", fmt.Errorf("unknown code kind %q; use dx or px", kind)
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	var upDir string
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to the star schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			count, err := a.migrator(upDir).Up(ctx, a.cfg.StarSchema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to %s.\n", count, a.cfg.StarSchema)
			return nil
		},
	}
	up.Flags().StringVar(&upDir, "dir", "", "Migrations directory (default: embedded)")
	cmd.AddCommand(up)

	var statusDir string
	status := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			statuses, err := a.migrator(statusDir).Status(ctx, a.cfg.StarSchema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd, a.cfg.StarSchema, statuses)
			return nil
		},
	}
	status.Flags().StringVar(&statusDir, "dir", "", "Migrations directory (default: embedded)")
	cmd.AddCommand(status)

	return cmd
}

func printMigrationStatus(cmd *cobra.Command, schema string, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		state, appliedAt := "pending", ""
		if s.Applied {
			state = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, state, appliedAt)
	}
}

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the star schema",
	}

	var dir string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create the star schema and apply all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return createSchema(ctx, a, dir, cmd)
		},
	}
	create.Flags().StringVar(&dir, "dir", "", "Migrations directory (default: embedded)")
	cmd.AddCommand(create)
	return cmd
}

func createSchema(ctx context.Context, a *app, dir string, cmd *cobra.Command) error {
	n, err := db.CreateStarSchema(ctx, a.pool, a.cfg.StarSchema, a.migrator(dir))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema %s ready, %d migration(s) applied.\n", a.cfg.StarSchema, n)
	return nil
}
