package main

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/visionai/drscreen/internal/config"
	"github.com/visionai/drscreen/internal/domain/account"
	"github.com/visionai/drscreen/internal/domain/screening"
	"github.com/visionai/drscreen/internal/platform/db"
)

// withRegenerator opens storage for an offline maintenance command.
func withRegenerator(cmd *cobra.Command, run func(ctx context.Context, g *screening.Regenerator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	doctors := account.NewService(st.accounts, nil, nil, logger)
	return run(ctx, screening.NewRegenerator(st.encounters, doctors, st.compiler, st.store, logger))
}

func regenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <report_id>",
		Short: "Rebuild a report PDF from its stored images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid report id %q: %w", args[0], err)
			}
			return withRegenerator(cmd, func(ctx context.Context, g *screening.Regenerator) error {
				ref, err := g.Regenerate(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Regenerated %s -> %s\n", id, ref)
				return nil
			})
		},
	}
}

func auditCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check that every encounter has its report PDF",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegenerator(cmd, func(ctx context.Context, g *screening.Regenerator) error {
				entries, err := g.Audit(ctx, verify)
				if err != nil {
					return err
				}
				printAudit(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "Also parse each present PDF")
	return cmd
}

func orphansCmd() *cobra.Command {
	var del bool
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List artifact files no encounter refers to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegenerator(cmd, func(ctx context.Context, g *screening.Regenerator) error {
				report, err := g.Orphans(ctx, del)
				if err != nil {
					return err
				}
				printOrphans(cmd.OutOrStdout(), report, del)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&del, "delete", false, "Delete the orphaned files")
	return cmd
}

func printAudit(w io.Writer, entries []screening.AuditEntry) {
	fmt.Fprintf(w, "%-36s  %-42s  %-8s  %s\n", "ENCOUNTER", "EXPECTED FILE", "PRESENT", "READABLE")
	for _, e := range entries {
		present, readable := "yes", "-"
		if !e.Present {
			present = "NO"
		}
		if e.Readable != nil {
			readable = "yes"
			if !*e.Readable {
				readable = "NO: " + e.Problem
			}
		}
		fmt.Fprintf(w, "%-36s  %-42s  %-8s  %s\n", e.EncounterID, e.ExpectedFilename, present, readable)
	}
	fmt.Fprintf(w, "%d encounter(s), %d without a usable report\n", len(entries), len(screening.Missing(entries)))
}

func printOrphans(w io.Writer, r *screening.OrphanReport, deleted bool) {
	for _, o := range r.Orphans {
		fmt.Fprintf(w, "%-48s  %10d  %s\n", o.Name, o.Size, o.ModTime.UTC().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "%d orphaned file(s)", len(r.Orphans))
	if deleted {
		fmt.Fprintf(w, ", %d deleted", len(r.Deleted))
	}
	if r.TooRecent > 0 {
		fmt.Fprintf(w, ", %d newer than %s skipped", r.TooRecent, screening.OrphanGrace)
	}
	fmt.Fprintln(w)
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
