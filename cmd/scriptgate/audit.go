package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"scriptgate/internal/auditlog"
	"scriptgate/internal/domain"
	"scriptgate/internal/logging"

	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the invocation audit log",
	}

	var limit int
	recent := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent invocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuditStore(func(ctx context.Context, store *auditlog.Store) error {
				entries, err := store.Recent(ctx, limit)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						domain.Timestamp(e.CreatedAt),
						e.Method + " " + e.Route,
						e.Target,
						e.Kind,
						strconv.Itoa(e.Status),
						strconv.FormatInt(e.DurationMs, 10),
						e.RequestID,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Time", "Route", "Target", "Kind", "Status", "ms", "Request ID"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	recent.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")

	var since time.Duration
	summary := &cobra.Command{
		Use:   "summary",
		Short: "Count invocations by outcome kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuditStore(func(ctx context.Context, store *auditlog.Store) error {
				counts, err := store.Summary(ctx, time.Now().Add(-since))
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(counts))
				for _, c := range counts {
					rows = append(rows, []string{
						c.Kind,
						strconv.FormatInt(c.Count, 10),
						strconv.FormatFloat(c.AvgDurationMs, 'f', 1, 64),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Kind", "Count", "Avg ms"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	summary.Flags().DurationVar(&since, "since", 24*time.Hour, "look-back window")

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
			return withAuditStore(func(ctx context.Context, store *auditlog.Store) error {
				n, err := store.Prune(ctx, retention)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries older than %d days\n", n, cfg.Audit.RetentionDays)
				return nil
			})
		},
	}

	cmd.AddCommand(recent, summary, prune)
	return cmd
}

func withAuditStore(fn func(ctx context.Context, store *auditlog.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Audit.Enabled {
		return fmt.Errorf("audit log is disabled (set audit.enabled to true)")
	}
	store, err := auditlog.NewStore(cfg.Audit.DBPath, logging.NewNop())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, store)
}
