package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"careerxp/adapters/gormstore"
	"careerxp/adapters/sqlx"
	"careerxp/core"
	"careerxp/engine"
)

func newRulesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the reward table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rules := core.DefaultRules().Rules()
			payload := map[string]any{"xp_per_level": core.XPPerLevel, "rules": rules}
			return opts.print(cmd.OutOrStdout(), payload, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ACTION\tXP\tREF\tDAILY CAP\tCOOLDOWN")
				for _, r := range rules {
					fmt.Fprintf(tw, "%s\t%d\t%v\t%s\t%s\n", r.Action, r.Amount, r.RequireRefID, orDash(r.DailyCap, ""), orDash(r.CooldownDays, "d"))
				}
				_ = tw.Flush()
				fmt.Fprintf(w, "\n%d xp per level\n", core.XPPerLevel)
			})
		},
	}
}

func orDash(n int, suffix string) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d%s", n, suffix)
}

func newAwardCommand(opts *rootOptions) *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "award <user> <action>",
		Short: "Evaluate and apply one award",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := opts.openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			out := svc.Award(cmd.Context(), core.UserID(args[0]), core.Action(args[1]), engine.WithRefID(ref))
			if out.Err != nil {
				return fmt.Errorf("award failed: %w", out.Err)
			}
			return opts.print(cmd.OutOrStdout(), out, func(w io.Writer) {
				if !out.Granted() {
					fmt.Fprintf(w, "declined: %s\n", out.Reason())
					return
				}
				fmt.Fprintf(w, "granted %d xp to %s (total %d, level %d)\n", out.Entry.XP, out.UserID, out.After.XP, out.After.Level)
				if out.LeveledUp() {
					fmt.Fprintf(w, "level up: %d -> %d\n", out.Before.Level, out.After.Level)
				}
			})
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "reference id of the triggering record")
	return cmd
}

func newProfileCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profile <user>",
		Short: "Show a user's XP and level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := opts.openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			p, err := svc.Profile(cmd.Context(), core.UserID(args[0]))
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), p, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %d xp, level %d (%d xp to next)\n", p.UserID, p.XP, p.Level, core.NextLevelXP(p.Level)-p.XP)
			})
		},
	}
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <user>",
		Short: "List a user's most recent grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("limit must be positive")
			}
			svc, closeFn, err := opts.openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			entries, err := svc.History(cmd.Context(), core.UserID(args[0]), limit)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), entries, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "WHEN\tACTION\tXP\tREF")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.CreatedAt.Format("2006-01-02 15:04:05Z07:00"), e.Action, e.XP, e.RefID)
				}
				_ = tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to list")
	return cmd
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema of the configured SQL storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := opts.loadConfig(ctx)
			if err != nil {
				return err
			}

			switch cfg.Storage.Adapter {
			case "sql":
				sqlCfg := cfg.Storage.SQL
				sqlCfg.AutoMigrate = false
				store, err := sqlx.New(sqlCfg)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.Migrate(ctx); err != nil {
					return err
				}
			case "gorm":
				// Open runs AutoMigrate.
				store, err := gormstore.Open(cfg.Storage.Gorm)
				if err != nil {
					return err
				}
				defer store.Close()
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s storage has no schema to migrate\n", cfg.Storage.Adapter)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.Storage.Adapter)
			return nil
		},
	}
}
