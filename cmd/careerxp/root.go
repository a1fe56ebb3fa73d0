package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"careerxp/config"
	"careerxp/engine"
	"careerxp/gamify"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	Profile    string
	Format     string // "json" | "text"
}

var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "careerxp",
		Short:         "Inspect and drive the CareerXP award engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "JSON config file (env vars override)")
	cmd.PersistentFlags().StringVar(&opts.Profile, "profile", "", "deployment profile to start from (defaults to $CAREERXP_PROFILE)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newRulesCommand(opts))
	cmd.AddCommand(newAwardCommand(opts))
	cmd.AddCommand(newProfileCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))

	return cmd
}

func (o *rootOptions) loadConfig(ctx context.Context) (*config.Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return config.Resolve(ctx, config.Sources{
		Profile: o.Profile,
		File:    o.ConfigPath,
		Secrets: config.NewEnvironmentSecretStore(),
	})
}

// openService builds a synchronous engine over the configured storage.
// The returned func releases the service and any storage connection.
func (o *rootOptions) openService(cmd *cobra.Command) (*engine.Service, func(), error) {
	cfg, err := o.loadConfig(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	loc, err := cfg.XP.Location()
	if err != nil {
		return nil, nil, err
	}
	storage, err := config.OpenStorage(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Adapter, err)
	}
	svc := gamify.New(
		gamify.WithStorage(storage),
		gamify.WithLocation(loc),
		gamify.WithDispatchMode(engine.DispatchSync),
		gamify.WithLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))),
	)
	return svc, func() {
		svc.Close()
		if c, ok := storage.(io.Closer); ok {
			_ = c.Close()
		}
	}, nil
}

func (o *rootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
