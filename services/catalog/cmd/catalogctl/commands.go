package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"appcatalog/internal/util"
	"appcatalog/pkg/domain"
	"appcatalog/services/catalog/internal/app"
	"appcatalog/services/catalog/internal/config"

	"github.com/spf13/cobra"
)

// newApp reads the config and opens the configured backend. The caller must Close the app.
func newApp(configPath string) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	util.InitLoggerTo(os.Stderr, cfg.LogLevel)
	a, err := app.New(app.Config{StoreConfig: cfg.StoreConfig()})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "catalogctl",
		Short:        "Administer the app catalog store",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.ConfigPath, "path to the catalog config file")

	root.AddCommand(newImportCmd(&configPath), newStatsCmd(&configPath))
	return root
}

func newImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import apps from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			var payloads []domain.NewApp
			if err := json.Unmarshal(raw, &payloads); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}

			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			var imported, skipped int
			for _, payload := range payloads {
				created, err := a.CreateApp(cmd.Context(), payload)
				switch {
				case errors.Is(err, app.ErrDuplicateID):
					skipped++
					fmt.Fprintf(out, "skip %s: already exists\n", payload.ID)
				case errors.Is(err, app.ErrMissingField):
					skipped++
					fmt.Fprintf(out, "skip %q: %v\n", payload.ID, err)
				case err != nil:
					return fmt.Errorf("importing %s: %w", payload.ID, err)
				default:
					imported++
					fmt.Fprintf(out, "imported %s (%s)\n", created.ID, created.Category)
				}
			}
			fmt.Fprintf(out, "done: %d imported, %d skipped\n", imported, skipped)
			return nil
		},
	}
}

func newStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print catalog statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}
