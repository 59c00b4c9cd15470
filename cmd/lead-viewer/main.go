package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lead_viewer/config"
	"lead_viewer/dataset"
	"lead_viewer/internal/app"
	"lead_viewer/internal/loader"
	"lead_viewer/internal/logging"
	"lead_viewer/query"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type filterFlags struct {
	params  query.Params
	dialect string
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.params.Sources, "source", nil, "Keep leads from these sources")
	cmd.Flags().StringSliceVar(&f.params.Statuses, "status", nil, "Keep leads with these statuses")
	cmd.Flags().StringSliceVar(&f.params.Tags, "tag", nil, "Keep leads carrying any of these tags")
	cmd.Flags().StringVar(&f.params.Start, "start", "", "Earliest created day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.params.End, "end", "", "Latest created day, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.params.Search, "search", "", "Case-insensitive substring over every field")
	cmd.Flags().StringVar(&f.dialect, "dialect", "", "CSV dialect: rfc4180 or legacy (default from config)")
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "lead-viewer",
		Short:        "Browse, filter and export CSV lead exports",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newQueryCmd(), newExportCmd())
	return root
}

func setup() (config.Config, *zap.Logger, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return config.Config{}, nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return cfg, nil, err
	}
	for _, w := range cfg.Warnings {
		logger.Warn("config", zap.String("detail", w))
	}
	return cfg, logger, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and watch the data source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			application, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			defer application.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return application.Run(ctx)
		},
	}
}

// loadFiltered reads source, parses it and applies the flag filters.
func loadFiltered(ctx context.Context, cfg config.Config, source string, f filterFlags) (dataset.Dataset, dataset.Dataset, dataset.Report, error) {
	dialect := cfg.Dialect
	if f.dialect != "" {
		d, err := dataset.ParseDialect(f.dialect)
		if err != nil {
			return dataset.Dataset{}, dataset.Dataset{}, dataset.Report{}, err
		}
		dialect = d
	}
	raw, err := loader.New(nil, cfg.FetchTimeout()).Fetch(ctx, source)
	if err != nil {
		return dataset.Dataset{}, dataset.Dataset{}, dataset.Report{}, err
	}
	all, rep := dataset.Scan(string(raw), dataset.Options{Dialect: dialect})
	spec, err := f.params.Spec(cfg.Location)
	if err != nil {
		return dataset.Dataset{}, dataset.Dataset{}, dataset.Report{}, err
	}
	return all, query.NewEngine(cfg.Location).Filter(all, spec), rep, nil
}

func sourceArg(cfg config.Config, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.DataSource
}

type queryOutput struct {
	Source string           `json:"source"`
	Report dataset.Report   `json:"report"`
	Stats  query.Stats      `json:"stats"`
	Rate   string           `json:"rate"`
	Series []query.DayCount `json:"series"`
}

func newQueryCmd() *cobra.Command {
	var f filterFlags
	cmd := &cobra.Command{
		Use:   "query [file|url]",
		Short: "Print stats and the per-day series for a filtered view as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			source := sourceArg(cfg, args)
			all, view, rep, err := loadFiltered(cmd.Context(), cfg, source, f)
			if err != nil {
				return err
			}
			stats := query.ComputeStats(all, view)
			out := queryOutput{
				Source: source,
				Report: rep,
				Stats:  stats,
				Rate:   stats.RateText(),
				Series: query.NewEngine(cfg.Location).AggregateByDay(view),
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	f.bind(cmd)
	return cmd
}

func newExportCmd() *cobra.Command {
	var f filterFlags
	var output string
	cmd := &cobra.Command{
		Use:   "export [file|url]",
		Short: "Write the filtered view as CSV",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			_, view, _, err := loadFiltered(cmd.Context(), cfg, sourceArg(cfg, args), f)
			if err != nil {
				return err
			}
			if view.Empty() {
				return errors.New("no data to export")
			}
			if output == "" {
				output = cfg.ExportFilename
			}
			var w io.Writer = cmd.OutOrStdout()
			if output != "-" {
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			if err := dataset.WriteCSV(w, view); err != nil {
				return err
			}
			logger.Info("export written", zap.String("output", output), zap.Int("records", view.Len()))
			return nil
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", `Output file, "-" for stdout (default EXPORT_FILENAME)`)
	return cmd
}
