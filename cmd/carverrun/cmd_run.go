package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var pricesPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the decision loop",
		Long:  "Runs a decision cycle every pipeline.interval and serves /health, /metrics, /targets and /ws/targets while it runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd.Context(), flags, pricesPath)
		},
	}
	cmd.Flags().StringVar(&pricesPath, "prices", "", "JSON price file for the memory source")
	return cmd
}

func runLoop(parent context.Context, flags *globalFlags, pricesPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(ctx, cfg, pricesPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	log.Info().
		Str("version", version).
		Str("source", cfg.MarketData.Source).
		Str("rates", cfg.Rates.Source).
		Str("sink", cfg.Execution.Sink).
		Int("securities", len(cfg.Securities)).
		Msg("Starting carverrun")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.runner.Run(gctx) })
	if cfg.HTTP.Enabled {
		g.Go(func() error { return rt.server().Start(gctx) })
	}
	return g.Wait()
}

func newCycleCmd(flags *globalFlags) *cobra.Command {
	var pricesPath string
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run a single decision cycle and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := loadConfig(flags.configPath)
			if err != nil {
				return err
			}
			rt, err := buildRuntime(ctx, cfg, pricesPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.runner.Tick(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pricesPath, "prices", "", "JSON price file for the memory source")
	return cmd
}
