package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	appName = "carverrun"
	version = "v0.4.0"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Carver-style trading decision loop",
		Version: version,
		Long: `carverrun turns price histories into target positions.

Each cycle blends momentum, breakout, carry and mean-reversion forecasts on the
Carver [-20, 20] scale, sizes them by EWMA volatility, balances risk across the
book and holds positions whose change would not pay for its costs.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(flags.logLevel, flags.logFormat)
		},
	}
	addGlobalFlags(rootCmd.PersistentFlags(), flags)

	rootCmd.AddCommand(newRunCmd(flags))
	rootCmd.AddCommand(newCycleCmd(flags))
	rootCmd.AddCommand(newConfigCmd(flags))
	return rootCmd
}

func addGlobalFlags(fs *pflag.FlagSet, flags *globalFlags) {
	fs.StringVarP(&flags.configPath, "config", "c", "", "Path to the YAML configuration (defaults apply when empty)")
	fs.StringVar(&flags.logLevel, "log-level", "info", "Log level (trace|debug|info|warn|error)")
	fs.StringVar(&flags.logFormat, "log-format", "auto", "Log format (auto|console|json)")
}

// setupLogging configures the global zerolog logger. auto picks the console
// writer when stderr is a terminal.
func setupLogging(level, format string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	switch format {
	case "auto":
		if term.IsTerminal(int(os.Stderr.Fd())) {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		} else {
			log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		}
	case "console":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	case "json":
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}
