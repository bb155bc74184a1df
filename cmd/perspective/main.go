package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	appName = "perspective"
	version = "v1.2.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Perspective rule engine for position and lookthrough data",
		Version: version,
		Long: `Perspective filters, scales and re-weights portfolio positions and
lookthroughs according to database-defined perspectives and modifiers.

Run 'perspective serve' for the HTTP API, or 'perspective apply' to run a
single request offline against a perspectives file.`,
	}
	registerGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newApplyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func registerGlobalFlags(flags *pflag.FlagSet) {
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.Bool("pretty", false, "force human-readable console logging")
}

// setupLogging configures zerolog: console output on a terminal (or when
// forced), JSON otherwise.
func setupLogging(cmd *cobra.Command) {
	levelStr, _ := cmd.Flags().GetString("log-level")
	pretty, _ := cmd.Flags().GetBool("pretty")

	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if pretty || term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
