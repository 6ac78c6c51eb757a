package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"signalengine/internal/logger"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	logLevel  string
	logFormat string
	log       *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "signalengine",
		Short:         "Intraday ORB and Mountain-Signal strategy engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := opts.logLevel
			if level == "" {
				level = os.Getenv("LOG_LEVEL")
			}
			format := opts.logFormat
			if format == "" {
				format = os.Getenv("LOG_FORMAT")
			}
			opts.log = logger.InitWriter(cmd.ErrOrStderr(), "signalengine", logger.ParseLevel(level), format)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (default $LOG_LEVEL or info)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "json or text (default $LOG_FORMAT or json)")

	cmd.AddCommand(
		newLiveCmd(opts),
		newRecordCmd(opts),
		newReplayCmd(opts),
		newBacktestCmd(opts),
		newStatusCmd(opts),
		newTickServerCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("signalengine " + version)
		},
	}
}
