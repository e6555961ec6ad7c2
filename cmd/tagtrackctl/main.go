package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/tagtrack/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (o *rootOptions) logger() logging.Logger {
	return logging.New(logging.Config{Level: o.logLevel, Format: o.logFormat, Output: os.Stderr})
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "tagtrackctl",
		Short:         "Inspect telemetry frames and maintain the tag position store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "tagtrackd.yaml", "path to the daemon configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format (text, json)")

	root.AddCommand(newDecodeCmd(opts), newEncodeCmd(), newRepositionCmd(opts))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tagtrackctl:", err)
		os.Exit(1)
	}
}
