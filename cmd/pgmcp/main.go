package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lczm/pgmcp/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Set by LDFLAGS
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return newRootCmd().ExecuteContext(ctx)
}

type rootOptions struct {
	verbose bool
	envFile string
}

func (o *rootOptions) addFlags(fs *pflag.FlagSet) {
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "set debug logging level")
	fs.StringVar(&o.envFile, "env-file", config.DefaultEnvFile, "dotenv file to load before reading the environment")
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "pgmcp",
		Short:         "PostgreSQL over the Model Context Protocol.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}
	opts.addFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newAskCmd(opts),
		newSQLCmd(opts),
	)
	return rootCmd
}
