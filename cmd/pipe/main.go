// Package main is the mail pipe: an MTA delivers one message on stdin and
// reads the outcome from the exit status.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/PratikDhanave/ticket-gateway/internal/app"
	"github.com/PratikDhanave/ticket-gateway/internal/config"
	"github.com/PratikDhanave/ticket-gateway/internal/logging"
	"github.com/PratikDhanave/ticket-gateway/internal/pipe"
	"github.com/PratikDhanave/ticket-gateway/internal/response"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(response.ExitTempFail)
	}
}

// newRootCmd creates the root command for ticket-pipe
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ticket-pipe",
		Short: "Deliver a piped email to the ticket gateway",
		Long: `Reads one RFC 5322 message and opens a ticket or appends it to the
thread it replies to.

The exit status follows sysexits.h so the mail transport can bounce or retry.

Example:
  ticket-pipe < message.eml
  ticket-pipe --file message.eml`,
		SilenceUsage: true,
		RunE:         runPipe,
	}

	rootCmd.Flags().StringP("file", "f", "", "Read the message from a file instead of stdin")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")

	return rootCmd
}

func runPipe(cmd *cobra.Command, _ []string) error {
	path, err := cmd.Flags().GetString("file")
	if err != nil {
		return fmt.Errorf("failed to get file flag: %w", err)
	}
	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return fmt.Errorf("failed to get log-level flag: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if level != "" {
		cfg.LogLevel = level
	}
	logger := logging.Setup(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	var in io.Reader = cmd.InOrStdin()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open message: %w", err)
		}
		defer f.Close()
		in = f
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	gw, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Exit terminates the process, so release storage first.
	pipe.Run(ctx, gw.Service, in, response.Exit{Exit: func(code int) {
		gw.Close()
		os.Exit(code)
	}}, logger.With().Str("component", "pipe").Logger())
	return nil
}
