// Package main is chipctl, a terminal client that drives chip operations
// against the remote wallet API without going through the HTTP server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cmatc13/chipdesk/internal/chip"
	"github.com/cmatc13/chipdesk/internal/lumx"
	"github.com/cmatc13/chipdesk/internal/txflow"
	"github.com/cmatc13/chipdesk/pkg/config"
	"github.com/cmatc13/chipdesk/pkg/errors"
	"github.com/cmatc13/chipdesk/pkg/logging"
)

var (
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	dimColor     = color.New(color.Faint)
)

// app is built once per invocation by the root command.
type app struct {
	desk *chip.Desk
	out  io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{out: os.Stdout}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		stop()
		errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:           "chipctl",
		Short:         "Create, buy and transfer chips through the custodial wallet API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts := config.DefaultLoadOptions()
			opts.Flags = cmd.Flags()
			if v, _ := cmd.Flags().GetString("config"); v != "" {
				opts.ConfigFile = v
			}
			if v, _ := cmd.Flags().GetString("env-file"); v != "" {
				opts.EnvFile = v
			}

			cfg, err := config.LoadWithOptions(opts)
			if err != nil {
				return err
			}

			logger := logging.Nop()
			if verbose {
				logger = logging.New(logging.Config{
					Level:       logging.DebugLevel,
					Output:      os.Stderr,
					ServiceName: "chipctl",
					Environment: cfg.Log.Environment,
				})
			}

			client := lumx.NewClientFromConfig(cfg.Lumx)
			poller := txflow.NewPoller(client, cfg.Poll).WithLogger(logger)

			a.desk = chip.NewDesk(client, poller, cfg.Lumx).WithLogger(logger)
			return nil
		},
	}

	config.RegisterFlags(cmd.PersistentFlags())
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log poll activity to stderr")

	cmd.AddCommand(
		newWalletCmd(a),
		newChipCmd(a),
	)

	return cmd
}

// printReceipt reports a chip operation: the hash on success, the unresolved
// message on a timeout, or the error.
func (a *app) printReceipt(action string, receipt chip.Receipt, err error) error {
	if err == nil {
		successColor.Fprintf(a.out, "✓ %s confirmed\n", action)
		fmt.Fprintf(a.out, "  Operation:   %s\n", receipt.OperationID)
		fmt.Fprintf(a.out, "  Transaction: %s\n", receipt.TransactionID)
		fmt.Fprintf(a.out, "  Hash:        %s\n", receipt.Hash)
		fmt.Fprintf(a.out, "  Explorer:    %s\n", receipt.ExplorerURL)
		return nil
	}

	var timeoutErr *txflow.TimeoutError
	if errors.As(err, &timeoutErr) {
		warnColor.Fprintf(a.out, "! %s: transaction state unknown; it may still complete\n", action)
		if receipt.TransactionID != "" {
			fmt.Fprintf(a.out, "  Transaction: %s\n", receipt.TransactionID)
		}
		dimColor.Fprintf(a.out, "  No hash within %s\n", timeoutErr.Timeout)
		return nil
	}

	return fmt.Errorf("%s failed: %w", action, err)
}
