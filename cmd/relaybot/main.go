package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/app"
	logx "relaybot/pkg/logx"
)

var (
	version = "dev"

	cfgPath  string
	logLevel string
)

func main() {
	root := &cobra.Command{
		Use:           "relaybot",
		Short:         "Relay site notifications to a Telegram chat",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config (yaml or json); empty means environment only")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level for one-shot commands")

	root.AddCommand(runCmd(), checkCmd(), migrateCmd(), versionCmd())
	// Bare invocation behaves like "run".
	root.RunE = runCmd().RunE

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the relay and serve until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background())
				return fmt.Errorf("start: %w", err)
			}

			select {
			case <-ctx.Done():
			case <-a.Done():
			}
			runErr := a.Err()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer stopCancel()
			if err := a.Stop(stopCtx); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
}

func checkCmd() *cobra.Command {
	var useDedup bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Fetch once and print the messages that would be sent",
		Long: `Runs a single read against the configured source and prints the rendered
messages instead of sending them. Database rows are left unsent.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rep, err := app.Check(ctx, cfgPath, useDedup, logx.NewConsole(logLevel))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rep.Messages) == 0 {
				fmt.Fprintln(out, "no new notifications")
				return nil
			}
			fmt.Fprintln(out, strings.Join(rep.Messages, "\n\n---\n\n"))
			fmt.Fprintf(out, "\n%d fetched, %d rendered, %d suppressed\n", rep.Fetched, len(rep.Messages), rep.Suppressed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&useDedup, "dedup", false, "suppress duplicate ids within the batch")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres source schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := app.Migrate(cfgPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "relaybot", version)
		},
	}
}
