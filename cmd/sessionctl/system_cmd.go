package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marketdata/sessioncore/internal/config"
	"github.com/marketdata/sessioncore/pkg/logger"
)

func newSystemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "system",
		Short: "Start, stop, and inspect a session coordinator instance",
	}
	cmd.AddCommand(newSystemStartCmd())
	cmd.AddCommand(newSystemStopCmd())
	cmd.AddCommand(newSystemStatusCmd())
	return cmd
}

func newSystemStartCmd() *cobra.Command {
	var configPath, httpAddr, logLevel string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Load config and run the full worker stack in this process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return invalid("--config is required")
			}
			if err := logger.Init(logLevel, "production"); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync()

			cfg, err := config.Load(configPath)
			if err != nil {
				return invalid("load config: %v", err)
			}

			stack, err := wireStack(cfg, httpAddr)
			if err != nil {
				return fmt.Errorf("wire stack: %w", err)
			}
			return stack.run(context.Background())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML session configuration document")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8090", "address the JSON/HTTP export surface listens on")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")
	return cmd
}

func newSystemStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Deliberately unimplemented: the HTTP export surface is
			// unauthenticated by design (spec's no-authentication
			// Non-goal), so it exposes no remote-shutdown endpoint. Stop a
			// running instance the way you'd stop any foreground process:
			// Ctrl-C or SIGTERM, which "system start" already handles
			// gracefully.
			return invalid("remote stop is not supported; send SIGTERM/SIGINT to the running process")
		},
	}
}

func newSystemStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the running instance's system_manager/threads status",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			client := newAPIClient(addr)
			status, err := client.get("/status")
			if err != nil {
				return fmt.Errorf("fetch status: %w", err)
			}
			return printJSON(status)
		},
	}
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(cmdStdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
