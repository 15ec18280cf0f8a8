package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newDataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Add, remove, and watch symbols on a running instance",
	}
	cmd.AddCommand(newDataAddSymbolCmd())
	cmd.AddCommand(newDataRemoveSymbolCmd())
	cmd.AddCommand(newDataListDynamicCmd())
	cmd.AddCommand(newDataSessionCmd())
	return cmd
}

func newDataAddSymbolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-symbol <SYMBOL>",
		Short: "Request mid-session provisioning of a new symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			resp, err := newAPIClient(addr).post("/symbols", map[string]string{"symbol": args[0]})
			if err != nil {
				return fmt.Errorf("add symbol: %w", err)
			}
			return printJSON(resp)
		},
	}
}

func newDataRemoveSymbolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-symbol <SYMBOL>",
		Short: "Drop a symbol from the live session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			resp, err := newAPIClient(addr).delete("/symbols/" + args[0])
			if err != nil {
				return fmt.Errorf("remove symbol: %w", err)
			}
			return printJSON(resp)
		},
	}
}

func newDataListDynamicCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-dynamic",
		Short: "List symbols added after session start (not from config)",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			resp, err := newAPIClient(addr).get("/symbols?dynamic=true")
			if err != nil {
				return fmt.Errorf("list dynamic symbols: %w", err)
			}
			return printJSON(resp)
		},
	}
}

func newDataSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session [refresh_s]",
		Short: "Print the session snapshot once, or poll every refresh_s seconds",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			client := newAPIClient(addr)

			if len(args) == 0 {
				resp, err := client.get("/session")
				if err != nil {
					return fmt.Errorf("fetch session: %w", err)
				}
				return printJSON(resp)
			}

			refreshS, err := strconv.Atoi(args[0])
			if err != nil || refreshS <= 0 {
				return invalid("refresh_s must be a positive integer, got %q", args[0])
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			ticker := time.NewTicker(time.Duration(refreshS) * time.Second)
			defer ticker.Stop()
			for {
				resp, err := client.get("/session")
				if err != nil {
					return fmt.Errorf("fetch session: %w", err)
				}
				if err := printJSON(resp); err != nil {
					return err
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
}
