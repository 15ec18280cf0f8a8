package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect the running instance's session data",
	}
	cmd.AddCommand(newSessionStatusCmd())
	return cmd
}

func newSessionStatusCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print per-symbol session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			client := newAPIClient(addr)
			resp, err := client.get("/session")
			if err != nil {
				return fmt.Errorf("fetch session: %w", err)
			}
			if full {
				return printJSON(resp)
			}
			symbols, _ := resp["symbols"].(map[string]any)
			summary := make(map[string]any, len(symbols))
			for sym, v := range symbols {
				rec, ok := v.(map[string]any)
				if !ok {
					continue
				}
				summary[sym] = map[string]any{
					"active":  rec["active"],
					"metrics": rec["metrics"],
				}
			}
			return printJSON(summary)
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "print the complete session snapshot (bars, indicators, quality)")
	return cmd
}
