// Command sessionctl is the operator entrypoint for the session coordinator:
// "system start" boots the full in-process worker stack (config load,
// wiring, coordinator run loop, JSON/HTTP export surface) the way the
// teacher's cmd/scanner/main.go wires its scan loop and API server side by
// side; every other subcommand is a thin HTTP client against a running
// instance's internal/httpapi surface, mirroring the teacher's
// cmd/alert and cmd/bars processes talking to a shared service rather than
// to each other's memory.
//
// Exit codes follow spec.md §6: 0 success, 1 validation failure (missing
// --config, bad config, bad refresh_s argument), 2 runtime failure (the
// stack or the HTTP call itself failed). Errors cobra itself raises while
// parsing flags or checking argument counts are not marked as validation
// failures and exit 2.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	exitOK         = 0
	exitValidation = 1
	exitRuntime    = 2
)

// cmdStdout is where subcommands print JSON results; a package-level var so
// tests can swap it if they're added later.
var cmdStdout = os.Stdout

func main() {
	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Operate a market-data session coordinator instance",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("addr", "http://127.0.0.1:8090", "base URL of a running sessionctl instance's HTTP export surface")

	root.AddCommand(newSystemCmd())
	root.AddCommand(newSessionCmd())
	root.AddCommand(newDataCmd())

	if err := root.Execute(); err != nil {
		if ve, ok := err.(*validationError); ok {
			fmt.Fprintln(os.Stderr, "error:", ve.err)
			os.Exit(exitValidation)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitRuntime)
	}
}

// validationError marks a cobra RunE failure as a pre-flight/argument
// problem (exit 1) rather than a failure that occurred while doing the
// actual work (exit 2).
type validationError struct{ err error }

func (v *validationError) Error() string { return v.err.Error() }

func invalid(format string, args ...any) error {
	return &validationError{err: fmt.Errorf(format, args...)}
}
