// Command quince is a minimal client/server harness over the transport and
// dispatch packages, grounded on the teacher's cmd/quince client.go flag-based
// CLI, replaced with a cobra root command per SPEC_FULL.md's ambient-stack
// section (the rest of the pack's config/CLI tooling reaches for cobra
// rather than the stdlib flag package).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "quince",
		Short: "quince drives a QUIC transport connection for manual testing",
	}
	root.AddCommand(newClientCommand())
	root.AddCommand(newServerCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
