package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmriver/internal/snapshot"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [snapshot.json]",
	Short: "Validate a saved network snapshot and print its statistics",
	Long: `Load a JSON snapshot, check its fingerprint and node/edge integrity, and
print node, edge and component counts. Without an argument the configured
snapshot path is used.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) {
	path := cfg.SnapshotPath()
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		exitWithError("no snapshot path given", nil)
	}

	if err := inspectSnapshot(cmd.OutOrStdout(), path); err != nil {
		exitWithError("snapshot is not valid", err)
	}
}

func inspectSnapshot(w io.Writer, path string) error {
	doc, err := snapshot.Load(path)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("snapshot %s does not exist", path)
	}
	if err := doc.Verify(); err != nil {
		return err
	}
	net := doc.Network()
	if err := net.Validate(); err != nil {
		return err
	}

	stats := net.Stats()
	fmt.Fprintf(w, "Snapshot:    %s\n", path)
	fmt.Fprintf(w, "Region:      %s\n", doc.Region)
	fmt.Fprintf(w, "Tolerance:   %g\n", doc.Tolerance)
	fmt.Fprintf(w, "Fingerprint: %s\n", doc.Fingerprint)
	if len(doc.Targets) > 0 {
		fmt.Fprintf(w, "Targets:     %s\n", strings.Join(doc.Targets, ", "))
	}
	fmt.Fprintf(w, "Nodes:       %d\n", stats.Nodes)
	fmt.Fprintf(w, "Edges:       %d\n", stats.Edges)
	fmt.Fprintf(w, "Self-loops:  %d\n", stats.SelfLoops)
	fmt.Fprintf(w, "Components:  %d\n", stats.Components)
	fmt.Fprintf(w, "Length:      %.1f km\n", stats.LengthM/1000)
	return nil
}
