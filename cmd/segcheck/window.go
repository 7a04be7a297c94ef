package main

import (
	"fmt"

	"github.com/snarg/transcript-sync/internal/virtualize"
	"github.com/spf13/cobra"
)

var (
	windowOffset    float64
	windowViewport  float64
	windowRowHeight float64
	windowOverscan  int
)

func newWindowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "window FILE",
		Short: "List the rows a viewport would mount at a scroll offset",
		Args:  cobra.ExactArgs(1),
		RunE:  runWindow,
	}
	cmd.Flags().Float64Var(&windowOffset, "offset", 0, "Scroll offset in pixels")
	cmd.Flags().Float64Var(&windowViewport, "viewport", 560, "Viewport height in pixels")
	cmd.Flags().Float64Var(&windowRowHeight, "row-height", 28, "Row height in pixels")
	cmd.Flags().IntVar(&windowOverscan, "overscan", 10, "Rows rendered beyond each edge")
	return cmd
}

func runWindow(cmd *cobra.Command, args []string) error {
	if windowRowHeight <= 0 || windowViewport < 0 || windowOverscan < 0 {
		return fmt.Errorf("row-height must be positive; viewport and overscan must not be negative")
	}
	doc, err := readDocument(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	rows := virtualize.FixedWindow(len(doc.Segments), windowRowHeight, windowOffset, windowViewport, windowOverscan)

	out := cmd.OutOrStdout()
	if jsonOutput {
		if rows == nil {
			rows = []virtualize.Row{}
		}
		return printJSON(out, rows)
	}
	fmt.Fprintf(out, "%d of %d rows mounted, total height %.0fpx\n",
		len(rows), len(doc.Segments), float64(len(doc.Segments))*windowRowHeight)
	for _, r := range rows {
		fmt.Fprintf(out, "%6.0f  #%-6d %s\n", r.Offset, r.Index, doc.Segments[r.Index].Word)
	}
	return nil
}
