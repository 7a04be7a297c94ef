package main

import (
	"fmt"

	"github.com/snarg/transcript-sync/internal/syncengine"
	"github.com/spf13/cobra"
)

var resolveAt []int64

type resolveRow struct {
	TimeMs   int64  `json:"time_ms"`
	Index    int    `json:"index"`
	Word     string `json:"word,omitempty"`
	StartMs  int64  `json:"start_ms"`
	EndMs    int64  `json:"end_ms"`
	Contains bool   `json:"contains"`
}

func newResolveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve FILE",
		Short: "Show which segment is highlighted at the given playback times",
		Args:  cobra.ExactArgs(1),
		RunE:  runResolve,
	}
	cmd.Flags().Int64SliceVar(&resolveAt, "at", nil, "Playback positions in milliseconds (repeatable)")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	rows := make([]resolveRow, 0, len(resolveAt))
	hint := -1
	for _, t := range resolveAt {
		row := resolveRow{TimeMs: t, Index: syncengine.ResolveIndex(doc.Segments, t, hint)}
		if row.Index >= 0 {
			s := doc.Segments[row.Index]
			row.Word, row.StartMs, row.EndMs = s.Word, s.Start, s.End
			row.Contains = s.Contains(t)
			hint = row.Index
		}
		rows = append(rows, row)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, rows)
	}
	for _, r := range rows {
		if r.Index < 0 {
			fmt.Fprintf(out, "%8dms  (no segments)\n", r.TimeMs)
			continue
		}
		mark := " "
		if !r.Contains {
			mark = "~"
		}
		fmt.Fprintf(out, "%8dms %s #%d %q [%d-%d]\n", r.TimeMs, mark, r.Index, r.Word, r.StartMs, r.EndMs)
	}
	return nil
}
