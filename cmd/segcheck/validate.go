package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type validateResult struct {
	Path        string `json:"path"`
	RecordingID string `json:"recording_id,omitempty"`
	Segments    int    `json:"segments"`
	DurationMs  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check transcript documents for ordering and timing errors",
		Long: `Decode each document, normalize it the way the server does, and report
segments that are out of order, have inverted timings or carry a word_index
that does not match their position. Use "-" to read stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	results := make([]validateResult, 0, len(args))
	failed := 0
	for _, path := range args {
		res := validateResult{Path: path}
		doc, err := readDocument(path, cmd.InOrStdin())
		if err != nil {
			res.Error = err.Error()
			failed++
		} else {
			res.RecordingID = doc.RecordingID
			res.Segments = len(doc.Segments)
			res.DurationMs = doc.DurationMs
		}
		results = append(results, res)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(out, results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Error != "" {
				fmt.Fprintf(out, "FAIL  %s: %s\n", r.Path, r.Error)
				continue
			}
			fmt.Fprintf(out, "ok    %s  %s  %d segments  %dms\n", r.Path, r.RecordingID, r.Segments, r.DurationMs)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents invalid", failed, len(args))
	}
	return nil
}
