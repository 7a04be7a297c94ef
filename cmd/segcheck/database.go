package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/transcript-sync/internal/database"
	"github.com/spf13/cobra"
)

var (
	importSource string
	listSearch   string
	listLimit    int
)

func connect(ctx context.Context) (*database.DB, error) {
	if databaseURL == "" {
		return nil, errors.New("no database: set --database-url or DATABASE_URL")
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)
	db, err := database.Connect(ctx, databaseURL, database.PoolOptions{MaxConns: 2, MinConns: 1}, log)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Validate documents and load them into PostgreSQL",
		Long: `Each document replaces any stored transcript of the same recording in one
transaction. Running servers pick the change up through their transcript
watcher or on the next session they open.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}
	cmd.Flags().StringVar(&importSource, "source", "segcheck", "Source recorded with each import")
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	var errs []error
	for _, path := range args {
		doc, err := readDocument(path, cmd.InOrStdin())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		start := time.Now()
		if err := db.ReplaceSegments(ctx, doc, importSource); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		fmt.Fprintf(out, "imported %s: %d segments in %s\n", doc.RecordingID, len(doc.Segments), time.Since(start).Round(time.Millisecond))
	}
	return errors.Join(errs...)
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recordings in the database",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	cmd.Flags().StringVar(&listSearch, "search", "", "Filter by title or recording id")
	cmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum recordings to show")
	return cmd
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	db, err := connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	recs, total, err := db.ListRecordings(ctx, database.RecordingFilter{Search: listSearch, Limit: listLimit})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{"recordings": recs, "total": total})
	}
	fmt.Fprintf(out, "%-32s %8s %10s  %s\n", "RECORDING", "SEGMENTS", "DURATION", "TITLE")
	for _, r := range recs {
		fmt.Fprintf(out, "%-32s %8d %9.1fs  %s\n", r.RecordingID, r.SegmentCount, float64(r.DurationMs)/1000, r.Title)
	}
	fmt.Fprintf(out, "%d of %d recordings\n", len(recs), total)
	return nil
}
