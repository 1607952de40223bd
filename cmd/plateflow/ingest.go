package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plateflow/plateflow/pkg/ingest"
	"github.com/plateflow/plateflow/pkg/ingest/detect"
	"github.com/plateflow/plateflow/pkg/ingest/sources"
	"github.com/plateflow/plateflow/pkg/tui"
)

var errFilesFailed = errors.New("some files were not ingested")

var (
	ingestIsolation string
	ingestWorkers   int
	ingestStdinName string
	ingestJSON      bool
	ingestQuiet     bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <dataset-id> <file|dir|glob|s3://…|https://…|->...",
	Short: "Ingest plate files into a dataset",
	Long: `Ingest plate files into an existing dataset.

Each file is detected, decoded and written on its own: a file that fails
leaves nothing behind and does not stop the others. Re-ingesting a file
that is already stored fails with a duplicate data error.

Supported formats:
  - Instrument text: plate reader block exports, HTS tables (.txt .tsv .csv .tab)
  - Spreadsheets: single-sheet plate reader workbooks (.xlsx)
  - Structured containers: Arrow IPC exports (.arrow .arrows .pfc)

Directories are walked for files with a supported extension.

Examples:
  plateflow ingest 3f2a… plates/
  plateflow ingest 3f2a… 'run1/*_24h.txt' run1/layout.xlsx
  plateflow ingest 3f2a… s3://lab-data/screens/2024-05/
  cat P1-24h.txt | plateflow ingest 3f2a… - --stdin-name P1-24h.txt
  plateflow ingest 3f2a… plates/ --isolation savepoint --workers 4`,
	Args: cobra.MinimumNArgs(2),
	RunE: withApp(runIngest),
}

func init() {
	ingestCmd.Flags().StringVar(&ingestIsolation, "isolation", "", "Failure isolation: per-file or savepoint (default from config)")
	ingestCmd.Flags().IntVar(&ingestWorkers, "workers", 0, "Files decoded in parallel (default from config)")
	ingestCmd.Flags().StringVar(&ingestStdinName, "stdin-name", "stdin.txt", "File name used for '-'; its extension guides detection")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "Print results as JSON")
	ingestCmd.Flags().BoolVarP(&ingestQuiet, "quiet", "q", false, "No progress bar")

	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, a *app, args []string) error {
	ctx := cmd.Context()
	datasetID := args[0]

	if ingestIsolation != "" {
		a.cfg.Ingest.Isolation = ingestIsolation
	}
	if ingestWorkers > 0 {
		a.cfg.Ingest.DecodeWorkers = ingestWorkers
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	resolver := &sources.Resolver{
		Known:     detect.Known,
		Stdin:     os.Stdin,
		StdinName: ingestStdinName,
	}
	if needsS3(args[1:]) {
		client, err := sources.NewS3Client(ctx, a.cfg.S3)
		if err != nil {
			return err
		}
		resolver.S3 = client
	}
	files, err := resolver.Resolve(ctx, args[1:])
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no plate files matched %s", strings.Join(args[1:], " "))
	}
	a.logger.Debug("files resolved", "count", len(files), "isolation", a.cfg.Ingest.Isolation)

	var progress func(done, total int, r ingest.Result)
	if !ingestQuiet && !ingestJSON {
		bar := tui.ShowProgress(os.Stderr, len(files), "ingesting")
		defer bar.Finish()
		progress = tui.ProgressFunc(bar)
	}

	results, err := a.service(progress).Upload(ctx, datasetID, files)
	if err != nil {
		return err
	}

	if ingestJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		tui.Results(cmd.OutOrStdout(), results)
	}

	if failed := len(ingest.Failures(results)); failed > 0 {
		return fmt.Errorf("%w: %d of %d failed", errFilesFailed, failed, len(results))
	}
	return nil
}

func needsS3(args []string) bool {
	for _, arg := range args {
		if strings.HasPrefix(arg, "s3://") {
			return true
		}
	}
	return false
}
