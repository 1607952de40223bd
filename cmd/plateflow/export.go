package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plateflow/plateflow/pkg/export"
)

var (
	exportOutput      string
	exportFormat      string
	exportCompression string
	exportBatchSize   int
)

var exportCmd = &cobra.Command{
	Use:   "export <dataset-id>",
	Short: "Export a dataset",
	Long: `Export a dataset as a structured container or a Parquet table.

The container (.pfc) holds doses, assay readings and controls and can be
ingested into another dataset. The Parquet file has one row per reading
with the well's cell line and drugs alongside.

Examples:
  plateflow export 3f2a… -o screen.pfc
  plateflow export 3f2a… -o screen.parquet --compression zstd
  plateflow export 3f2a… --format parquet -o - > screen.parquet`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runExport),
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file, '-' for stdout (required)")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "container or parquet (default: from the output extension)")
	exportCmd.Flags().StringVar(&exportCompression, "compression", export.CompressionSnappy, "Parquet compression (none, snappy, gzip, zstd)")
	exportCmd.Flags().IntVar(&exportBatchSize, "batch-size", 64*1024, "Rows per Parquet record batch")
	exportCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(exportCmd)
}

func exportFormatFor(output, flag string) (string, error) {
	if flag != "" {
		switch flag {
		case "container", "parquet":
			return flag, nil
		}
		return "", fmt.Errorf("unknown export format %q", flag)
	}
	switch strings.ToLower(filepath.Ext(output)) {
	case ".parquet":
		return "parquet", nil
	case ".pfc", ".arrow", ".arrows":
		return "container", nil
	}
	return "", fmt.Errorf("cannot infer export format from %q, use --format", output)
}

func runExport(cmd *cobra.Command, a *app, args []string) error {
	ctx := cmd.Context()
	format, err := exportFormatFor(exportOutput, exportFormat)
	if err != nil {
		return err
	}
	ds, err := a.store.GetDataset(ctx, args[0])
	if err != nil {
		return err
	}

	var (
		w    io.Writer = cmd.OutOrStdout()
		file *os.File
		tmp  string
	)
	if exportOutput != "-" {
		// Written beside the target and renamed into place once complete.
		file, err = os.CreateTemp(filepath.Dir(exportOutput), "."+filepath.Base(exportOutput)+".*")
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		tmp = file.Name()
		defer os.Remove(tmp)
		w = file
	}
	buf := bufio.NewWriterSize(w, 1<<20)

	exp := export.New(a.store, a.logger)
	switch format {
	case "container":
		err = exp.Container(ctx, ds.ID, buf)
	case "parquet":
		_, err = exp.Parquet(ctx, ds.ID, buf, export.ParquetOptions{Compression: exportCompression, BatchSize: exportBatchSize})
	}
	if err == nil {
		err = buf.Flush()
	}
	if file != nil {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		if err == nil {
			err = os.Rename(tmp, exportOutput)
		}
	}
	return err
}
