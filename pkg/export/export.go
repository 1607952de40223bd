// Package export writes a dataset back out, either as a structured
// container that can be ingested again or as a flat Parquet table of
// measurements for analysis tools.
package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/plateflow/plateflow/internal/model"
	"github.com/plateflow/plateflow/pkg/container"
	"github.com/plateflow/plateflow/pkg/ingest/core"
	"github.com/plateflow/plateflow/pkg/store"
)

// Reader is the query surface an export needs.
type Reader interface {
	Plates(ctx context.Context, datasetID string) ([]model.Plate, error)
	WellDoses(ctx context.Context, datasetID string) ([]core.DoseRow, error)
	Measurements(ctx context.Context, datasetID string) ([]core.MeasurementRow, error)
	ControlWells(ctx context.Context, datasetID string) ([]store.WellRef, error)
}

// Exporter reads datasets for export.
type Exporter struct {
	reader Reader
	logger *slog.Logger
}

// New creates an exporter.
func New(r Reader, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{reader: r, logger: logger}
}

// Tables rebuilds decoder-shaped tables for a dataset. Readings of
// control wells go to Controls, the rest to Assays.
func (e *Exporter) Tables(ctx context.Context, datasetID string) (*core.Tables, error) {
	doses, err := e.reader.WellDoses(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("load doses: %w", err)
	}
	ms, err := e.reader.Measurements(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("load measurements: %w", err)
	}
	refs, err := e.reader.ControlWells(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("load control wells: %w", err)
	}

	type wellKey struct {
		plate string
		well  int
	}
	controls := make(map[wellKey]bool, len(refs))
	for _, r := range refs {
		controls[wellKey{r.Plate, r.WellNum}] = true
	}

	t := core.NewTables(core.FormatContainer, "export")
	t.Doses = doses
	for _, m := range ms {
		if controls[wellKey{m.Plate, m.Well}] {
			t.Controls = append(t.Controls, m)
		} else {
			t.Assays = append(t.Assays, m)
		}
	}
	return t, nil
}

// Container writes a dataset as a structured container.
func (e *Exporter) Container(ctx context.Context, datasetID string, w io.Writer) error {
	t, err := e.Tables(ctx, datasetID)
	if err != nil {
		return err
	}
	if err := container.Write(w, t); err != nil {
		return fmt.Errorf("write container: %w", err)
	}
	e.logger.Info("container exported",
		"dataset", datasetID,
		"doses", len(t.Doses),
		"assays", len(t.Assays),
		"controls", len(t.Controls))
	return nil
}
