package export

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/plateflow/plateflow/internal/model"
	"github.com/plateflow/plateflow/pkg/ingest/core"
)

// Compression types.
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
)

// ParquetOptions tunes the Parquet export.
type ParquetOptions struct {
	Compression string
	// BatchSize is the number of rows per record batch.
	BatchSize int
}

func codec(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", CompressionSnappy:
		return compress.Codecs.Snappy, nil
	case CompressionNone:
		return compress.Codecs.Uncompressed, nil
	case CompressionGzip:
		return compress.Codecs.Gzip, nil
	case CompressionZstd:
		return compress.Codecs.Zstd, nil
	}
	return compress.Codecs.Uncompressed, fmt.Errorf("unknown compression %q", name)
}

// MeasurementSchema is the flat measurement table: one row per reading,
// with the well's treatment denormalized next to it.
func MeasurementSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "plate", Type: arrow.BinaryTypes.String},
		{Name: "well", Type: arrow.PrimitiveTypes.Int32},
		{Name: "well_name", Type: arrow.BinaryTypes.String},
		{Name: "cell_line", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "drugs", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "total_dose", Type: arrow.PrimitiveTypes.Float64},
		{Name: "control", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "assay", Type: arrow.BinaryTypes.String},
		{Name: "timepoint_s", Type: arrow.PrimitiveTypes.Int64},
		{Name: "value", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)
}

// measurementBuilder accumulates one record batch.
type measurementBuilder struct {
	rb *array.RecordBuilder
	n  int
}

func newMeasurementBuilder(mem memory.Allocator) *measurementBuilder {
	return &measurementBuilder{rb: array.NewRecordBuilder(mem, MeasurementSchema())}
}

func (b *measurementBuilder) append(m core.MeasurementRow, width int, dose *core.DoseRow, control bool) {
	f := b.rb.Fields()
	f[0].(*array.StringBuilder).Append(m.Plate)
	f[1].(*array.Int32Builder).Append(int32(m.Well))
	name := "#" + strconv.Itoa(m.Well)
	if width > 0 {
		name = model.WellName(m.Well, width)
	}
	f[2].(*array.StringBuilder).Append(name)
	if m.CellLine == "" {
		f[3].AppendNull()
	} else {
		f[3].(*array.StringBuilder).Append(m.CellLine)
	}
	var total float64
	if dose == nil || len(dose.Drugs) == 0 {
		f[4].AppendNull()
	} else {
		f[4].(*array.StringBuilder).Append(drugLabel(dose.Drugs))
		total = dose.TotalDose()
	}
	f[5].(*array.Float64Builder).Append(total)
	f[6].(*array.BooleanBuilder).Append(control)
	f[7].(*array.StringBuilder).Append(m.Assay)
	f[8].(*array.Int64Builder).Append(int64(m.Timepoint.Seconds()))
	if m.Value == nil {
		f[9].AppendNull()
	} else {
		f[9].(*array.Float64Builder).Append(*m.Value)
	}
	b.n++
}

// drugLabel renders drugs as "A@1e-06+B@1e-07" in slot order.
func drugLabel(drugs []core.DrugDose) string {
	parts := make([]string, len(drugs))
	for i, d := range drugs {
		parts[i] = d.Drug + "@" + strconv.FormatFloat(d.Dose, 'g', -1, 64)
	}
	return strings.Join(parts, "+")
}

// Parquet writes every reading of a dataset as a Parquet file.
func (e *Exporter) Parquet(ctx context.Context, datasetID string, w io.Writer, opts ParquetOptions) (int, error) {
	c, err := codec(opts.Compression)
	if err != nil {
		return 0, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64 * 1024
	}

	t, err := e.Tables(ctx, datasetID)
	if err != nil {
		return 0, err
	}
	widths, err := e.plateWidths(ctx, datasetID)
	if err != nil {
		return 0, err
	}

	type wellKey struct {
		plate string
		well  int
	}
	doses := make(map[wellKey]*core.DoseRow, len(t.Doses))
	for i := range t.Doses {
		d := &t.Doses[i]
		doses[wellKey{d.Plate, d.Well}] = d
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(c),
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1024*1024),
	)
	fw, err := pqarrow.NewFileWriter(MeasurementSchema(), w, writerProps, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return 0, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	mem := memory.NewGoAllocator()
	b := newMeasurementBuilder(mem)
	defer b.rb.Release()

	flush := func() error {
		if b.n == 0 {
			return nil
		}
		rec := b.rb.NewRecord()
		defer rec.Release()
		b.n = 0
		return fw.Write(rec)
	}

	rows := 0
	emit := func(ms []core.MeasurementRow, control bool) error {
		for _, m := range ms {
			b.append(m, widths[m.Plate], doses[wellKey{m.Plate, m.Well}], control)
			rows++
			if b.n >= opts.BatchSize {
				if err := flush(); err != nil {
					return err
				}
				if err := ctx.Err(); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := emit(t.Assays, false); err != nil {
		fw.Close()
		return 0, err
	}
	if err := emit(t.Controls, true); err != nil {
		fw.Close()
		return 0, err
	}
	if err := flush(); err != nil {
		fw.Close()
		return 0, err
	}
	if err := fw.Close(); err != nil {
		return 0, fmt.Errorf("failed to close parquet writer: %w", err)
	}

	e.logger.Info("parquet exported", "dataset", datasetID, "rows", rows, "compression", opts.Compression)
	return rows, nil
}

func (e *Exporter) plateWidths(ctx context.Context, datasetID string) (map[string]int, error) {
	plates, err := e.reader.Plates(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("load plates: %w", err)
	}
	widths := make(map[string]int, len(plates))
	for _, p := range plates {
		widths[p.Name] = p.Width
	}
	return widths, nil
}
