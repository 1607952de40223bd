package export_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fixtures "github.com/plateflow/plateflow/internal/testutil"
	"github.com/plateflow/plateflow/pkg/export"
	"github.com/plateflow/plateflow/pkg/ingest"
	"github.com/plateflow/plateflow/pkg/ingest/sources"
	"github.com/plateflow/plateflow/pkg/store"
)

func htsDataset(t *testing.T) (*store.Store, string) {
	t.Helper()
	s := fixtures.OpenStore(t)
	ds := fixtures.NewDataset(t, s)
	hts := fixtures.HTSText(
		fixtures.HTSRow{Plate: "HTS1", Well: "A01", CellLine: "MCF7", Drug: "Gefitinib", Conc: "1e-06", Units: "M", Hours: 0, Count: "1000"},
		fixtures.HTSRow{Plate: "HTS1", Well: "A01", CellLine: "MCF7", Drug: "Gefitinib", Conc: "1e-06", Units: "M", Hours: 72, Count: "1500"},
		fixtures.HTSRow{Plate: "HTS1", Well: "B02", CellLine: "MCF7", Hours: 0, Count: "900"},
		fixtures.HTSRow{Plate: "HTS1", Well: "H12", CellLine: "MCF7", Drug: "Gefitinib", Conc: "1e-05", Units: "M", Hours: 72, Count: "NA"},
	)
	_, err := ingest.NewParser(s, ds.ID, ingest.Options{Logger: fixtures.Logger()}).
		ParseFile(context.Background(), sources.NewMemorySource("hts.tsv", hts))
	require.NoError(t, err)
	return s, ds.ID
}

func TestContainer_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, datasetID := htsDataset(t)
	exp := export.New(s, fixtures.Logger())

	tables, err := exp.Tables(ctx, datasetID)
	require.NoError(t, err)
	assert.Len(t, tables.Doses, 3)
	assert.Len(t, tables.Assays, 3)
	require.Len(t, tables.Controls, 1)
	assert.Equal(t, 13, tables.Controls[0].Well)

	var buf bytes.Buffer
	require.NoError(t, exp.Container(ctx, datasetID, &buf))

	copyDS, err := s.CreateDataset(ctx, "copy", "tester")
	require.NoError(t, err)
	r, err := ingest.NewParser(s, copyDS.ID, ingest.Options{Logger: fixtures.Logger()}).
		ParseFile(ctx, sources.NewMemorySource("export.pfc", buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "structured-container", r.FileFormat)

	want, err := s.Measurements(ctx, datasetID)
	require.NoError(t, err)
	got, err := s.Measurements(ctx, copyDS.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	wantDoses, err := s.WellDoses(ctx, datasetID)
	require.NoError(t, err)
	gotDoses, err := s.WellDoses(ctx, copyDS.ID)
	require.NoError(t, err)
	assert.Equal(t, wantDoses, gotDoses)
}

func TestParquet(t *testing.T) {
	ctx := context.Background()
	s, datasetID := htsDataset(t)
	exp := export.New(s, fixtures.Logger())

	var buf bytes.Buffer
	rows, err := exp.Parquet(ctx, datasetID, &buf, export.ParquetOptions{Compression: export.CompressionZstd, BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, rows)

	mem := memory.NewGoAllocator()
	tbl, err := pqarrow.ReadTable(ctx, bytes.NewReader(buf.Bytes()), parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	require.NoError(t, err)
	defer tbl.Release()

	assert.Equal(t, int64(4), tbl.NumRows())
	want := export.MeasurementSchema()
	require.Equal(t, want.NumFields(), tbl.Schema().NumFields())
	for i, f := range want.Fields() {
		assert.Equal(t, f.Name, tbl.Schema().Field(i).Name)
	}

	tr := array.NewTableReader(tbl, 0)
	defer tr.Release()
	var (
		wellNames []string
		controls  []bool
		drugs     []string
	)
	for tr.Next() {
		rec := tr.Record()
		names := rec.Column(2).(*array.String)
		ctrl := rec.Column(6).(*array.Boolean)
		dr := rec.Column(4).(*array.String)
		for i := 0; i < int(rec.NumRows()); i++ {
			wellNames = append(wellNames, names.Value(i))
			controls = append(controls, ctrl.Value(i))
			if dr.IsNull(i) {
				drugs = append(drugs, "")
			} else {
				drugs = append(drugs, dr.Value(i))
			}
		}
	}
	assert.Equal(t, []string{"A1", "A1", "H12", "B2"}, wellNames)
	assert.Equal(t, []bool{false, false, false, true}, controls)
	assert.Equal(t, []string{"Gefitinib@1e-06", "Gefitinib@1e-06", "Gefitinib@1e-05", ""}, drugs)

	_, err = exp.Parquet(ctx, datasetID, &bytes.Buffer{}, export.ParquetOptions{Compression: "brotli9"})
	assert.Error(t, err)
}
