package container

import (
	"bytes"
	"testing"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plateflow/plateflow/internal/model"
	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/ingest/core"
)

func sampleTables() *core.Tables {
	t := core.NewTables(core.FormatContainer, "container")
	t.Doses = []core.DoseRow{
		{Plate: "P1", Well: 0, CellLine: "HeLa", Drugs: []core.DrugDose{{Drug: "Cisplatin", Dose: 2e-6}}},
		{Plate: "P1", Well: 5, CellLine: "HeLa"},
		{Plate: "P2", Well: 383, Drugs: []core.DrugDose{{Drug: "A", Dose: 1}, {Drug: "B", Dose: 2}, {Drug: "C", Dose: 3}}},
	}
	t.Assays = []core.MeasurementRow{
		{Plate: "P1", Well: 0, CellLine: "HeLa", Assay: "cell.count", Timepoint: 90 * time.Minute, Value: model.Float(12)},
		{Plate: "P2", Well: 383, Assay: "cell.count", Timepoint: 0},
	}
	t.Controls = []core.MeasurementRow{
		{Plate: "P1", Well: 5, CellLine: "HeLa", Assay: "cell.count", Timepoint: 90 * time.Minute, Value: model.Float(0)},
	}
	return t
}

func TestWriteRead_RoundTrip(t *testing.T) {
	want := sampleTables()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, want))

	got, err := Read(&buf, core.FormatContainer, "container")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	dims, err := got.DimsFor("P2")
	require.NoError(t, err)
	assert.Equal(t, core.PlateDims{Width: 24, Height: 16}, dims)
}

func TestWriteRead_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, core.NewTables(core.FormatContainer, "container")))

	got, err := Read(&buf, core.FormatContainer, "container")
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestRead_CellLinesPerWell(t *testing.T) {
	encode := func(second string) *bytes.Buffer {
		tables := core.NewTables(core.FormatContainer, "container")
		tables.Doses = []core.DoseRow{
			{Plate: "P1", Well: 0, CellLine: "HeLa", Drugs: []core.DrugDose{{Drug: "A", Dose: 1e-6}}},
			{Plate: "P1", Well: 0, CellLine: second},
		}
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, tables))
		return &buf
	}

	got, err := Read(encode(" hela "), core.FormatContainer, "container")
	require.NoError(t, err)
	require.Len(t, got.Doses, 1)
	assert.Equal(t, "HeLa", got.Doses[0].CellLine)

	_, err = Read(encode("MCF7"), core.FormatContainer, "container")
	require.Error(t, err)
	assert.ErrorIs(t, err, pferrors.ErrReferentialInconsistency)
}

func TestRead_NegativeDose(t *testing.T) {
	tables := core.NewTables(core.FormatContainer, "container")
	tables.Doses = []core.DoseRow{{Plate: "P1", Well: 0, Drugs: []core.DrugDose{{Drug: "A", Dose: -1e-6}}}}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, tables))

	_, err := Read(&buf, core.FormatContainer, "container")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid dose")
}

func TestRead_NotContainer(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("Barcode:\tP1-24h\n")), core.FormatContainer, "container")
	assert.ErrorIs(t, err, ErrNotContainer)

	// A valid Arrow stream without the marker is not a container either.
	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Int64}}, nil)
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).Append(1)
	rec := b.NewRecord()
	require.NoError(t, w.Write(rec))
	rec.Release()
	require.NoError(t, w.Close())

	_, err = Read(&buf, core.FormatContainer, "container")
	assert.ErrorIs(t, err, ErrNotContainer)
}

func TestOrderSlots(t *testing.T) {
	got, err := orderSlots([]slot{
		{index: 1, dd: core.DrugDose{Drug: "B", Dose: 2}},
		{index: 0, dd: core.DrugDose{Drug: "A", Dose: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, []core.DrugDose{{Drug: "A", Dose: 1}, {Drug: "B", Dose: 2}}, got)

	_, err = orderSlots([]slot{{index: 0}, {index: 2}})
	assert.ErrorContains(t, err, "not dense")

	_, err = orderSlots([]slot{{index: 0}, {index: 0}})
	assert.ErrorContains(t, err, "used twice")
}

func TestSchema_Marker(t *testing.T) {
	md := Schema().Metadata()
	idx := md.FindKey(Marker)
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, Version, md.Values()[idx])
}
