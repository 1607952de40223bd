package materialize_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plateflow/plateflow/internal/model"
	"github.com/plateflow/plateflow/internal/testutil"
	"github.com/plateflow/plateflow/pkg/catalog"
	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/ingest/core"
	"github.com/plateflow/plateflow/pkg/ingest/materialize"
	"github.com/plateflow/plateflow/pkg/store"
)

func run(t *testing.T, s *store.Store, cache *materialize.Cache, tables *core.Tables) (*materialize.Wells, error) {
	t.Helper()
	ctx := context.Background()
	stage := cache.Begin()

	var wells *materialize.Wells
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		names, err := catalog.NewResolver(testutil.Logger()).Resolve(ctx, tx, tables.CellLineNames(), tables.DrugNames())
		if err != nil {
			return err
		}
		wells, _, err = materialize.New(testutil.Logger()).Materialize(ctx, tx, stage, tables, names)
		return err
	})
	if err != nil {
		stage.Discard()
		return nil, err
	}
	stage.Commit()
	return wells, nil
}

func readings(plate string, cellLine string, wells ...int) *core.Tables {
	t := core.NewTables(core.FormatInstrumentText, "test")
	for _, w := range wells {
		t.Assays = append(t.Assays, core.MeasurementRow{
			Plate: plate, Well: w, CellLine: cellLine, Assay: "Viability", Timepoint: 24 * time.Hour, Value: model.Float(float64(w)),
		})
	}
	return t
}

func TestMaterialize_CreatesPlatesAndWells(t *testing.T) {
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)
	cache := materialize.NewCache(ds.ID)
	require.NoError(t, cache.Seed(context.Background(), s))

	tables := readings("P1", "MCF7", 0, 1, 2, 95)
	tables.SetDims("P1", 12, 8)
	wells, err := run(t, s, cache, tables)
	require.NoError(t, err)
	assert.Equal(t, 4, wells.Len())
	assert.Equal(t, "H12", wells.Name("P1", 95))

	plates, err := s.Plates(context.Background(), ds.ID)
	require.NoError(t, err)
	require.Len(t, plates, 1)
	assert.Equal(t, 12, plates[0].Width)
	assert.Equal(t, 8, plates[0].Height)

	stored, err := s.PlateWells(context.Background(), plates[0].ID)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	for _, w := range stored {
		require.NotNil(t, w.CellLineID)
		id, ok := cache.WellID("P1", w.WellNum)
		require.True(t, ok)
		assert.Equal(t, w.ID, id)
	}

	nPlates, nWells := cache.Size()
	assert.Equal(t, 1, nPlates)
	assert.Equal(t, 4, nWells)
}

func TestMaterialize_ReusesSeededWells(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)

	first := materialize.NewCache(ds.ID)
	wells, err := run(t, s, first, readings("P1", "", 0, 1))
	require.NoError(t, err)
	id0, _ := wells.ID("P1", 0)

	// A second batch starts from persisted state.
	second := materialize.NewCache(ds.ID)
	require.NoError(t, second.Seed(ctx, s))
	again, err := run(t, s, second, readings("P1", "", 0, 1, 2))
	require.NoError(t, err)
	got, ok := again.ID("P1", 0)
	require.True(t, ok)
	assert.Equal(t, id0, got)

	plates, err := s.Plates(ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, plates, 1)
	stored, err := s.PlateWells(ctx, plates[0].ID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestMaterialize_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)
	cache := materialize.NewCache(ds.ID)

	big := readings("P1", "", 0)
	big.SetDims("P1", 24, 16)
	_, err := run(t, s, cache, big)
	require.NoError(t, err)

	small := readings("P1", "", 0)
	small.SetDims("P1", 12, 8)
	_, err = run(t, s, cache, small)
	require.Error(t, err)
	assert.ErrorIs(t, err, pferrors.ErrDimensionMismatch)

	p, err := s.PlateByName(ctx, ds.ID, "P1")
	require.NoError(t, err)
	assert.Equal(t, 24, p.Width)
	assert.Equal(t, 16, p.Height)

	// Inferred dims only need to fit.
	_, err = run(t, s, cache, readings("P1", "", 5, 300))
	assert.NoError(t, err)

	smallPlate := readings("P2", "", 0)
	smallPlate.SetDims("P2", 12, 8)
	_, err = run(t, s, cache, smallPlate)
	require.NoError(t, err)
	_, err = run(t, s, cache, readings("P2", "", 200))
	assert.True(t, pferrors.IsCode(err, pferrors.CodeDimensionMismatch))
}

func TestMaterialize_GridFileOnStoredPlate(t *testing.T) {
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)
	cache := materialize.NewCache(ds.ID)

	full := readings("P1", "", 0, 13, 95)
	full.SetDims("P1", 12, 8)
	first, err := run(t, s, cache, full)
	require.NoError(t, err)

	// A1 and B2 laid out on the 2x3 grid the file alone implies.
	partial := readings("P1", "", 0, 4)
	partial.SetGrid("P1", 3, 2, 2, 2)
	second, err := run(t, s, cache, partial)
	require.NoError(t, err)

	assert.Equal(t, 13, partial.Assays[1].Well)
	id13, _ := first.ID("P1", 13)
	got, ok := second.ID("P1", 13)
	require.True(t, ok)
	assert.Equal(t, id13, got)
	_, ok = second.ID("P1", 4)
	assert.False(t, ok)

	tall := readings("P1", "", 8*24)
	tall.SetGrid("P1", 24, 16, 9, 1)
	_, err = run(t, s, cache, tall)
	assert.ErrorIs(t, err, pferrors.ErrDimensionMismatch)
}

func TestMaterialize_EmptyPlateName(t *testing.T) {
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)
	_, err := run(t, s, materialize.NewCache(ds.ID), readings(" ", "", 0))
	assert.True(t, pferrors.IsCode(err, pferrors.CodeInvalidPlate))
}

func TestMaterialize_ConflictingCellLinesInFile(t *testing.T) {
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)

	tables := readings("P1", "MCF7", 0)
	tables.Doses = append(tables.Doses, core.DoseRow{Plate: "P1", Well: 0, CellLine: "mcf7"})
	tables.Controls = append(tables.Controls, core.MeasurementRow{Plate: "P1", Well: 0, CellLine: "HeLa", Assay: "Viability", Timepoint: time.Hour})
	tables.SetDims("P1", 12, 8)

	_, err := run(t, s, materialize.NewCache(ds.ID), tables)
	require.Error(t, err)
	assert.True(t, pferrors.IsCode(err, pferrors.CodeReferentialInconsistency))
	var pe *pferrors.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "P1", pe.Context["plate"])
	assert.Equal(t, "A1", pe.Context["well"])
}

func TestMaterialize_CellLineAdoption(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)
	cache := materialize.NewCache(ds.ID)

	_, err := run(t, s, cache, readings("P1", "", 0))
	require.NoError(t, err)

	_, err = run(t, s, cache, readings("P1", "MCF7", 0))
	require.NoError(t, err)
	p, err := s.PlateByName(ctx, ds.ID, "P1")
	require.NoError(t, err)
	stored, err := s.PlateWells(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored[0].CellLineID)

	_, err = run(t, s, cache, readings("P1", "mcf7", 0))
	assert.NoError(t, err)

	_, err = run(t, s, cache, readings("P1", "HeLa", 0))
	assert.True(t, pferrors.IsCode(err, pferrors.CodeReferentialInconsistency))
}

func TestMaterialize_DiscardedStageLeavesCacheUntouched(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)
	cache := materialize.NewCache(ds.ID)

	stage := cache.Begin()
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		names := &catalog.Names{}
		if _, _, err := materialize.New(nil).Materialize(ctx, tx, stage, readings("P1", "", 0, 1), names); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	stage.Discard()

	_, ok := cache.Plate("P1")
	assert.False(t, ok)

	wells, err := run(t, s, cache, readings("P1", "", 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, wells.Len())
}
