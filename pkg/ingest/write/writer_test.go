package write_test

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
	"github.com/plateflow/plateflow/pkg/ingest/write"
	"github.com/plateflow/plateflow/pkg/store"
)

func persist(t *testing.T, s *store.Store, datasetID string, tables *core.Tables) (*write.Stats, error) {
	t.Helper()
	ctx := context.Background()
	cache := materialize.NewCache(datasetID)
	require.NoError(t, cache.Seed(ctx, s))
	stage := cache.Begin()

	var stats *write.Stats
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		names, err := catalog.NewResolver(nil).Resolve(ctx, tx, tables.CellLineNames(), tables.DrugNames())
		if err != nil {
			return err
		}
		wells, _, err := materialize.New(nil).Materialize(ctx, tx, stage, tables, names)
		if err != nil {
			return err
		}
		stats, err = write.New(testutil.Logger()).Write(ctx, tx, datasetID, tables, wells, names)
		return err
	})
	if err != nil {
		stage.Discard()
		return nil, err
	}
	stage.Commit()
	return stats, nil
}

func treated() *core.Tables {
	t := core.NewTables(core.FormatContainer, "test")
	t.Doses = []core.DoseRow{
		{Plate: "P1", Well: 0, CellLine: "MCF7", Drugs: []core.DrugDose{{Drug: "Taxol", Dose: 1e-6}}},
		{Plate: "P1", Well: 1, CellLine: "MCF7", Drugs: []core.DrugDose{{Drug: "Taxol", Dose: 1e-6}, {Drug: "Dox", Dose: 5e-7}}},
		{Plate: "P1", Well: 2, CellLine: "MCF7", Drugs: []core.DrugDose{{Drug: "Taxol", Dose: 0}}},
	}
	for w := 0; w < 2; w++ {
		t.Assays = append(t.Assays, core.MeasurementRow{Plate: "P1", Well: w, Assay: "cell.count", Timepoint: 24 * time.Hour, Value: model.Float(100)})
	}
	t.Controls = []core.MeasurementRow{
		{Plate: "P1", Well: 2, Assay: "cell.count", Timepoint: 24 * time.Hour, Value: model.Float(120)},
		{Plate: "P1", Well: 3, Assay: "cell.count", Timepoint: 24 * time.Hour},
	}
	return t
}

func TestWrite_DrugsAndMeasurements(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)

	stats, err := persist(t, s, ds.ID, treated())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.WellDrugs)
	assert.Equal(t, 4, stats.Measurements)
	assert.Equal(t, 2, stats.Controls)

	doses, err := s.WellDoses(ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, doses, 3)
	assert.Equal(t, []core.DrugDose{{Drug: "Taxol", Dose: 1e-6}, {Drug: "Dox", Dose: 5e-7}}, doses[1].Drugs)

	controls, err := s.ControlWells(ctx, ds.ID)
	require.NoError(t, err)
	var nums []int
	for _, c := range controls {
		nums = append(nums, c.WellNum)
	}
	assert.Equal(t, []int{2, 3}, nums)

	ms, err := s.Measurements(ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, ms, 4)
	assert.Nil(t, ms[3].Value)
}

func TestWrite_DuplicateMeasurements(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)

	_, err := persist(t, s, ds.ID, treated())
	require.NoError(t, err)

	_, err = persist(t, s, ds.ID, treated())
	require.Error(t, err)
	assert.ErrorIs(t, err, pferrors.ErrDuplicateData)
	var pe *pferrors.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ds.ID, pe.Context["dataset"])
	assert.Equal(t, "P1", pe.Context["plates"])
	assert.Equal(t, "cell.count", pe.Context["assays"])
	assert.Equal(t, "24h0m0s", pe.Context["timepoints"])

	ms, err := s.Measurements(ctx, ds.ID)
	require.NoError(t, err)
	assert.Len(t, ms, 4)
	cells, err := s.CatalogEntries(ctx, store.CellLines)
	require.NoError(t, err)
	assert.Len(t, cells, 1)
}

func TestWrite_ExistingDrugsMustMatch(t *testing.T) {
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)
	_, err := persist(t, s, ds.ID, treated())
	require.NoError(t, err)

	// Same assignment, new timepoint: accepted.
	later := treated()
	for i := range later.Assays {
		later.Assays[i].Timepoint = 48 * time.Hour
	}
	for i := range later.Controls {
		later.Controls[i].Timepoint = 48 * time.Hour
	}
	stats, err := persist(t, s, ds.ID, later)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.WellDrugs)
	assert.Equal(t, 3, stats.Unchanged)

	changed := core.NewTables(core.FormatContainer, "test")
	changed.Doses = []core.DoseRow{{Plate: "P1", Well: 0, Drugs: []core.DrugDose{{Drug: "taxol", Dose: 2e-6}}}}
	_, err = persist(t, s, ds.ID, changed)
	assert.True(t, pferrors.IsCode(err, pferrors.CodeReferentialInconsistency))
}

func TestWrite_ControlOnTreatedWell(t *testing.T) {
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)

	tables := treated()
	tables.Controls = append(tables.Controls, core.MeasurementRow{Plate: "P1", Well: 1, Assay: "cell.count", Timepoint: 72 * time.Hour})
	_, err := persist(t, s, ds.ID, tables)
	require.Error(t, err)
	assert.True(t, pferrors.IsCode(err, pferrors.CodeReferentialInconsistency))
	var pe *pferrors.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "A2", pe.Context["well"])
}

func TestWrite_SameDrugTwiceInWell(t *testing.T) {
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)

	tables := core.NewTables(core.FormatContainer, "test")
	tables.Doses = []core.DoseRow{{Plate: "P1", Well: 0, Drugs: []core.DrugDose{{Drug: "Taxol", Dose: 1}, {Drug: "TAXOL", Dose: 2}}}}
	_, err := persist(t, s, ds.ID, tables)
	assert.True(t, pferrors.IsCode(err, pferrors.CodeReferentialInconsistency))
}
