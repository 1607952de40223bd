package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plateflow/plateflow/internal/model"
	"github.com/plateflow/plateflow/internal/testutil"
	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/store"
)

func TestDialect_Rebind(t *testing.T) {
	pg, err := store.LookupDialect("postgres")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3) AND c = '?'",
		pg.Rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?) AND c = '?'"))

	lite, err := store.LookupDialect("SQLite")
	require.NoError(t, err)
	assert.Equal(t, "a = ?", lite.Rebind("a = ?"))

	_, err = store.LookupDialect("oracle")
	assert.Error(t, err)
}

func TestDialect_Capabilities(t *testing.T) {
	for _, tt := range []struct {
		driver     string
		returning  bool
		savepoints bool
	}{
		{store.DriverDuckDB, true, false},
		{store.DriverSQLite, false, true},
		{store.DriverPostgres, true, true},
	} {
		d, err := store.LookupDialect(tt.driver)
		require.NoError(t, err)
		assert.Equal(t, tt.returning, d.ReturnsIDs(), tt.driver)
		assert.Equal(t, tt.savepoints, d.SupportsSavepoints(), tt.driver)
	}
}

func TestDatasets_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)

	a, err := s.CreateDataset(ctx, "  screen A ", "ana")
	require.NoError(t, err)
	assert.Equal(t, "screen A", a.Name)
	b, err := s.CreateDataset(ctx, "screen B", "ben")
	require.NoError(t, err)

	_, err = s.CreateDataset(ctx, " ", "x")
	assert.Error(t, err)

	got, err := s.GetDataset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana", got.Owner)
	assert.False(t, got.Deleted())

	require.NoError(t, s.RenameDataset(ctx, a.ID, "screen A1"))
	require.NoError(t, s.DeleteDataset(ctx, b.ID))

	live, err := s.ListDatasets(ctx, false)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "screen A1", live[0].Name)

	all, err := s.ListDatasets(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	deleted, err := s.GetDataset(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted())

	err = s.DeleteDataset(ctx, b.ID)
	assert.True(t, pferrors.IsCode(err, pferrors.CodeNotFound))
	err = s.RenameDataset(ctx, b.ID, "again")
	assert.True(t, pferrors.IsCode(err, pferrors.CodeNotFound))
	_, err = s.GetDataset(ctx, "missing")
	assert.ErrorIs(t, err, pferrors.ErrNotFound)
}

func TestEnsureCatalog_KeepsFirstName(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)

	first, err := s.EnsureCatalog(ctx, store.Drugs, []store.CatalogEntry{
		{Name: "Drug1", Key: "drug1"},
		{Name: "DRUG1", Key: "drug1"},
		{Name: "Taxol", Key: "taxol"},
	})
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := s.EnsureCatalog(ctx, store.Drugs, []store.CatalogEntry{{Name: "drug1", Key: "drug1"}})
	require.NoError(t, err)
	assert.Equal(t, first["drug1"], second["drug1"])

	entries, err := s.CatalogEntries(ctx, store.Drugs)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Drug1", entries[0].Name)
}

func seedPlate(t *testing.T, s *store.Store, datasetID string) (*model.Plate, map[store.WellKey]int64) {
	t.Helper()
	ctx := context.Background()

	p := &model.Plate{DatasetID: datasetID, Name: "P1", Width: 12, Height: 8}
	require.NoError(t, s.InsertPlate(ctx, p))
	require.NotZero(t, p.ID)

	wells := make([]model.Well, 4)
	for i := range wells {
		wells[i] = model.Well{PlateID: p.ID, WellNum: i}
	}
	ids, err := s.InsertWells(ctx, wells)
	require.NoError(t, err)
	require.Len(t, ids, 4)
	return p, ids
}

func TestInsertWells_ReturningAndRequery(t *testing.T) {
	for _, returning := range []string{"off", "on"} {
		t.Run(returning, func(t *testing.T) {
			s := testutil.OpenStoreWith(t, store.Options{ReturningIDs: returning, BulkChunk: 3})
			assert.Equal(t, returning == "on", s.ReturnsIDs())
			ds := testutil.NewDataset(t, s)

			p, ids := seedPlate(t, s, ds.ID)
			stored, err := s.PlateWells(context.Background(), p.ID)
			require.NoError(t, err)
			require.Len(t, stored, 4)
			for _, w := range stored {
				assert.Equal(t, w.ID, ids[store.WellKey{PlateID: p.ID, WellNum: w.WellNum}])
			}
		})
	}
}

func TestUniqueViolations(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)
	p, ids := seedPlate(t, s, ds.ID)

	err := s.InsertPlate(ctx, &model.Plate{DatasetID: ds.ID, Name: "P1", Width: 12, Height: 8})
	assert.ErrorIs(t, err, store.ErrUniqueViolation)

	_, err = s.InsertWells(ctx, []model.Well{{PlateID: p.ID, WellNum: 0}})
	assert.ErrorIs(t, err, store.ErrUniqueViolation)

	m := model.WellMeasurement{WellID: ids[store.WellKey{PlateID: p.ID, WellNum: 0}], Assay: "Viability", Timepoint: time.Hour, Value: model.Float(1)}
	require.NoError(t, s.InsertMeasurements(ctx, []model.WellMeasurement{m}))
	err = s.InsertMeasurements(ctx, []model.WellMeasurement{m})
	assert.ErrorIs(t, err, store.ErrUniqueViolation)

	other := errors.New("boom")
	assert.False(t, errors.Is(other, store.ErrUniqueViolation))
}

func TestWithTx_RollsBack(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		require.NoError(t, tx.InsertPlate(ctx, &model.Plate{DatasetID: ds.ID, Name: "Gone", Width: 12, Height: 8}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	plates, err := s.Plates(ctx, ds.ID)
	require.NoError(t, err)
	assert.Empty(t, plates)
}

func TestSavepoints(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)

	err := s.WithTx(ctx, func(tx *store.Tx) error {
		require.NoError(t, tx.Savepoint(ctx, "f1"))
		require.NoError(t, tx.InsertPlate(ctx, &model.Plate{DatasetID: ds.ID, Name: "Kept", Width: 12, Height: 8}))
		require.NoError(t, tx.Release(ctx, "f1"))

		require.NoError(t, tx.Savepoint(ctx, "f2"))
		require.NoError(t, tx.InsertPlate(ctx, &model.Plate{DatasetID: ds.ID, Name: "Dropped", Width: 12, Height: 8}))
		return tx.RollbackTo(ctx, "f2")
	})
	require.NoError(t, err)

	plates, err := s.Plates(ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, plates, 1)
	assert.Equal(t, "Kept", plates[0].Name)
}

func TestQueries_ControlsDosesMeasurements(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)
	p, ids := seedPlate(t, s, ds.ID)
	well := func(n int) int64 { return ids[store.WellKey{PlateID: p.ID, WellNum: n}] }

	cl, err := s.EnsureCatalog(ctx, store.CellLines, []store.CatalogEntry{{Name: "MCF7", Key: "mcf7"}})
	require.NoError(t, err)
	drugs, err := s.EnsureCatalog(ctx, store.Drugs, []store.CatalogEntry{{Name: "A", Key: "a"}, {Name: "B", Key: "b"}})
	require.NoError(t, err)
	mcf7 := cl["mcf7"]
	require.NoError(t, s.SetWellCellLine(ctx, well(0), &mcf7))

	require.NoError(t, s.InsertWellDrugs(ctx, []model.WellDrug{
		{WellID: well(0), DrugID: drugs["a"], Order: 0, Dose: 1e-6},
		{WellID: well(0), DrugID: drugs["b"], Order: 1, Dose: 2e-6},
		{WellID: well(1), DrugID: drugs["a"], Order: 0, Dose: 0},
	}))
	require.NoError(t, s.InsertMeasurements(ctx, []model.WellMeasurement{
		{WellID: well(0), Assay: "cell.count", Timepoint: 24 * time.Hour, Value: model.Float(10)},
		{WellID: well(2), Assay: "cell.count", Timepoint: 24 * time.Hour},
	}))

	controls, err := s.ControlWells(ctx, ds.ID)
	require.NoError(t, err)
	var nums []int
	for _, c := range controls {
		nums = append(nums, c.WellNum)
	}
	assert.Equal(t, []int{1, 2, 3}, nums)

	doses, err := s.WellDoses(ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, doses, 2)
	assert.Equal(t, "MCF7", doses[0].CellLine)
	require.Len(t, doses[0].Drugs, 2)
	assert.Equal(t, "B", doses[0].Drugs[1].Drug)
	assert.Equal(t, 1, doses[1].Well)

	ms, err := s.Measurements(ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, 24*time.Hour, ms[0].Timepoint)
	assert.Equal(t, "MCF7", ms[0].CellLine)
	assert.Nil(t, ms[1].Value)

	sums, err := s.PlateSummaries(ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, 4, sums[0].Wells)
	assert.Equal(t, 2, sums[0].Measurements)
	assert.Equal(t, 1, sums[0].Assays)
	assert.Equal(t, 1, sums[0].Timepoints)

	require.NoError(t, s.DeleteWellDrugs(ctx, []int64{well(0), well(1)}))
	left, err := s.WellDrugs(ctx, []int64{well(0), well(1)})
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestPlateFiles(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)

	f := &model.PlateFile{DatasetID: ds.ID, FileName: "a.txt", FileFormat: "instrument-text"}
	require.NoError(t, s.InsertPlateFile(ctx, f))
	assert.NotEmpty(t, f.ID)

	files, err := s.PlateFiles(ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].FileName)
}
