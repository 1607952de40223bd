package platemap_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fixtures "github.com/plateflow/plateflow/internal/testutil"
	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/groupcache"
	"github.com/plateflow/plateflow/pkg/ingest"
	"github.com/plateflow/plateflow/pkg/ingest/core"
	"github.com/plateflow/plateflow/pkg/ingest/sources"
	"github.com/plateflow/plateflow/pkg/platemap"
	"github.com/plateflow/plateflow/pkg/store"
)

const doc = `
plates:
  - plate: PlateA
    wells:
      - well: A1
        cell_line: MCF7
        drugs:
          - {drug: Gefitinib, dose: 1, units: uM}
          - {drug: Trametinib, dose: 10, units: nM}
      - well: A02
        cell_line: mcf7
  - plate: PlateB
    width: 6
    height: 4
    wells:
      - well: D6
        cell_line: A549
        drugs:
          - {drug: gefitinib, dose: 0.000002}
`

func seeded(t *testing.T) (*store.Store, string) {
	t.Helper()
	s := fixtures.OpenStore(t)
	ds := fixtures.NewDataset(t, s)
	_, err := ingest.NewParser(s, ds.ID, ingest.Options{Logger: fixtures.Logger()}).ParseFile(context.Background(),
		sources.NewMemorySource("a.txt", fixtures.BlockText(fixtures.Plate96("PlateA-24h", "Viability", fixtures.Linear(0, 1)))))
	require.NoError(t, err)
	return s, ds.ID
}

func TestLoad(t *testing.T) {
	m, err := platemap.Load(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, m.Plates, 2)
	assert.Equal(t, "PlateA", m.Plates[0].Name)

	dose, err := m.Plates[0].Wells[0].Drugs[0].Molar()
	require.NoError(t, err)
	assert.InDelta(t, 1e-6, dose, 1e-18)

	assert.Equal(t, []string{"MCF7", "mcf7", "A549"}, m.CellLineNames())
	assert.Equal(t, []string{"Gefitinib", "Trametinib", "gefitinib"}, m.DrugNames())
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":  "plates:\n  - plate: P\n    color: red\n",
		"no plate name":  "plates:\n  - wells: []\n",
		"bad well":       "plates:\n  - plate: P\n    wells:\n      - well: 7Z\n",
		"duplicate well": "plates:\n  - plate: P\n    wells:\n      - well: A1\n      - well: A01\n",
		"bad unit":       "plates:\n  - plate: P\n    wells:\n      - well: A1\n        drugs:\n          - {drug: X, dose: 1, units: ppm}\n",
		"negative dose":  "plates:\n  - plate: P\n    wells:\n      - well: A1\n        drugs:\n          - {drug: X, dose: -1}\n",
		"drug twice":     "plates:\n  - plate: P\n    wells:\n      - well: A1\n        drugs:\n          - {drug: X, dose: 1}\n          - {drug: x, dose: 2}\n",
		"odd size":       "plates:\n  - plate: P\n    width: 5\n    height: 5\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := platemap.Load(strings.NewReader(text))
			require.Error(t, err)
			assert.True(t, pferrors.IsDomain(err), err)
		})
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	s, datasetID := seeded(t)
	groups := groupcache.NewMemory()
	require.NoError(t, groups.Put(ctx, datasetID, "summary", []byte("x")))

	m, err := platemap.Load(strings.NewReader(doc))
	require.NoError(t, err)
	report, err := platemap.NewApplier(s, groups, fixtures.Logger()).Apply(ctx, datasetID, m)
	require.NoError(t, err)
	assert.Equal(t, &platemap.Report{PlatesCreated: 1, WellsCreated: 1, WellsUpdated: 3, DrugRows: 3}, report)

	doses, err := s.WellDoses(ctx, datasetID)
	require.NoError(t, err)
	require.Len(t, doses, 3)
	assert.Equal(t, "MCF7", doses[0].CellLine)
	require.Len(t, doses[0].Drugs, 2)
	assert.Equal(t, "Gefitinib", doses[0].Drugs[0].Drug)
	assert.InDelta(t, 1e-6, doses[0].Drugs[0].Dose, 1e-15)
	assert.Equal(t, "Trametinib", doses[0].Drugs[1].Drug)
	assert.InDelta(t, 1e-8, doses[0].Drugs[1].Dose, 1e-15)
	assert.Equal(t, core.DoseRow{Plate: "PlateA", Well: 1, CellLine: "MCF7"}, doses[1])
	assert.Equal(t, "PlateB", doses[2].Plate)
	assert.Equal(t, 23, doses[2].Well)
	assert.Equal(t, "Gefitinib", doses[2].Drugs[0].Drug)

	plates := map[string]store.PlateSummary{}
	list, err := s.PlateSummaries(ctx, datasetID)
	require.NoError(t, err)
	for _, p := range list {
		plates[p.Plate.Name] = p
	}
	assert.NotNil(t, plates["PlateA"].Plate.LastAnnotated)
	assert.Equal(t, 6, plates["PlateB"].Plate.Width)
	assert.Equal(t, 1, plates["PlateB"].Wells)

	_, ok, err := groups.Get(ctx, datasetID, "summary")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApply_ReplacesRatherThanAppends(t *testing.T) {
	ctx := context.Background()
	s, datasetID := seeded(t)
	a := platemap.NewApplier(s, nil, fixtures.Logger())

	first := &platemap.Map{Plates: []platemap.Plate{{Name: "PlateA", Wells: []platemap.Well{
		{Well: "B3", CellLine: "HeLa", Drugs: []platemap.Dose{{Drug: "Taxol", Dose: 1e-7}, {Drug: "Dox", Dose: 1e-6}}},
	}}}}
	_, err := a.Apply(ctx, datasetID, first)
	require.NoError(t, err)

	second := &platemap.Map{Plates: []platemap.Plate{{Name: "PlateA", Wells: []platemap.Well{
		{Well: "B3", Drugs: []platemap.Dose{{Drug: "Dox", Dose: 5e-6}}},
	}}}}
	_, err = a.Apply(ctx, datasetID, second)
	require.NoError(t, err)

	doses, err := s.WellDoses(ctx, datasetID)
	require.NoError(t, err)
	require.Len(t, doses, 1)
	assert.Equal(t, 14, doses[0].Well)
	assert.Empty(t, doses[0].CellLine)
	assert.Equal(t, []core.DrugDose{{Drug: "Dox", Dose: 5e-6}}, doses[0].Drugs)
}

func TestApply_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	s, datasetID := seeded(t)
	a := platemap.NewApplier(s, nil, fixtures.Logger())

	m := &platemap.Map{Plates: []platemap.Plate{
		{Name: "PlateA", Wells: []platemap.Well{{Well: "A1", CellLine: "MCF7"}}},
		{Name: "Missing", Wells: []platemap.Well{{Well: "A1", CellLine: "MCF7"}}},
	}}
	_, err := a.Apply(ctx, datasetID, m)
	assert.ErrorIs(t, err, pferrors.ErrNotFound)

	doses, err := s.WellDoses(ctx, datasetID)
	require.NoError(t, err)
	assert.Empty(t, doses)

	outside := &platemap.Map{Plates: []platemap.Plate{{Name: "PlateA", Wells: []platemap.Well{{Well: "I1"}}}}}
	_, err = a.Apply(ctx, datasetID, outside)
	assert.ErrorIs(t, err, pferrors.ErrDecode)

	resized := &platemap.Map{Plates: []platemap.Plate{{Name: "PlateA", Width: 24, Height: 16}}}
	_, err = a.Apply(ctx, datasetID, resized)
	assert.ErrorIs(t, err, pferrors.ErrDimensionMismatch)
}
