package catalog

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plateflow/plateflow/internal/model"
	"github.com/plateflow/plateflow/internal/testutil"
	"github.com/plateflow/plateflow/pkg/store"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "drug1", Key("Drug1"))
	assert.Equal(t, "drug1", Key("  DRUG1 "))
	assert.Equal(t, "5-fu hcl", Key("5-FU   HCl"))
	assert.Equal(t, "strasse", Key("STRASSE"))
	assert.Equal(t, "", Key("   "))
}

func TestProperty_KeyIgnoresCase(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("upper and lower spellings share a key", prop.ForAll(
		func(s string) bool {
			return Key(s) == Key(toggleCase(s))
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func toggleCase(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z':
			b[i] = c - 32
		case c >= 'A' && c <= 'Z':
			b[i] = c + 32
		}
	}
	return string(b)
}

func TestResolver_CaseInsensitiveDedup(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	r := NewResolver(testutil.Logger())

	var ids []int64
	for _, spelling := range []string{"Drug1", "drug1", "DRUG1"} {
		err := s.WithTx(ctx, func(tx *store.Tx) error {
			names, err := r.Resolve(ctx, tx, []string{"MCF7"}, []string{spelling})
			if err != nil {
				return err
			}
			id, ok := names.Drug(spelling)
			require.True(t, ok)
			ids = append(ids, id)
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[0], ids[2])

	drugs, err := s.CatalogEntries(ctx, store.Drugs)
	require.NoError(t, err)
	require.Len(t, drugs, 1)
	assert.Equal(t, "Drug1", drugs[0].Name)

	cells, err := s.CatalogEntries(ctx, store.CellLines)
	require.NoError(t, err)
	assert.Len(t, cells, 1)
}

func TestResolver_SkipsBlankNames(t *testing.T) {
	s := testutil.OpenStore(t)
	names, err := NewResolver(nil).Resolve(context.Background(), s, []string{"", "  "}, nil)
	require.NoError(t, err)
	assert.Empty(t, names.CellLines)
	assert.Empty(t, names.Drugs)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	ds := testutil.NewDataset(t, s)

	// Rows keyed by an older normalization that did not fold case.
	for _, stmt := range []string{
		`INSERT INTO drugs (id, name, name_key) VALUES (1, 'Drug1', 'Drug1'), (2, 'DRUG1', 'DRUG1'),
		 (3, 'Combo', 'Combo'), (4, 'COMBO', 'COMBO'), (5, 'Solo', 'Solo')`,
		`INSERT INTO cell_lines (id, name, name_key) VALUES (1, 'MCF7', 'MCF7'), (2, 'mcf7', 'mcf7')`,
	} {
		_, err := s.Exec(ctx, stmt)
		require.NoError(t, err)
	}

	p := &model.Plate{DatasetID: ds.ID, Name: "P1", Width: 12, Height: 8}
	require.NoError(t, s.InsertPlate(ctx, p))
	two := int64(2)
	ids, err := s.InsertWells(ctx, []model.Well{
		{PlateID: p.ID, WellNum: 0, CellLineID: &two},
		{PlateID: p.ID, WellNum: 1},
	})
	require.NoError(t, err)
	w0 := ids[store.WellKey{PlateID: p.ID, WellNum: 0}]
	w1 := ids[store.WellKey{PlateID: p.ID, WellNum: 1}]
	require.NoError(t, s.InsertWellDrugs(ctx, []model.WellDrug{
		{WellID: w0, DrugID: 2, Order: 0, Dose: 1},
		{WellID: w1, DrugID: 3, Order: 0, Dose: 1},
		{WellID: w1, DrugID: 4, Order: 1, Dose: 1},
	}))

	report, err := Reconcile(ctx, s, testutil.Logger())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Merged())
	require.Len(t, report.Merges, 3)

	var skipped []string
	for _, m := range report.Merges {
		if m.Skipped != "" {
			skipped = append(skipped, m.Key)
		}
	}
	assert.Equal(t, []string{"combo"}, skipped)

	drugs, err := s.CatalogEntries(ctx, store.Drugs)
	require.NoError(t, err)
	var drugIDs []int64
	for _, d := range drugs {
		drugIDs = append(drugIDs, d.ID)
	}
	assert.Equal(t, []int64{1, 3, 4, 5}, drugIDs)
	assert.Equal(t, "drug1", drugs[0].Key)
	assert.Equal(t, "solo", drugs[3].Key)

	assignments, err := s.WellDrugs(ctx, []int64{w0})
	require.NoError(t, err)
	assert.Equal(t, int64(1), assignments[w0][0].DrugID)

	wells, err := s.PlateWells(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, wells[0].CellLineID)
	assert.Equal(t, int64(1), *wells[0].CellLineID)

	cells, err := s.CatalogEntries(ctx, store.CellLines)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, "mcf7", cells[0].Key)
}
