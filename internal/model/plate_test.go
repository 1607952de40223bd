package model

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeForWells(t *testing.T) {
	tests := []struct {
		n    int
		want PlateSize
	}{
		{1, PlateSize{Width: 3, Height: 2}},
		{96, PlateSize{Width: 12, Height: 8}},
		{97, PlateSize{Width: 24, Height: 16}},
		{384, PlateSize{Width: 24, Height: 16}},
		{1536, PlateSize{Width: 48, Height: 32}},
	}
	for _, tt := range tests {
		got, ok := SizeForWells(tt.n)
		require.True(t, ok, "n=%d", tt.n)
		assert.Equal(t, tt.want, got, "n=%d", tt.n)
	}

	_, ok := SizeForWells(1537)
	assert.False(t, ok)
}

func TestSizeForGrid(t *testing.T) {
	s, ok := SizeForGrid(8, 12)
	require.True(t, ok)
	assert.Equal(t, 96, s.Wells())

	s, ok = SizeForGrid(9, 12)
	require.True(t, ok)
	assert.Equal(t, 384, s.Wells())

	assert.True(t, IsStandard(24, 16))
	assert.False(t, IsStandard(16, 24))
}

func TestWellNames(t *testing.T) {
	assert.Equal(t, "A1", WellName(0, 12))
	assert.Equal(t, "A12", WellName(11, 12))
	assert.Equal(t, "B1", WellName(12, 12))
	assert.Equal(t, "AF48", WellName(1535, 48))

	row, col, err := ParseWellName("B03")
	require.NoError(t, err)
	assert.Equal(t, 1, row)
	assert.Equal(t, 2, col)

	row, col, err = ParseWellName("af48")
	require.NoError(t, err)
	assert.Equal(t, 31, row)
	assert.Equal(t, 47, col)

	for _, bad := range []string{"", "12", "B", "B0", "3B", "B-1"} {
		_, _, err := ParseWellName(bad)
		assert.Error(t, err, "name %q", bad)
	}
}

func TestProperty_RowLabelRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("ParseRowLabel inverts RowLabel", prop.ForAll(
		func(row int) bool {
			got, err := ParseRowLabel(RowLabel(row))
			return err == nil && got == row
		},
		gen.IntRange(0, 5000),
	))

	properties.Property("WellName round-trips on every standard size", prop.ForAll(
		func(sizeIdx, seed int) bool {
			s := StandardSizes[sizeIdx]
			num := seed % s.Wells()
			row, col, err := ParseWellName(WellName(num, s.Width))
			return err == nil && row*s.Width+col == num
		},
		gen.IntRange(0, len(StandardSizes)-1),
		gen.IntRange(0, 1<<20),
	))

	properties.TestingRun(t)
}
