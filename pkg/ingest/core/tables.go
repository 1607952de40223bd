package core

import (
	"fmt"
	"sort"
	"time"

	"github.com/plateflow/plateflow/internal/model"
)

// DrugDose is one drug slot of a well. Dose is molar.
type DrugDose struct {
	Drug string
	Dose float64
}

// DoseRow assigns a cell line and zero or more drugs to one well.
// Slice position in Drugs is the drug order.
type DoseRow struct {
	Plate    string
	Well     int
	CellLine string
	Drugs    []DrugDose
}

// TotalDose sums the doses of all drug slots.
func (r DoseRow) TotalDose() float64 {
	var sum float64
	for _, d := range r.Drugs {
		sum += d.Dose
	}
	return sum
}

// MeasurementRow is one (well, assay, timepoint) observation.
// Value is nil when the instrument reported nothing for the well.
type MeasurementRow struct {
	Plate     string
	Well      int
	CellLine  string
	Assay     string
	Timepoint time.Duration
	Value     *float64
}

// PlateDims is the grid a file uses for a plate. Declared dims come from
// the file layout itself and must match a stored plate exactly; inferred
// dims only need to fit inside it.
//
// Rows and Cols are set when the file addresses wells by row and column
// rather than by index. They give the extent the file actually uses, and
// well indices of such a plate are laid out on Width until Reindex moves
// them onto another width.
type PlateDims struct {
	Width    int
	Height   int
	Declared bool
	Rows     int
	Cols     int
}

// Grid reports whether the file addressed this plate by row and column.
func (d PlateDims) Grid() bool { return d.Rows > 0 && d.Cols > 0 }

// Tables is the normalized, unstacked output of every decoder.
type Tables struct {
	Format  Format
	Decoder string

	Doses    []DoseRow
	Assays   []MeasurementRow
	Controls []MeasurementRow

	Dims map[string]PlateDims
}

// NewTables creates empty tables for a decoder.
func NewTables(format Format, decoder string) *Tables {
	return &Tables{
		Format:  format,
		Decoder: decoder,
		Dims:    make(map[string]PlateDims),
	}
}

// SetDims records declared dimensions for a plate.
func (t *Tables) SetDims(plate string, width, height int) {
	t.Dims[plate] = PlateDims{Width: width, Height: height, Declared: true}
}

// SetGrid records inferred dimensions for a plate whose wells were
// addressed by row and column, using rows x cols of it.
func (t *Tables) SetGrid(plate string, width, height, rows, cols int) {
	t.Dims[plate] = PlateDims{Width: width, Height: height, Rows: rows, Cols: cols}
}

// Reindex moves the well indices of a grid-addressed plate onto a plate of
// the given dimensions. Rows and columns keep their position.
func (t *Tables) Reindex(plate string, width, height int) {
	d, ok := t.Dims[plate]
	if !ok {
		return
	}
	if d.Grid() && d.Width != width {
		move := func(well int) int {
			return (well/d.Width)*width + well%d.Width
		}
		for i := range t.Doses {
			if t.Doses[i].Plate == plate {
				t.Doses[i].Well = move(t.Doses[i].Well)
			}
		}
		for _, rows := range [][]MeasurementRow{t.Assays, t.Controls} {
			for i := range rows {
				if rows[i].Plate == plate {
					rows[i].Well = move(rows[i].Well)
				}
			}
		}
	}
	d.Width, d.Height = width, height
	t.Dims[plate] = d
}

// Empty reports whether the tables hold no rows at all.
func (t *Tables) Empty() bool {
	return len(t.Doses) == 0 && len(t.Assays) == 0 && len(t.Controls) == 0
}

// PlateNames returns every plate referenced by any table, sorted.
func (t *Tables) PlateNames() []string {
	seen := make(map[string]struct{})
	for _, r := range t.Doses {
		seen[r.Plate] = struct{}{}
	}
	for _, r := range t.Assays {
		seen[r.Plate] = struct{}{}
	}
	for _, r := range t.Controls {
		seen[r.Plate] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MaxWell returns the largest well index referenced for plate, or -1.
func (t *Tables) MaxWell(plate string) int {
	max := -1
	for _, r := range t.Doses {
		if r.Plate == plate && r.Well > max {
			max = r.Well
		}
	}
	for _, rows := range [][]MeasurementRow{t.Assays, t.Controls} {
		for _, r := range rows {
			if r.Plate == plate && r.Well > max {
				max = r.Well
			}
		}
	}
	return max
}

// DimsFor returns declared dims for plate, or infers them by rounding the
// largest referenced well up to a standard plate size.
func (t *Tables) DimsFor(plate string) (PlateDims, error) {
	if d, ok := t.Dims[plate]; ok {
		return d, nil
	}
	size, ok := model.SizeForWells(t.MaxWell(plate) + 1)
	if !ok {
		return PlateDims{}, fmt.Errorf("plate %q references well %d, beyond the largest supported plate", plate, t.MaxWell(plate))
	}
	return PlateDims{Width: size.Width, Height: size.Height}, nil
}

// CellLineNames returns distinct non-empty cell line names in first-seen order.
func (t *Tables) CellLineNames() []string {
	var names []string
	seen := make(map[string]struct{})
	add := func(n string) {
		if n == "" {
			return
		}
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}
	for _, r := range t.Doses {
		add(r.CellLine)
	}
	for _, r := range t.Controls {
		add(r.CellLine)
	}
	for _, r := range t.Assays {
		add(r.CellLine)
	}
	return names
}

// DrugNames returns distinct drug names in first-seen order.
func (t *Tables) DrugNames() []string {
	var names []string
	seen := make(map[string]struct{})
	for _, r := range t.Doses {
		for _, d := range r.Drugs {
			if _, ok := seen[d.Drug]; !ok {
				seen[d.Drug] = struct{}{}
				names = append(names, d.Drug)
			}
		}
	}
	return names
}
