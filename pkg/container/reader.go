package container

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/plateflow/plateflow/internal/model"
	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/ingest/core"
)

type wellKey struct {
	plate string
	well  int
}

type slot struct {
	index int
	dd    core.DrugDose
}

// Read decodes a container stream into tables. Errors other than
// ErrNotContainer describe structurally invalid content.
func Read(r io.Reader, format core.Format, decoder string) (*core.Tables, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, ErrNotContainer
	}
	defer rdr.Release()

	md := rdr.Schema().Metadata()
	idx := md.FindKey(Marker)
	if idx < 0 {
		return nil, ErrNotContainer
	}
	if v := md.Values()[idx]; v != Version {
		return nil, fmt.Errorf("unsupported container version %q", v)
	}

	cols, err := columnIndex(rdr.Schema())
	if err != nil {
		return nil, err
	}

	t := core.NewTables(format, decoder)
	doses := make(map[wellKey]*core.DoseRow)
	slots := make(map[wellKey][]slot)
	var order []wellKey

	for rdr.Next() {
		rec := rdr.Record()
		c, err := bindColumns(rec, cols)
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			if c.table.IsNull(i) || c.plate.IsNull(i) || c.well.IsNull(i) {
				return nil, fmt.Errorf("row %d: table, plate and well are required", i)
			}
			key := wellKey{plate: c.plate.Value(i), well: int(c.well.Value(i))}
			if key.plate == "" {
				return nil, fmt.Errorf("row %d: empty plate name", i)
			}
			if key.well < 0 || key.well >= model.StandardSizes[len(model.StandardSizes)-1].Wells() {
				return nil, fmt.Errorf("row %d: well %d out of range", i, key.well)
			}
			cellLine := optString(c.cellLine, i)

			switch table := c.table.Value(i); table {
			case TableDoses:
				row, ok := doses[key]
				if !ok {
					row = &core.DoseRow{Plate: key.plate, Well: key.well, CellLine: cellLine}
					doses[key] = row
					order = append(order, key)
				} else if model.NameKey(row.CellLine) != model.NameKey(cellLine) {
					return nil, pferrors.Inconsistent(key.plate, fmt.Sprintf("#%d", key.well),
						fmt.Sprintf("well declared with cell lines %q and %q", row.CellLine, cellLine))
				}
				if c.drug.IsNull(i) {
					continue
				}
				if c.slot.IsNull(i) || c.dose.IsNull(i) {
					return nil, fmt.Errorf("plate %s well %d: drug %q without slot or dose",
						key.plate, key.well, c.drug.Value(i))
				}
				if dose := c.dose.Value(i); dose < 0 || math.IsNaN(dose) || math.IsInf(dose, 0) {
					return nil, fmt.Errorf("plate %s well %d: invalid dose %v for %q",
						key.plate, key.well, dose, c.drug.Value(i))
				}
				slots[key] = append(slots[key], slot{
					index: int(c.slot.Value(i)),
					dd:    core.DrugDose{Drug: c.drug.Value(i), Dose: c.dose.Value(i)},
				})

			case TableAssays, TableControls:
				if c.assay.IsNull(i) || c.timepoint.IsNull(i) {
					return nil, fmt.Errorf("row %d: %s rows need assay and timepoint_s", i, table)
				}
				m := core.MeasurementRow{
					Plate:     key.plate,
					Well:      key.well,
					CellLine:  cellLine,
					Assay:     c.assay.Value(i),
					Timepoint: time.Duration(c.timepoint.Value(i)) * time.Second,
				}
				if !c.value.IsNull(i) {
					m.Value = model.Float(c.value.Value(i))
				}
				if table == TableAssays {
					t.Assays = append(t.Assays, m)
				} else {
					t.Controls = append(t.Controls, m)
				}

			default:
				return nil, fmt.Errorf("row %d: unknown table %q", i, table)
			}
		}
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read container: %w", err)
	}

	for _, key := range order {
		row := doses[key]
		drugs, err := orderSlots(slots[key])
		if err != nil {
			return nil, fmt.Errorf("plate %s well %d: %w", key.plate, key.well, err)
		}
		row.Drugs = drugs
		t.Doses = append(t.Doses, *row)
	}

	return t, nil
}

// orderSlots places drugs by slot index and requires 0..n-1 with no gaps.
func orderSlots(ss []slot) ([]core.DrugDose, error) {
	if len(ss) == 0 {
		return nil, nil
	}
	out := make([]core.DrugDose, len(ss))
	filled := make([]bool, len(ss))
	for _, s := range ss {
		if s.index < 0 || s.index >= len(ss) {
			return nil, fmt.Errorf("drug slot %d is not dense", s.index)
		}
		if filled[s.index] {
			return nil, fmt.Errorf("drug slot %d used twice", s.index)
		}
		filled[s.index] = true
		out[s.index] = s.dd
	}
	return out, nil
}

type columnPositions map[string]int

func columnIndex(schema *arrow.Schema) (columnPositions, error) {
	pos := make(columnPositions)
	for _, name := range []string{ColTable, ColPlate, ColWell, ColCellLine, ColDrugSlot,
		ColDrug, ColDose, ColAssay, ColTimepointS, ColValue} {
		idx := schema.FieldIndices(name)
		if len(idx) != 1 {
			return nil, fmt.Errorf("container column %q missing or repeated", name)
		}
		pos[name] = idx[0]
	}
	return pos, nil
}

type boundColumns struct {
	table, plate, cellLine, drug, assay *array.String
	well, slot                          *array.Int32
	dose, value                         *array.Float64
	timepoint                           *array.Int64
}

func bindColumns(rec arrow.Record, pos columnPositions) (*boundColumns, error) {
	var (
		c   boundColumns
		err error
	)
	str := func(name string) *array.String {
		a, ok := rec.Column(pos[name]).(*array.String)
		if !ok && err == nil {
			err = fmt.Errorf("container column %q must be utf8", name)
		}
		return a
	}
	i32 := func(name string) *array.Int32 {
		a, ok := rec.Column(pos[name]).(*array.Int32)
		if !ok && err == nil {
			err = fmt.Errorf("container column %q must be int32", name)
		}
		return a
	}
	f64 := func(name string) *array.Float64 {
		a, ok := rec.Column(pos[name]).(*array.Float64)
		if !ok && err == nil {
			err = fmt.Errorf("container column %q must be float64", name)
		}
		return a
	}

	c.table = str(ColTable)
	c.plate = str(ColPlate)
	c.cellLine = str(ColCellLine)
	c.drug = str(ColDrug)
	c.assay = str(ColAssay)
	c.well = i32(ColWell)
	c.slot = i32(ColDrugSlot)
	c.dose = f64(ColDose)
	c.value = f64(ColValue)
	tp, ok := rec.Column(pos[ColTimepointS]).(*array.Int64)
	if !ok && err == nil {
		err = fmt.Errorf("container column %q must be int64", ColTimepointS)
	}
	c.timepoint = tp
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func optString(a *array.String, i int) string {
	if a.IsNull(i) {
		return ""
	}
	return a.Value(i)
}
