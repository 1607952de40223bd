package container

import (
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/plateflow/plateflow/pkg/ingest/core"
)

// flushRows bounds the size of one record batch.
const flushRows = 16384

// Write encodes t as a container stream.
func Write(w io.Writer, t *core.Tables) error {
	mem := memory.NewGoAllocator()
	schema := Schema()

	iw := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	cols := struct {
		table, plate, cellLine, drug, assay *array.StringBuilder
		well, slot                          *array.Int32Builder
		dose, value                         *array.Float64Builder
		timepoint                           *array.Int64Builder
	}{
		table:     b.Field(0).(*array.StringBuilder),
		plate:     b.Field(1).(*array.StringBuilder),
		well:      b.Field(2).(*array.Int32Builder),
		cellLine:  b.Field(3).(*array.StringBuilder),
		slot:      b.Field(4).(*array.Int32Builder),
		drug:      b.Field(5).(*array.StringBuilder),
		dose:      b.Field(6).(*array.Float64Builder),
		assay:     b.Field(7).(*array.StringBuilder),
		timepoint: b.Field(8).(*array.Int64Builder),
		value:     b.Field(9).(*array.Float64Builder),
	}

	rows := 0
	flush := func(force bool) error {
		if rows == 0 || (!force && rows < flushRows) {
			return nil
		}
		rec := b.NewRecord()
		defer rec.Release()
		rows = 0
		if err := iw.Write(rec); err != nil {
			return fmt.Errorf("write record batch: %w", err)
		}
		return nil
	}

	appendOptString := func(sb *array.StringBuilder, s string) {
		if s == "" {
			sb.AppendNull()
			return
		}
		sb.Append(s)
	}

	for _, d := range t.Doses {
		slots := d.Drugs
		if len(slots) == 0 {
			slots = []core.DrugDose{{}}
		}
		for i, dd := range slots {
			cols.table.Append(TableDoses)
			cols.plate.Append(d.Plate)
			cols.well.Append(int32(d.Well))
			appendOptString(cols.cellLine, d.CellLine)
			if dd.Drug == "" {
				cols.slot.AppendNull()
				cols.drug.AppendNull()
				cols.dose.AppendNull()
			} else {
				cols.slot.Append(int32(i))
				cols.drug.Append(dd.Drug)
				cols.dose.Append(dd.Dose)
			}
			cols.assay.AppendNull()
			cols.timepoint.AppendNull()
			cols.value.AppendNull()
			rows++
			if err := flush(false); err != nil {
				return err
			}
		}
	}

	for _, part := range []struct {
		name string
		rows []core.MeasurementRow
	}{{TableAssays, t.Assays}, {TableControls, t.Controls}} {
		for _, m := range part.rows {
			cols.table.Append(part.name)
			cols.plate.Append(m.Plate)
			cols.well.Append(int32(m.Well))
			appendOptString(cols.cellLine, m.CellLine)
			cols.slot.AppendNull()
			cols.drug.AppendNull()
			cols.dose.AppendNull()
			cols.assay.Append(m.Assay)
			cols.timepoint.Append(int64(m.Timepoint / time.Second))
			if m.Value == nil {
				cols.value.AppendNull()
			} else {
				cols.value.Append(*m.Value)
			}
			rows++
			if err := flush(false); err != nil {
				return err
			}
		}
	}

	if err := flush(true); err != nil {
		return err
	}
	return iw.Close()
}
