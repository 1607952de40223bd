// Package testutil builds plate-file fixtures and migrated stores for tests.
package testutil

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/plateflow/plateflow/internal/model"
	"github.com/plateflow/plateflow/pkg/container"
	"github.com/plateflow/plateflow/pkg/ingest/core"
)

// GridAssay is one assay grid inside a barcode block.
type GridAssay struct {
	Name   string
	Size   model.PlateSize
	Values func(well int) string
}

// BlockPlate is one barcode block of a block-text or spreadsheet fixture.
type BlockPlate struct {
	Barcode   string
	PlateName string
	Assays    []GridAssay
}

// Linear returns readings start, start+step, ... by well index.
func Linear(start, step float64) func(int) string {
	return func(well int) string {
		return strconv.FormatFloat(start+step*float64(well), 'f', -1, 64)
	}
}

// Plate96 is a single-assay 96-well block.
func Plate96(barcode, assay string, values func(int) string) BlockPlate {
	return BlockPlate{
		Barcode: barcode,
		Assays:  []GridAssay{{Name: assay, Size: model.PlateSize{Width: 12, Height: 8}, Values: values}},
	}
}

func (p BlockPlate) rows() [][]string {
	var rows [][]string
	if p.Barcode != "" {
		rows = append(rows, []string{"Barcode:", p.Barcode})
	}
	if p.PlateName != "" {
		rows = append(rows, []string{"Plate Name:", p.PlateName})
	}
	for _, a := range p.Assays {
		rows = append(rows, nil, []string{a.Name})
		header := []string{""}
		for c := 1; c <= a.Size.Width; c++ {
			header = append(header, strconv.Itoa(c))
		}
		rows = append(rows, header)
		for r := 0; r < a.Size.Height; r++ {
			row := []string{model.RowLabel(r)}
			for c := 0; c < a.Size.Width; c++ {
				row = append(row, a.Values(r*a.Size.Width+c))
			}
			rows = append(rows, row)
		}
	}
	return append(rows, nil)
}

// BlockText renders plates as a tab-separated block export.
func BlockText(plates ...BlockPlate) []byte {
	var b strings.Builder
	b.WriteString("Plate reader export\tv2.1\n\n")
	for _, p := range plates {
		for _, row := range p.rows() {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
	}
	return []byte(b.String())
}

// XLSX renders plates into a one-sheet workbook. Numeric readings are
// stored as numbers.
func XLSX(t testing.TB, plates ...BlockPlate) []byte {
	t.Helper()
	return XLSXSheets(t, []string{"Sheet1"}, plates...)
}

// XLSXSheets is XLSX with extra empty worksheets after the first.
func XLSXSheets(t testing.TB, sheets []string, plates ...BlockPlate) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	for _, s := range sheets[1:] {
		_, err := f.NewSheet(s)
		require.NoError(t, err)
	}

	r := 1
	for _, p := range plates {
		for _, row := range p.rows() {
			values := make([]interface{}, len(row))
			for i, cell := range row {
				if v, err := strconv.ParseFloat(cell, 64); err == nil && i > 0 {
					values[i] = v
				} else {
					values[i] = cell
				}
			}
			cellName, err := excelize.CoordinatesToCellName(1, r)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(sheets[0], cellName, &values))
			r++
		}
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

// HTSRow is one line of an HTS table fixture.
type HTSRow struct {
	Plate    string
	Well     string
	CellLine string
	Drug     string
	Conc     string
	Units    string
	Hours    float64
	Count    string
}

// HTSText renders rows as a tab-separated HTS table.
func HTSText(rows ...HTSRow) []byte {
	var b strings.Builder
	b.WriteString("upid\twell\tcell.line\tdrug1\tdrug1.conc\tdrug1.units\ttime\tcell.count\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Plate, r.Well, r.CellLine, r.Drug, r.Conc, r.Units,
			strconv.FormatFloat(r.Hours, 'f', -1, 64), r.Count)
	}
	return []byte(b.String())
}

// Container encodes tables as a structured container.
func Container(t testing.TB, tables *core.Tables) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, container.Write(&buf, tables))
	return buf.Bytes()
}
