package decoders

import (
	"math"
	"strconv"
	"strings"

	"github.com/plateflow/plateflow/internal/model"
	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/ingest/core"
)

// Metadata row labels shared by the block text and spreadsheet layouts.
const (
	labelBarcode   = "barcode"
	labelPlateName = "plate name"
)

// assayGrid is one W x H block of readings for a single assay.
type assayGrid struct {
	assay  string
	width  int
	height int
	values []*float64 // row-major
	line   int
}

// plateBlock is everything read for one barcode.
type plateBlock struct {
	barcode   string
	plateName string
	grids     []assayGrid
	line      int
}

// gridReader walks rows of cells and collects plate blocks. Rows come from
// tab-split text lines or from worksheet rows.
type gridReader struct {
	decoder string
	blocks  []*plateBlock
	cur     *plateBlock
	assay   string
}

func newGridReader(decoder string) *gridReader {
	return &gridReader{decoder: decoder}
}

func (g *gridReader) fail(line int, format string, args ...interface{}) error {
	return pferrors.Decodef(g.decoder, format, args...).WithContext("line", line)
}

// block returns the current block, opening one if needed.
func (g *gridReader) block(line int) *plateBlock {
	if g.cur == nil {
		g.cur = &plateBlock{line: line}
		g.blocks = append(g.blocks, g.cur)
	}
	return g.cur
}

func (g *gridReader) startBlock(line int) *plateBlock {
	g.cur = nil
	g.assay = ""
	return g.block(line)
}

// read consumes all rows.
func (g *gridReader) read(rows [][]string) error {
	for i := 0; i < len(rows); i++ {
		cells := trimCells(rows[i])
		line := i + 1
		if len(cells) == 0 {
			continue
		}

		if key, value, ok := metadataField(cells); ok {
			switch key {
			case labelBarcode:
				if value == "" {
					return g.fail(line, "empty barcode")
				}
				b := g.cur
				if b == nil || b.barcode != "" || len(b.grids) > 0 {
					b = g.startBlock(line)
				}
				b.barcode = value
			case labelPlateName:
				b := g.cur
				if b == nil || b.plateName != "" || len(b.grids) > 0 {
					b = g.startBlock(line)
				}
				b.plateName = value
			}
			continue
		}

		if isGridHeader(cells) {
			grid, consumed, err := g.readGrid(rows, i)
			if err != nil {
				return err
			}
			b := g.block(line)
			if len(b.grids) > 0 {
				first := b.grids[0]
				if first.width != grid.width || first.height != grid.height {
					return g.fail(line, "grid for %q is %dx%d but block started as %dx%d",
						grid.assay, grid.height, grid.width, first.height, first.width)
				}
			}
			b.grids = append(b.grids, grid)
			g.assay = ""
			i += consumed - 1
			continue
		}

		if n := nonEmpty(cells); n == 1 && cells[0] != "" {
			g.assay = cells[0]
		}
	}
	return nil
}

// readGrid parses the header at rows[start] and the lettered rows beneath it.
// It returns the number of rows consumed including the header.
func (g *gridReader) readGrid(rows [][]string, start int) (assayGrid, int, error) {
	line := start + 1
	if g.assay == "" {
		return assayGrid{}, 0, g.fail(line, "grid has no assay name above it")
	}

	header := trimCells(rows[start])
	width := 0
	for c := 1; c < len(header); c++ {
		if header[c] == "" {
			break
		}
		if header[c] != strconv.Itoa(width+1) {
			return assayGrid{}, 0, g.fail(line, "grid header column %d is %q, expected %d", c, header[c], width+1)
		}
		width++
	}
	for c := width + 1; c < len(header); c++ {
		if header[c] != "" {
			return assayGrid{}, 0, g.fail(line, "grid header has a gap after column %d", width)
		}
	}

	grid := assayGrid{assay: g.assay, width: width, line: line}
	consumed := 1
	for r := start + 1; r < len(rows); r++ {
		cells := trimCells(rows[r])
		if len(cells) == 0 || !strings.EqualFold(cells[0], model.RowLabel(grid.height)) {
			break
		}
		if last := lastNonEmpty(cells); last > width {
			return assayGrid{}, 0, g.fail(r+1, "row %s has %d values but the header has %d columns",
				cells[0], last, width)
		}
		for c := 1; c <= width; c++ {
			var cell string
			if c < len(cells) {
				cell = cells[c]
			}
			grid.values = append(grid.values, parseReading(cell))
		}
		grid.height++
		consumed++
	}

	if !model.IsStandard(grid.width, grid.height) {
		return assayGrid{}, 0, g.fail(line, "grid for %q is %dx%d, not a supported plate size",
			grid.assay, grid.height, grid.width)
	}
	return grid, consumed, nil
}

// tables converts the collected blocks. A plate read at several timepoints
// must keep one grid size.
func (g *gridReader) tables(t *core.Tables, filename string) error {
	for _, b := range g.blocks {
		if len(b.grids) == 0 {
			if b.barcode != "" {
				return g.fail(b.line, "barcode %q has no assay grid", b.barcode)
			}
			continue
		}
		plate, tp, err := plateTimepoint(g.decoder, b.barcode, b.plateName, filename)
		if err != nil {
			return err
		}

		width, height := b.grids[0].width, b.grids[0].height
		if d, ok := t.Dims[plate]; ok && (d.Width != width || d.Height != height) {
			return g.fail(b.line, "plate %q appears as %dx%d and %dx%d", plate, d.Height, d.Width, height, width)
		}
		t.SetDims(plate, width, height)

		for _, grid := range b.grids {
			for well, v := range grid.values {
				t.Assays = append(t.Assays, core.MeasurementRow{
					Plate:     plate,
					Well:      well,
					Assay:     grid.assay,
					Timepoint: tp,
					Value:     v,
				})
			}
		}
	}
	return nil
}

// found reports whether any grid was read.
func (g *gridReader) found() bool {
	for _, b := range g.blocks {
		if len(b.grids) > 0 {
			return true
		}
	}
	return false
}

// metadataField recognizes "Barcode: X", "Barcode:<tab>X" and "Barcode<tab>X"
// rows, and the same for Plate Name.
func metadataField(cells []string) (key, value string, ok bool) {
	first := cells[0]
	if i := strings.IndexByte(first, ':'); i >= 0 {
		key, value = first[:i], strings.TrimSpace(first[i+1:])
	} else {
		key = first
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key != labelBarcode && key != labelPlateName {
		return "", "", false
	}
	if value == "" {
		for _, c := range cells[1:] {
			if c != "" {
				value = c
				break
			}
		}
	}
	return key, value, true
}

func isGridHeader(cells []string) bool {
	return len(cells) >= 2 && cells[0] == "" && cells[1] == "1"
}

// parseReading returns nil for anything that is not a finite number
// (blank, NA, OVRFLW, ...).
func parseReading(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return model.Float(v)
}

func trimCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	return out[:lastNonEmpty(out)+1]
}

func nonEmpty(cells []string) int {
	n := 0
	for _, c := range cells {
		if c != "" {
			n++
		}
	}
	return n
}

// lastNonEmpty returns the index of the last non-empty cell, or -1.
func lastNonEmpty(cells []string) int {
	for i := len(cells) - 1; i >= 0; i-- {
		if cells[i] != "" {
			return i
		}
	}
	return -1
}
