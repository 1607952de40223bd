package decoders

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/plateflow/plateflow/internal/model"
	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/ingest/core"
	"github.com/plateflow/plateflow/pkg/ingest/detect"
)

// HTS column names. Matching is case-insensitive.
const (
	htsPlate     = "upid"
	htsPlateAlt  = "plate"
	htsWell      = "well"
	htsCellLine  = "cell.line"
	htsDrug      = "drug1"
	htsConc      = "drug1.conc"
	htsUnits     = "drug1.units"
	htsTime      = "time"
	htsCellCount = "cell.count"

	// AssayCellCount is the assay name HTS cell counts are stored under.
	AssayCellCount = "cell.count"
)

// HTSDecoder reads the single-agent tabular dialect: one row per well and
// timepoint with cell line, drug, concentration and cell count columns.
type HTSDecoder struct {
	sampleSize int
}

// NewHTSDecoder creates an HTS table decoder.
func NewHTSDecoder() *HTSDecoder {
	return &HTSDecoder{sampleSize: detect.DefaultSampleSize}
}

func (d *HTSDecoder) Name() string { return detect.DecoderHTS }

func (d *HTSDecoder) Format() core.Format { return core.FormatInstrumentText }

type htsRow struct {
	line     int
	plate    string
	row, col int
	cellLine string
	drugs    []core.DrugDose
	tp       time.Duration
	count    *float64
}

type htsWellState struct {
	cellLine string
	drugs    []core.DrugDose
}

// Decode parses the table. Plate sizes are inferred from the largest row
// letter and column number seen per plate; a stored plate keeps its own.
func (d *HTSDecoder) Decode(ctx context.Context, data []byte, filename string) (*core.Tables, error) {
	text, err := detect.ToUTF8(data)
	if err != nil {
		return nil, pferrors.Wrap(err, pferrors.CodeDecode, "read text").WithContext("format", d.Name())
	}

	sample := text
	if len(sample) > d.sampleSize {
		sample = sample[:d.sampleSize]
	}
	r := csv.NewReader(bytes.NewReader(text))
	r.Comma = rune(detect.DetectDelimiter(sample))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return nil, core.ErrNotRecognized
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols[htsCellCount]; !ok {
		return nil, core.ErrNotRecognized
	}
	if _, ok := cols[htsConc]; !ok {
		return nil, core.ErrNotRecognized
	}

	for name := range cols {
		if n, ok := drugSlot(name); ok && n > 1 {
			return nil, pferrors.Decodef(d.Name(), "column %q: only single-drug wells are supported", name)
		}
	}
	if _, ok := cols[htsPlate]; !ok {
		if i, alt := cols[htsPlateAlt]; alt {
			cols[htsPlate] = i
		}
	}
	for _, required := range []string{htsPlate, htsWell, htsDrug, htsTime} {
		if _, ok := cols[required]; !ok {
			return nil, pferrors.Decodef(d.Name(), "missing required column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []htsRow
	line := 1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, pferrors.Wrap(err, pferrors.CodeDecode, "malformed row").
				WithContext("format", d.Name()).WithContext("line", line)
		}
		if nonEmpty(rec) == 0 {
			continue
		}
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		row, err := d.parseRow(line, field, rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, pferrors.Decode(d.Name(), "table has a header but no rows")
	}

	return d.tables(rows)
}

func (d *HTSDecoder) parseRow(line int, field func([]string, string) string, rec []string) (htsRow, error) {
	fail := func(format string, args ...interface{}) error {
		return pferrors.Decodef(d.Name(), format, args...).WithContext("line", line)
	}

	row := htsRow{
		line:     line,
		plate:    field(rec, htsPlate),
		cellLine: field(rec, htsCellLine),
	}
	if row.plate == "" {
		return row, pferrors.New(pferrors.CodeInvalidPlate, "empty plate name").
			WithContext("format", d.Name()).WithContext("line", line)
	}

	var err error
	row.row, row.col, err = model.ParseWellName(field(rec, htsWell))
	if err != nil {
		return row, fail("%v", err)
	}

	h, err := strconv.ParseFloat(field(rec, htsTime), 64)
	if err != nil || h < 0 || math.IsNaN(h) {
		return row, fail("invalid time %q", field(rec, htsTime))
	}
	row.tp = hours(h)

	drug, conc, units := field(rec, htsDrug), field(rec, htsConc), field(rec, htsUnits)
	if drug != "" && conc != "" && units != "" {
		if !strings.EqualFold(units, "M") {
			return row, fail("unsupported concentration unit %q, expected M", units)
		}
		dose, err := strconv.ParseFloat(conc, 64)
		if err != nil || dose < 0 || math.IsNaN(dose) || math.IsInf(dose, 0) {
			return row, fail("invalid concentration %q", conc)
		}
		row.drugs = []core.DrugDose{{Drug: drug, Dose: dose}}
	}

	row.count = parseReading(field(rec, htsCellCount))
	return row, nil
}

func (d *HTSDecoder) tables(rows []htsRow) (*core.Tables, error) {
	t := core.NewTables(d.Format(), d.Name())

	type extent struct{ rows, cols int }
	extents := make(map[string]*extent)
	for _, r := range rows {
		e, ok := extents[r.plate]
		if !ok {
			e = &extent{}
			extents[r.plate] = e
		}
		if r.row+1 > e.rows {
			e.rows = r.row + 1
		}
		if r.col+1 > e.cols {
			e.cols = r.col + 1
		}
	}
	for plate, e := range extents {
		size, ok := model.SizeForGrid(e.rows, e.cols)
		if !ok {
			return nil, pferrors.Decodef(d.Name(), "plate %q uses %d rows and %d columns, beyond any supported plate size",
				plate, e.rows, e.cols).WithContext("plate", plate)
		}
		t.SetGrid(plate, size.Width, size.Height, e.rows, e.cols)
	}

	type wellKey struct {
		plate string
		well  int
	}
	wells := make(map[wellKey]*htsWellState)
	for _, r := range rows {
		width := t.Dims[r.plate].Width
		key := wellKey{plate: r.plate, well: r.row*width + r.col}
		wellName := model.WellName(key.well, width)

		st, seen := wells[key]
		if !seen {
			st = &htsWellState{cellLine: r.cellLine, drugs: r.drugs}
			wells[key] = st
			t.Doses = append(t.Doses, core.DoseRow{
				Plate:    r.plate,
				Well:     key.well,
				CellLine: r.cellLine,
				Drugs:    r.drugs,
			})
		} else {
			if model.NameKey(st.cellLine) != model.NameKey(r.cellLine) {
				return nil, pferrors.Inconsistent(r.plate, wellName,
					"well has two cell lines: "+st.cellLine+" and "+r.cellLine).WithContext("line", r.line)
			}
			if !sameDrugs(st.drugs, r.drugs) {
				return nil, pferrors.Inconsistent(r.plate, wellName,
					"well changes drug or dose between timepoints").WithContext("line", r.line)
			}
		}

		m := core.MeasurementRow{
			Plate:     r.plate,
			Well:      key.well,
			CellLine:  r.cellLine,
			Assay:     AssayCellCount,
			Timepoint: r.tp,
			Value:     r.count,
		}
		if len(r.drugs) == 0 || r.drugs[0].Dose == 0 {
			t.Controls = append(t.Controls, m)
		} else {
			t.Assays = append(t.Assays, m)
		}
	}
	return t, nil
}

func sameDrugs(a, b []core.DrugDose) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// drugSlot returns N for a "drugN" or "drugN.<field>" column name.
func drugSlot(column string) (int, bool) {
	rest, ok := strings.CutPrefix(column, "drug")
	if !ok {
		return 0, false
	}
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		rest = rest[:i]
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
