package decoders

import (
	"bytes"
	"context"

	"github.com/xuri/excelize/v2"

	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/ingest/core"
	"github.com/plateflow/plateflow/pkg/ingest/detect"
)

// SpreadsheetDecoder reads single-worksheet xlsx plate exports.
type SpreadsheetDecoder struct{}

// NewSpreadsheetDecoder creates an xlsx decoder.
func NewSpreadsheetDecoder() *SpreadsheetDecoder {
	return &SpreadsheetDecoder{}
}

func (d *SpreadsheetDecoder) Name() string { return detect.DecoderSpreadsheet }

func (d *SpreadsheetDecoder) Format() core.Format { return core.FormatSpreadsheet }

// Decode reads the only worksheet through the shared grid interpreter.
// Cells are read raw so number formats never change a reading.
func (d *SpreadsheetDecoder) Decode(ctx context.Context, data []byte, filename string) (*core.Tables, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, core.ErrNotRecognized
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 1 {
		return nil, pferrors.Decodef(d.Name(), "workbook has %d worksheets, expected exactly one", len(sheets))
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, pferrors.Wrapf(err, pferrors.CodeDecode, "read worksheet %q", sheets[0]).
			WithContext("format", d.Name())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g := newGridReader(d.Name())
	if err := g.read(rows); err != nil {
		return nil, err
	}
	if !g.found() {
		return nil, core.ErrNotRecognized
	}

	t := core.NewTables(d.Format(), d.Name())
	if err := g.tables(t, filename); err != nil {
		return nil, err
	}
	return t, nil
}
