package decoders

import (
	"bytes"
	"context"
	"strings"

	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/ingest/core"
	"github.com/plateflow/plateflow/pkg/ingest/detect"
)

// BlockDecoder reads plate-reader text exports made of Barcode blocks, each
// holding one lettered grid per assay.
type BlockDecoder struct{}

// NewBlockDecoder creates a block text decoder.
func NewBlockDecoder() *BlockDecoder {
	return &BlockDecoder{}
}

func (d *BlockDecoder) Name() string { return detect.DecoderBlock }

func (d *BlockDecoder) Format() core.Format { return core.FormatInstrumentText }

// Decode parses tab-separated lines into assay tables.
func (d *BlockDecoder) Decode(ctx context.Context, data []byte, filename string) (*core.Tables, error) {
	text, err := detect.ToUTF8(data)
	if err != nil {
		return nil, pferrors.Wrap(err, pferrors.CodeDecode, "read text").WithContext("format", d.Name())
	}
	if !looksLikeBlocks(text) {
		return nil, core.ErrNotRecognized
	}

	lines := strings.Split(strings.ReplaceAll(string(text), "\r\n", "\n"), "\n")
	rows := make([][]string, len(lines))
	for i, l := range lines {
		rows[i] = strings.Split(strings.TrimRight(l, "\r"), "\t")
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

// looksLikeBlocks requires a Barcode line or a numbered grid header before
// the grid reader is run.
func looksLikeBlocks(text []byte) bool {
	for _, line := range bytes.Split(text, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) >= 8 && strings.EqualFold(string(line[:8]), "barcode:") {
			return true
		}
		if bytes.HasPrefix(line, []byte("1\t2\t")) {
			return true
		}
	}
	return false
}
