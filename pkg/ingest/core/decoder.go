package core

import (
	"context"
	"errors"
)

// ErrNotRecognized is returned by a decoder that does not claim the input.
// Callers move on to the next candidate; any other error is final.
var ErrNotRecognized = errors.New("format not recognized by decoder")

// Decoder converts one raw plate-file format into normalized tables.
// Decoders never touch persistent storage.
type Decoder interface {
	// Name identifies the decoder (dialect) in logs and results.
	Name() string

	// Format returns the coarse format family this decoder belongs to.
	Format() Format

	// Decode parses data. filename is used for timepoint inference
	// by formats that carry no internal timepoint.
	Decode(ctx context.Context, data []byte, filename string) (*Tables, error)
}
