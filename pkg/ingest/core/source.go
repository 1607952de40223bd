// Package core provides the fundamental abstractions for the ingestion pipeline.
package core

import (
	"context"
	"io"
)

// Format represents the detected plate-file format family.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatInstrumentText
	FormatSpreadsheet
	FormatContainer
)

var formatNames = []string{"unknown", "instrument-text", "spreadsheet", "structured-container"}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return "unknown"
}

// ParseFormat converts a wire name back to a Format.
func ParseFormat(s string) Format {
	for i, n := range formatNames {
		if n == s {
			return Format(i)
		}
	}
	return FormatUnknown
}

// Source represents a plate file to ingest.
type Source interface {
	// Name returns the original file name (used for timepoint inference).
	Name() string

	// Location returns the source location (path, URL, etc.).
	Location() string

	// Size returns the size in bytes, or -1 if unknown.
	Size() int64

	// Open returns a reader for the source content.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// ReadAll opens a source and reads its full content.
func ReadAll(ctx context.Context, src Source) ([]byte, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
