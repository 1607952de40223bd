// Package detect classifies plate files into a format family and orders the
// decoders worth trying.
package detect

import (
	"github.com/plateflow/plateflow/pkg/ingest/core"
)

// DefaultSampleSize is the number of leading bytes inspected.
const DefaultSampleSize = 1024

// Decoder names, in the order they are registered.
const (
	DecoderHTS         = "hts"
	DecoderBlock       = "block"
	DecoderSpreadsheet = "spreadsheet"
	DecoderContainer   = "container"
)

// Detection is the result of classifying one file.
type Detection struct {
	Format   core.Format
	MIME     string
	Encoding Encoding

	// ByExtension is true when the extension table decided the format.
	ByExtension bool

	// Candidates lists decoder names to try, most likely first.
	Candidates []string
}

// Detector inspects a file's name and leading bytes.
type Detector struct {
	sampleSize int
}

// NewDetector creates a new detector.
func NewDetector() *Detector {
	return &Detector{
		sampleSize: DefaultSampleSize,
	}
}

// WithSampleSize overrides the number of bytes sniffed.
func (d *Detector) WithSampleSize(n int) *Detector {
	if n > 0 {
		d.sampleSize = n
	}
	return d
}

// Detect classifies data. The extension table wins; MIME sniffing is the
// fallback for unknown extensions.
func (d *Detector) Detect(filename string, data []byte) *Detection {
	sample := data
	if len(sample) > d.sampleSize {
		sample = sample[:d.sampleSize]
	}

	det := &Detection{
		MIME:     sniffMIME(sample),
		Encoding: detectEncoding(sample),
	}

	if f := formatFromExtension(filename); f != core.FormatUnknown {
		det.Format = f
		det.ByExtension = true
	} else {
		det.Format = mimeFormats[det.MIME]
	}

	switch det.Format {
	case core.FormatInstrumentText:
		text := sample
		if t, err := ToUTF8(sample); err == nil {
			text = t
		}
		if hasHTSMarkers(text) {
			det.Candidates = []string{DecoderHTS, DecoderBlock}
		} else {
			det.Candidates = []string{DecoderBlock, DecoderHTS}
		}
	case core.FormatSpreadsheet:
		det.Candidates = []string{DecoderSpreadsheet}
	case core.FormatContainer:
		det.Candidates = []string{DecoderContainer}
	}

	return det
}
