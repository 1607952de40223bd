package decoders

import (
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	pferrors "github.com/plateflow/plateflow/pkg/errors"
)

var (
	// PlateA-24h, PlateA-1.5h, PlateA-72H
	barcodeTimepoint = regexp.MustCompile(`^(.+?)-(\d+(?:\.\d+)?)\s*[hH]$`)

	// assay_24h.txt, run-48h_plate3.xlsx
	filenameTimepoint = regexp.MustCompile(`(?i)[_-](\d+(?:\.\d+)?)h(?:[^a-z0-9]|$)`)
)

// hours converts fractional hours to a duration rounded to whole seconds.
func hours(h float64) time.Duration {
	return time.Duration(math.Round(h*3600)) * time.Second
}

// splitBarcode parses "<plate>-<N>h".
func splitBarcode(barcode string) (plate string, tp time.Duration, ok bool) {
	m := barcodeTimepoint.FindStringSubmatch(strings.TrimSpace(barcode))
	if m == nil {
		return "", 0, false
	}
	h, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return "", 0, false
	}
	return strings.TrimSpace(m[1]), hours(h), true
}

// filenameHours finds an "_<N>h" or "-<N>h" token in a file name.
func filenameHours(name string) (time.Duration, bool) {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	m := filenameTimepoint.FindStringSubmatch(base)
	if m == nil {
		return 0, false
	}
	h, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return hours(h), true
}

// plateTimepoint resolves the plate name and timepoint of one block.
// The barcode wins over the plate name; the filename supplies the
// timepoint when the barcode has none.
func plateTimepoint(decoder, barcode, plateName, filename string) (string, time.Duration, error) {
	if barcode != "" {
		if plate, tp, ok := splitBarcode(barcode); ok {
			return plate, tp, nil
		}
	}

	plate := barcode
	if plate == "" {
		plate = plateName
	}
	if plate == "" {
		return "", 0, pferrors.New(pferrors.CodeInvalidPlate, "block has neither a barcode nor a plate name").
			WithContext("format", decoder)
	}

	tp, ok := filenameHours(filename)
	if !ok {
		return "", 0, pferrors.Decodef(decoder,
			"no timepoint in barcode %q or file name %q", barcode, filepath.Base(filename))
	}
	return plate, tp, nil
}
