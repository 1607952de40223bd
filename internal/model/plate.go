package model

import (
	"fmt"
	"strconv"
	"strings"
)

// PlateSize is a well-grid shape.
type PlateSize struct {
	Width  int
	Height int
}

// Wells returns the number of wells in the grid.
func (s PlateSize) Wells() int {
	return s.Width * s.Height
}

func (s PlateSize) String() string {
	return fmt.Sprintf("%dx%d", s.Height, s.Width)
}

// StandardSizes lists supported plate sizes in ascending order.
var StandardSizes = []PlateSize{
	{Width: 3, Height: 2},
	{Width: 4, Height: 3},
	{Width: 6, Height: 4},
	{Width: 8, Height: 6},
	{Width: 12, Height: 8},
	{Width: 24, Height: 16},
	{Width: 48, Height: 32},
}

// SizeForWells returns the smallest standard size holding at least n wells.
func SizeForWells(n int) (PlateSize, bool) {
	for _, s := range StandardSizes {
		if s.Wells() >= n {
			return s, true
		}
	}
	return PlateSize{}, false
}

// SizeForGrid returns the smallest standard size with at least rows x cols.
func SizeForGrid(rows, cols int) (PlateSize, bool) {
	for _, s := range StandardSizes {
		if s.Height >= rows && s.Width >= cols {
			return s, true
		}
	}
	return PlateSize{}, false
}

// IsStandard reports whether width x height is a supported plate size.
func IsStandard(width, height int) bool {
	for _, s := range StandardSizes {
		if s.Width == width && s.Height == height {
			return true
		}
	}
	return false
}

// RowLabel returns the letter label of a zero-based row: A..Z, AA..AZ, ...
func RowLabel(row int) string {
	var b []byte
	for n := row + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

// ParseRowLabel converts a letter label to a zero-based row.
func ParseRowLabel(label string) (int, error) {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == "" {
		return 0, fmt.Errorf("empty row label")
	}
	n := 0
	for _, c := range label {
		if c < 'A' || c > 'Z' {
			return 0, fmt.Errorf("invalid row label %q", label)
		}
		n = n*26 + int(c-'A'+1)
	}
	return n - 1, nil
}

// WellName formats a zero-based well number on a plate of the given width, e.g. "B3".
func WellName(wellNum, width int) string {
	return RowLabel(wellNum/width) + strconv.Itoa(wellNum%width+1)
}

// ParseWellName splits a name such as "B03" into a zero-based row and column.
func ParseWellName(name string) (row, col int, err error) {
	name = strings.TrimSpace(name)
	i := 0
	for i < len(name) && (name[i] < '0' || name[i] > '9') {
		i++
	}
	if i == 0 || i == len(name) {
		return 0, 0, fmt.Errorf("invalid well name %q", name)
	}
	row, err = ParseRowLabel(name[:i])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid well name %q: %w", name, err)
	}
	c, err := strconv.Atoi(name[i:])
	if err != nil || c < 1 {
		return 0, 0, fmt.Errorf("invalid well name %q", name)
	}
	return row, c - 1, nil
}
