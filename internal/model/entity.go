// Package model defines core data structures for plateflow.
package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// NameKey normalizes a cell line or drug name for comparison: trimmed,
// inner whitespace collapsed and Unicode case folded.
func NameKey(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}

// Dataset is a named collection of plates owned by a user.
// Deletion is a tombstone: DeletedAt is set and the rows stay.
type Dataset struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Owner     string     `json:"owner"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the dataset has been soft-deleted.
func (d *Dataset) Deleted() bool {
	return d.DeletedAt != nil
}

// Plate belongs to exactly one dataset. Width and Height are fixed at creation.
type Plate struct {
	ID            int64      `json:"id"`
	DatasetID     string     `json:"dataset_id"`
	Name          string     `json:"name"`
	Width         int        `json:"width"`
	Height        int        `json:"height"`
	LastAnnotated *time.Time `json:"last_annotated,omitempty"`
}

// NumWells returns the number of wells on the plate.
func (p *Plate) NumWells() int {
	return p.Width * p.Height
}

// Well is one address on a plate. WellNum is zero-based, row-major.
type Well struct {
	ID         int64  `json:"id"`
	PlateID    int64  `json:"plate_id"`
	WellNum    int    `json:"well_num"`
	CellLineID *int64 `json:"cell_line_id,omitempty"`
}

// CellLine is a dataset-independent catalog entry.
type CellLine struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Drug is a dataset-independent catalog entry.
type Drug struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// WellDrug attaches one drug at one dose to a well. Order is dense and zero-based per well.
type WellDrug struct {
	WellID int64   `json:"well_id"`
	DrugID int64   `json:"drug_id"`
	Order  int     `json:"order"`
	Dose   float64 `json:"dose"`
}

// WellMeasurement is one assay reading of a well at one timepoint.
// A nil Value means "not measured", which is distinct from zero.
type WellMeasurement struct {
	WellID    int64         `json:"well_id"`
	Assay     string        `json:"assay"`
	Timepoint time.Duration `json:"timepoint"`
	Value     *float64      `json:"value,omitempty"`
}

// PlateFile records one successfully ingested file.
type PlateFile struct {
	ID         string    `json:"id"`
	DatasetID  string    `json:"dataset_id"`
	FileName   string    `json:"file_name"`
	FileFormat string    `json:"file_format"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
