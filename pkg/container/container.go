// Package container reads and writes the plateflow structured container:
// an Arrow IPC stream holding dose, assay and control tables in one
// long-format schema.
//
// Every row carries a "table" discriminator. Dose rows have one row per drug
// slot (drug_slot is the zero-based order); a well with a cell line but no
// drug is a single row with null drug columns. Assay and control rows carry
// assay, timepoint_s and a nullable value.
package container

import (
	"errors"

	"github.com/apache/arrow/go/v14/arrow"
)

// Marker is the schema metadata key identifying a container. The value is
// the layout version.
const (
	Marker  = "plateflow.container"
	Version = "1"
)

// Table discriminator values.
const (
	TableDoses    = "doses"
	TableAssays   = "assays"
	TableControls = "controls"
)

// Column names.
const (
	ColTable      = "table"
	ColPlate      = "plate"
	ColWell       = "well"
	ColCellLine   = "cell_line"
	ColDrugSlot   = "drug_slot"
	ColDrug       = "drug"
	ColDose       = "dose"
	ColAssay      = "assay"
	ColTimepointS = "timepoint_s"
	ColValue      = "value"
)

// ErrNotContainer is returned when a stream lacks the container marker.
var ErrNotContainer = errors.New("not a plateflow container")

// Schema returns the container schema with its marker metadata.
func Schema() *arrow.Schema {
	md := arrow.NewMetadata([]string{Marker}, []string{Version})
	return arrow.NewSchema([]arrow.Field{
		{Name: ColTable, Type: arrow.BinaryTypes.String},
		{Name: ColPlate, Type: arrow.BinaryTypes.String},
		{Name: ColWell, Type: arrow.PrimitiveTypes.Int32},
		{Name: ColCellLine, Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: ColDrugSlot, Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		{Name: ColDrug, Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: ColDose, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: ColAssay, Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: ColTimepointS, Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: ColValue, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, &md)
}
