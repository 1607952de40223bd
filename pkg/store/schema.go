package store

import (
	"context"
	"fmt"
)

// tables with generated integer ids, in creation order.
var sequenced = []string{"cell_lines", "drugs", "plates", "wells", "well_drugs", "well_measurements"}

// migrations returns the DDL for d. Every statement is idempotent.
func migrations(d *Dialect) []string {
	var stmts []string
	if d.Name == DriverDuckDB {
		for _, t := range sequenced {
			stmts = append(stmts, "CREATE SEQUENCE IF NOT EXISTS seq_"+t+" START 1")
		}
	}

	ts, dbl := d.timestamp(), d.float()
	stmts = append(stmts,
		// Datasets
		`CREATE TABLE IF NOT EXISTS datasets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			owner TEXT NOT NULL DEFAULT '',
			created_at `+ts+` NOT NULL,
			deleted_at `+ts+`
		)`,

		// Catalog
		`CREATE TABLE IF NOT EXISTS cell_lines (
			`+d.idColumn("cell_lines")+`,
			name TEXT NOT NULL,
			name_key TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS drugs (
			`+d.idColumn("drugs")+`,
			name TEXT NOT NULL,
			name_key TEXT NOT NULL UNIQUE
		)`,

		// Plates and wells
		`CREATE TABLE IF NOT EXISTS plates (
			`+d.idColumn("plates")+`,
			dataset_id TEXT NOT NULL`+d.ref("datasets", true)+`,
			name TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			last_annotated `+ts+`,
			UNIQUE (dataset_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS wells (
			`+d.idColumn("wells")+`,
			plate_id BIGINT NOT NULL`+d.ref("plates", true)+`,
			well_num INTEGER NOT NULL,
			cell_line_id BIGINT`+d.ref("cell_lines", false)+`,
			UNIQUE (plate_id, well_num)
		)`,
		`CREATE TABLE IF NOT EXISTS well_drugs (
			`+d.idColumn("well_drugs")+`,
			well_id BIGINT NOT NULL`+d.ref("wells", true)+`,
			drug_id BIGINT NOT NULL`+d.ref("drugs", false)+`,
			ord INTEGER NOT NULL,
			dose `+dbl+` NOT NULL,
			UNIQUE (well_id, drug_id),
			UNIQUE (well_id, ord)
		)`,
		`CREATE TABLE IF NOT EXISTS well_measurements (
			`+d.idColumn("well_measurements")+`,
			well_id BIGINT NOT NULL`+d.ref("wells", true)+`,
			assay TEXT NOT NULL,
			timepoint_s BIGINT NOT NULL,
			value `+dbl+`,
			UNIQUE (well_id, assay, timepoint_s)
		)`,

		// Upload log
		`CREATE TABLE IF NOT EXISTS plate_files (
			id TEXT PRIMARY KEY,
			dataset_id TEXT NOT NULL`+d.ref("datasets", true)+`,
			file_name TEXT NOT NULL,
			file_format TEXT NOT NULL,
			uploaded_at `+ts+` NOT NULL
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_plates_dataset ON plates(dataset_id)`,
		`CREATE INDEX IF NOT EXISTS idx_well_drugs_drug ON well_drugs(drug_id)`,
		`CREATE INDEX IF NOT EXISTS idx_wells_cell_line ON wells(cell_line_id)`,
		`CREATE INDEX IF NOT EXISTS idx_plate_files_dataset ON plate_files(dataset_id)`,
	)
	return stmts
}

// migrate runs database migrations.
func (s *Store) migrate(ctx context.Context) error {
	for _, migration := range migrations(s.dialect) {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
