package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/plateflow/plateflow/internal/model"
	"github.com/plateflow/plateflow/pkg/ingest/core"
)

// WellRef names a well by plate.
type WellRef struct {
	WellID  int64
	Plate   string
	WellNum int
}

// ControlWells returns wells whose summed dose is zero, including wells
// with no drug rows at all. A drug at dose 0 counts as a control.
func (c *conn) ControlWells(ctx context.Context, datasetID string) ([]WellRef, error) {
	rows, err := c.Query(ctx,
		`SELECT w.id, p.name, w.well_num
		 FROM wells w
		 JOIN plates p ON p.id = w.plate_id
		 LEFT JOIN well_drugs wd ON wd.well_id = w.id
		 WHERE p.dataset_id = ?
		 GROUP BY w.id, p.name, w.well_num
		 HAVING COALESCE(SUM(wd.dose), 0) = 0
		 ORDER BY p.name, w.well_num`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WellRef
	for rows.Next() {
		var r WellRef
		if err := rows.Scan(&r.WellID, &r.Plate, &r.WellNum); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PlateSummary describes one plate of a dataset.
type PlateSummary struct {
	Plate        model.Plate
	Wells        int
	Measurements int
	Assays       int
	Timepoints   int
}

// PlateSummaries returns per-plate counts for a dataset.
func (c *conn) PlateSummaries(ctx context.Context, datasetID string) ([]PlateSummary, error) {
	rows, err := c.Query(ctx,
		`SELECT p.id, p.dataset_id, p.name, p.width, p.height, p.last_annotated,
		        (SELECT COUNT(*) FROM wells w WHERE w.plate_id = p.id),
		        (SELECT COUNT(*) FROM well_measurements m JOIN wells w ON w.id = m.well_id WHERE w.plate_id = p.id),
		        (SELECT COUNT(DISTINCT m.assay) FROM well_measurements m JOIN wells w ON w.id = m.well_id WHERE w.plate_id = p.id),
		        (SELECT COUNT(DISTINCT m.timepoint_s) FROM well_measurements m JOIN wells w ON w.id = m.well_id WHERE w.plate_id = p.id)
		 FROM plates p WHERE p.dataset_id = ? ORDER BY p.name`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlateSummary
	for rows.Next() {
		var (
			s         PlateSummary
			annotated sql.NullTime
		)
		if err := rows.Scan(&s.Plate.ID, &s.Plate.DatasetID, &s.Plate.Name, &s.Plate.Width, &s.Plate.Height,
			&annotated, &s.Wells, &s.Measurements, &s.Assays, &s.Timepoints); err != nil {
			return nil, err
		}
		if annotated.Valid {
			t := annotated.Time
			s.Plate.LastAnnotated = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Measurements returns every reading of a dataset as decoder-shaped rows,
// ordered by plate, well, assay and timepoint.
func (c *conn) Measurements(ctx context.Context, datasetID string) ([]core.MeasurementRow, error) {
	rows, err := c.Query(ctx,
		`SELECT p.name, w.well_num, COALESCE(cl.name, ''), m.assay, m.timepoint_s, m.value
		 FROM well_measurements m
		 JOIN wells w ON w.id = m.well_id
		 JOIN plates p ON p.id = w.plate_id
		 LEFT JOIN cell_lines cl ON cl.id = w.cell_line_id
		 WHERE p.dataset_id = ?
		 ORDER BY p.name, w.well_num, m.assay, m.timepoint_s`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.MeasurementRow
	for rows.Next() {
		var (
			m     core.MeasurementRow
			secs  int64
			value sql.NullFloat64
		)
		if err := rows.Scan(&m.Plate, &m.Well, &m.CellLine, &m.Assay, &secs, &value); err != nil {
			return nil, err
		}
		m.Timepoint = time.Duration(secs) * time.Second
		if value.Valid {
			m.Value = model.Float(value.Float64)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// WellDoses returns one row per well that has a cell line or drugs, with
// drugs in order.
func (c *conn) WellDoses(ctx context.Context, datasetID string) ([]core.DoseRow, error) {
	rows, err := c.Query(ctx,
		`SELECT w.id, p.name, w.well_num, COALESCE(cl.name, ''), d.name, wd.dose
		 FROM wells w
		 JOIN plates p ON p.id = w.plate_id
		 LEFT JOIN cell_lines cl ON cl.id = w.cell_line_id
		 LEFT JOIN well_drugs wd ON wd.well_id = w.id
		 LEFT JOIN drugs d ON d.id = wd.drug_id
		 WHERE p.dataset_id = ? AND (w.cell_line_id IS NOT NULL OR wd.well_id IS NOT NULL)
		 ORDER BY p.name, w.well_num, wd.ord`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out    []core.DoseRow
		lastID int64 = -1
	)
	for rows.Next() {
		var (
			wellID int64
			r      core.DoseRow
			drug   sql.NullString
			dose   sql.NullFloat64
		)
		if err := rows.Scan(&wellID, &r.Plate, &r.Well, &r.CellLine, &drug, &dose); err != nil {
			return nil, err
		}
		if wellID != lastID {
			out = append(out, r)
			lastID = wellID
		}
		if drug.Valid {
			cur := &out[len(out)-1]
			cur.Drugs = append(cur.Drugs, core.DrugDose{Drug: drug.String, Dose: dose.Float64})
		}
	}
	return out, rows.Err()
}
