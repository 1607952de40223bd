package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/plateflow/plateflow/internal/model"
)

// --- Plates ---

// Plates returns every plate of a dataset, by name.
func (c *conn) Plates(ctx context.Context, datasetID string) ([]model.Plate, error) {
	rows, err := c.Query(ctx,
		`SELECT id, dataset_id, name, width, height, last_annotated FROM plates
		 WHERE dataset_id = ? ORDER BY name`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Plate
	for rows.Next() {
		p, err := scanPlate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// PlateByName returns one plate or sql.ErrNoRows.
func (c *conn) PlateByName(ctx context.Context, datasetID, name string) (*model.Plate, error) {
	return scanPlate(c.QueryRow(ctx,
		`SELECT id, dataset_id, name, width, height, last_annotated FROM plates
		 WHERE dataset_id = ? AND name = ?`, datasetID, name))
}

func scanPlate(row scanner) (*model.Plate, error) {
	var (
		p         model.Plate
		annotated sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.DatasetID, &p.Name, &p.Width, &p.Height, &annotated); err != nil {
		return nil, err
	}
	if annotated.Valid {
		t := annotated.Time
		p.LastAnnotated = &t
	}
	return &p, nil
}

// InsertPlate creates a plate and sets its ID.
func (c *conn) InsertPlate(ctx context.Context, p *model.Plate) error {
	ins := insertSpec{
		table:     "plates",
		columns:   []string{"dataset_id", "name", "width", "height"},
		returning: []string{"id"},
	}
	row := []any{p.DatasetID, p.Name, p.Width, p.Height}

	var id int64
	err := c.bulkInsert(ctx, ins, [][]any{row}, func(r *sql.Rows) error {
		return r.Scan(&id)
	})
	if err != nil {
		return err
	}
	if !c.returning {
		if err := c.QueryRow(ctx, `SELECT id FROM plates WHERE dataset_id = ? AND name = ?`,
			p.DatasetID, p.Name).Scan(&id); err != nil {
			return fmt.Errorf("re-query plate id: %w", err)
		}
	}
	p.ID = id
	return nil
}

// SetPlateAnnotated stamps a plate's last plate-map change.
func (c *conn) SetPlateAnnotated(ctx context.Context, plateID int64, at time.Time) error {
	_, err := c.Exec(ctx, `UPDATE plates SET last_annotated = ? WHERE id = ?`, at, plateID)
	return err
}

// --- Wells ---

// DatasetWells returns every well of a dataset.
func (c *conn) DatasetWells(ctx context.Context, datasetID string) ([]model.Well, error) {
	rows, err := c.Query(ctx,
		`SELECT w.id, w.plate_id, w.well_num, w.cell_line_id
		 FROM wells w JOIN plates p ON p.id = w.plate_id
		 WHERE p.dataset_id = ? ORDER BY w.plate_id, w.well_num`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWells(rows)
}

// PlateWells returns the wells of one plate.
func (c *conn) PlateWells(ctx context.Context, plateID int64) ([]model.Well, error) {
	rows, err := c.Query(ctx,
		`SELECT id, plate_id, well_num, cell_line_id FROM wells WHERE plate_id = ? ORDER BY well_num`, plateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWells(rows)
}

func scanWells(rows *sql.Rows) ([]model.Well, error) {
	var out []model.Well
	for rows.Next() {
		var (
			w  model.Well
			cl sql.NullInt64
		)
		if err := rows.Scan(&w.ID, &w.PlateID, &w.WellNum, &cl); err != nil {
			return nil, err
		}
		if cl.Valid {
			id := cl.Int64
			w.CellLineID = &id
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// WellKey addresses a well by plate and index.
type WellKey struct {
	PlateID int64
	WellNum int
}

// InsertWells bulk-inserts wells and returns their generated ids. Ids come
// from RETURNING when the store supports it and from a re-query otherwise.
func (c *conn) InsertWells(ctx context.Context, wells []model.Well) (map[WellKey]int64, error) {
	ids := make(map[WellKey]int64, len(wells))
	if len(wells) == 0 {
		return ids, nil
	}

	ins := insertSpec{
		table:     "wells",
		columns:   []string{"plate_id", "well_num", "cell_line_id"},
		returning: []string{"id", "plate_id", "well_num"},
	}
	rows := make([][]any, len(wells))
	for i, w := range wells {
		var cl any
		if w.CellLineID != nil {
			cl = *w.CellLineID
		}
		rows[i] = []any{w.PlateID, w.WellNum, cl}
	}

	err := c.bulkInsert(ctx, ins, rows, func(r *sql.Rows) error {
		var (
			id  int64
			key WellKey
		)
		if err := r.Scan(&id, &key.PlateID, &key.WellNum); err != nil {
			return err
		}
		ids[key] = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	if c.returning {
		return ids, nil
	}

	// Re-query per plate for the ids just assigned.
	want := make(map[int64]map[int]bool)
	for _, w := range wells {
		if want[w.PlateID] == nil {
			want[w.PlateID] = make(map[int]bool)
		}
		want[w.PlateID][w.WellNum] = true
	}
	plates := make([]int64, 0, len(want))
	for p := range want {
		plates = append(plates, p)
	}
	sort.Slice(plates, func(i, j int) bool { return plates[i] < plates[j] })

	for _, plateID := range plates {
		got, err := c.PlateWells(ctx, plateID)
		if err != nil {
			return nil, fmt.Errorf("re-query well ids: %w", err)
		}
		for _, w := range got {
			if want[plateID][w.WellNum] {
				ids[WellKey{PlateID: plateID, WellNum: w.WellNum}] = w.ID
			}
		}
	}
	return ids, nil
}

// SetWellCellLine assigns a cell line to a well.
func (c *conn) SetWellCellLine(ctx context.Context, wellID int64, cellLineID *int64) error {
	var cl any
	if cellLineID != nil {
		cl = *cellLineID
	}
	_, err := c.Exec(ctx, `UPDATE wells SET cell_line_id = ? WHERE id = ?`, cl, wellID)
	return err
}

// --- Drug Assignments ---

// WellDrugs returns the drug assignments of the given wells, ordered.
func (c *conn) WellDrugs(ctx context.Context, wellIDs []int64) (map[int64][]model.WellDrug, error) {
	out := make(map[int64][]model.WellDrug)
	per := c.chunkRows(1)
	for start := 0; start < len(wellIDs); start += per {
		end := start + per
		if end > len(wellIDs) {
			end = len(wellIDs)
		}
		batch := wellIDs[start:end]
		rows, err := c.Query(ctx,
			`SELECT well_id, drug_id, ord, dose FROM well_drugs
			 WHERE well_id IN (`+placeholders(len(batch))+`) ORDER BY well_id, ord`, int64Args(batch)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var wd model.WellDrug
			if err := rows.Scan(&wd.WellID, &wd.DrugID, &wd.Order, &wd.Dose); err != nil {
				rows.Close()
				return nil, err
			}
			out[wd.WellID] = append(out[wd.WellID], wd)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// InsertWellDrugs bulk-inserts drug assignments.
func (c *conn) InsertWellDrugs(ctx context.Context, drugs []model.WellDrug) error {
	rows := make([][]any, len(drugs))
	for i, d := range drugs {
		rows[i] = []any{d.WellID, d.DrugID, d.Order, d.Dose}
	}
	return c.bulkInsert(ctx, insertSpec{
		table:   "well_drugs",
		columns: []string{"well_id", "drug_id", "ord", "dose"},
	}, rows, nil)
}

// DeleteWellDrugs removes every drug assignment of the given wells.
func (c *conn) DeleteWellDrugs(ctx context.Context, wellIDs []int64) error {
	per := c.chunkRows(1)
	for start := 0; start < len(wellIDs); start += per {
		end := start + per
		if end > len(wellIDs) {
			end = len(wellIDs)
		}
		batch := wellIDs[start:end]
		if _, err := c.Exec(ctx,
			`DELETE FROM well_drugs WHERE well_id IN (`+placeholders(len(batch))+`)`, int64Args(batch)...); err != nil {
			return err
		}
	}
	return nil
}

// --- Measurements ---

// InsertMeasurements bulk-inserts readings. A reading that already exists
// for (well, assay, timepoint) fails with ErrUniqueViolation.
func (c *conn) InsertMeasurements(ctx context.Context, ms []model.WellMeasurement) error {
	rows := make([][]any, len(ms))
	for i, m := range ms {
		var v any
		if m.Value != nil {
			v = *m.Value
		}
		rows[i] = []any{m.WellID, m.Assay, int64(m.Timepoint / time.Second), v}
	}
	return c.bulkInsert(ctx, insertSpec{
		table:   "well_measurements",
		columns: []string{"well_id", "assay", "timepoint_s", "value"},
	}, rows, nil)
}
