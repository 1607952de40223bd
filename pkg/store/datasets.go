package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/plateflow/plateflow/internal/model"
	pferrors "github.com/plateflow/plateflow/pkg/errors"
)

// --- Dataset Operations ---

// CreateDataset inserts a dataset with a fresh id.
func (c *conn) CreateDataset(ctx context.Context, name, owner string) (*model.Dataset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("dataset name is required")
	}
	ds := &model.Dataset{
		ID:        uuid.NewString(),
		Name:      name,
		Owner:     owner,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := c.Exec(ctx,
		`INSERT INTO datasets (id, name, owner, created_at) VALUES (?, ?, ?, ?)`,
		ds.ID, ds.Name, ds.Owner, ds.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert dataset: %w", err)
	}
	return ds, nil
}

// GetDataset returns a dataset, including soft-deleted ones.
func (c *conn) GetDataset(ctx context.Context, id string) (*model.Dataset, error) {
	row := c.QueryRow(ctx,
		`SELECT id, name, owner, created_at, deleted_at FROM datasets WHERE id = ?`, id)
	ds, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pferrors.Newf(pferrors.CodeNotFound, "dataset %s not found", id).WithContext("dataset", id)
	}
	return ds, err
}

// ListDatasets returns datasets by creation time. Soft-deleted datasets
// are included only when includeDeleted is set.
func (c *conn) ListDatasets(ctx context.Context, includeDeleted bool) ([]*model.Dataset, error) {
	query := `SELECT id, name, owner, created_at, deleted_at FROM datasets`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY created_at, id`

	rows, err := c.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// DeleteDataset sets the tombstone. Rows stay in place.
func (c *conn) DeleteDataset(ctx context.Context, id string) error {
	res, err := c.Exec(ctx,
		`UPDATE datasets SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return expectOne(res, id)
}

// RenameDataset changes the display name of a live dataset.
func (c *conn) RenameDataset(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("dataset name is required")
	}
	res, err := c.Exec(ctx,
		`UPDATE datasets SET name = ? WHERE id = ? AND deleted_at IS NULL`, name, id)
	if err != nil {
		return err
	}
	return expectOne(res, id)
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return pferrors.Newf(pferrors.CodeNotFound, "dataset %s not found", id).WithContext("dataset", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDataset(row scanner) (*model.Dataset, error) {
	var (
		ds      model.Dataset
		deleted sql.NullTime
	)
	if err := row.Scan(&ds.ID, &ds.Name, &ds.Owner, &ds.CreatedAt, &deleted); err != nil {
		return nil, err
	}
	if deleted.Valid {
		t := deleted.Time
		ds.DeletedAt = &t
	}
	return &ds, nil
}

// --- Plate File Log ---

// InsertPlateFile records a successfully ingested file.
func (c *conn) InsertPlateFile(ctx context.Context, f *model.PlateFile) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.UploadedAt.IsZero() {
		f.UploadedAt = time.Now().UTC()
	}
	_, err := c.Exec(ctx,
		`INSERT INTO plate_files (id, dataset_id, file_name, file_format, uploaded_at) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.DatasetID, f.FileName, f.FileFormat, f.UploadedAt)
	return err
}

// PlateFiles lists files ingested into a dataset, oldest first.
func (c *conn) PlateFiles(ctx context.Context, datasetID string) ([]model.PlateFile, error) {
	rows, err := c.Query(ctx,
		`SELECT id, dataset_id, file_name, file_format, uploaded_at FROM plate_files
		 WHERE dataset_id = ? ORDER BY uploaded_at, id`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PlateFile
	for rows.Next() {
		var f model.PlateFile
		if err := rows.Scan(&f.ID, &f.DatasetID, &f.FileName, &f.FileFormat, &f.UploadedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
