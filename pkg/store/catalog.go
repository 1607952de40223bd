package store

import (
	"context"
	"fmt"
)

// CatalogTable names a catalog table.
type CatalogTable string

// Catalog tables.
const (
	CellLines CatalogTable = "cell_lines"
	Drugs     CatalogTable = "drugs"
)

// CatalogEntry is one catalog row.
type CatalogEntry struct {
	ID   int64
	Name string
	Key  string
}

// EnsureCatalog inserts entries whose key is not yet present, keeping the
// stored name of existing rows, and returns key -> id for every entry.
// The insert and the lookup run on the same connection so a concurrent
// creator of the same key resolves to the same row.
func (c *conn) EnsureCatalog(ctx context.Context, table CatalogTable, entries []CatalogEntry) (map[string]int64, error) {
	ids := make(map[string]int64, len(entries))
	if len(entries) == 0 {
		return ids, nil
	}

	seen := make(map[string]bool, len(entries))
	rows := make([][]any, 0, len(entries))
	keys := make([]any, 0, len(entries))
	for _, e := range entries {
		if seen[e.Key] {
			continue
		}
		seen[e.Key] = true
		rows = append(rows, []any{e.Name, e.Key})
		keys = append(keys, e.Key)
	}

	err := c.bulkInsert(ctx, insertSpec{
		table:      string(table),
		columns:    []string{"name", "name_key"},
		onConflict: "(name_key) DO NOTHING",
	}, rows, nil)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", table, err)
	}

	per := c.chunkRows(1)
	for start := 0; start < len(keys); start += per {
		end := start + per
		if end > len(keys) {
			end = len(keys)
		}
		res, err := c.Query(ctx,
			`SELECT id, name_key FROM `+string(table)+` WHERE name_key IN (`+placeholders(end-start)+`)`,
			keys[start:end]...)
		if err != nil {
			return nil, err
		}
		for res.Next() {
			var (
				id  int64
				key string
			)
			if err := res.Scan(&id, &key); err != nil {
				res.Close()
				return nil, err
			}
			ids[key] = id
		}
		err = res.Err()
		res.Close()
		if err != nil {
			return nil, err
		}
	}

	for key := range seen {
		if _, ok := ids[key]; !ok {
			return nil, fmt.Errorf("%s: key %q missing after upsert", table, key)
		}
	}
	return ids, nil
}

// CatalogEntries lists a catalog table by id.
func (c *conn) CatalogEntries(ctx context.Context, table CatalogTable) ([]CatalogEntry, error) {
	rows, err := c.Query(ctx, `SELECT id, name, name_key FROM `+string(table)+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CatalogEntry
	for rows.Next() {
		var e CatalogEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Key); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CatalogNames returns id -> name for a catalog table.
func (c *conn) CatalogNames(ctx context.Context, table CatalogTable) (map[int64]string, error) {
	entries, err := c.CatalogEntries(ctx, table)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(entries))
	for _, e := range entries {
		names[e.ID] = e.Name
	}
	return names, nil
}
