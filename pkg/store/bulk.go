package store

import (
	"context"
	"database/sql"
	"strings"
)

// insertSpec describes one multi-row INSERT.
type insertSpec struct {
	table      string
	columns    []string
	onConflict string   // e.g. "(name_key) DO NOTHING"
	returning  []string // columns scanned back when RETURNING is used
}

// chunkRows bounds rows per statement by the configured chunk and the
// dialect's parameter limit.
func (c *conn) chunkRows(columns int) int {
	n := c.chunk
	if limit := c.dialect.maxParams / columns; n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (ins insertSpec) statement(rows int, returning bool) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(ins.table)
	b.WriteString(" (")
	b.WriteString(strings.Join(ins.columns, ", "))
	b.WriteString(") VALUES ")

	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(ins.columns)), ", ") + ")"
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
	}
	if ins.onConflict != "" {
		b.WriteString(" ON CONFLICT ")
		b.WriteString(ins.onConflict)
	}
	if returning && len(ins.returning) > 0 {
		b.WriteString(" RETURNING ")
		b.WriteString(strings.Join(ins.returning, ", "))
	}
	return b.String()
}

// bulkInsert writes rows in chunks. When scan is non-nil and the store
// returns ids, RETURNING rows are handed to scan; the caller re-queries
// otherwise.
func (c *conn) bulkInsert(ctx context.Context, ins insertSpec, rows [][]any, scan func(*sql.Rows) error) error {
	if len(rows) == 0 {
		return nil
	}
	returning := scan != nil && c.returning
	per := c.chunkRows(len(ins.columns))

	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		args := make([]any, 0, (end-start)*len(ins.columns))
		for _, r := range rows[start:end] {
			args = append(args, r...)
		}
		query := ins.statement(end-start, returning)

		if !returning {
			if _, err := c.Exec(ctx, query, args...); err != nil {
				return err
			}
			continue
		}

		res, err := c.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		for res.Next() {
			if err := scan(res); err != nil {
				res.Close()
				return err
			}
		}
		err = c.classify(res.Err())
		res.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// int64Args converts ids to query arguments.
func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
