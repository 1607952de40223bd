package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/plateflow/plateflow/pkg/store"
)

// Merge is one group of catalog rows sharing a normalized key.
type Merge struct {
	Table   store.CatalogTable
	Key     string
	Kept    store.CatalogEntry
	Merged  []store.CatalogEntry
	Skipped string // reason, when the group was left alone
}

// Report lists what Reconcile did.
type Report struct {
	Merges  []Merge
	Rekeyed int
}

// Merged counts groups that were collapsed.
func (r *Report) Merged() int {
	n := 0
	for _, m := range r.Merges {
		if m.Skipped == "" {
			n++
		}
	}
	return n
}

// Reconcile recomputes catalog keys and collapses rows that now share a
// key onto the lowest id, repointing wells and drug assignments. A drug
// group whose merge would put one drug on a well twice is skipped.
func Reconcile(ctx context.Context, s *store.Store, logger *slog.Logger) (*Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	report := &Report{}
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		for _, table := range []store.CatalogTable{store.CellLines, store.Drugs} {
			if err := reconcileTable(ctx, tx, table, report); err != nil {
				return fmt.Errorf("reconcile %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, m := range report.Merges {
		if m.Skipped != "" {
			logger.Warn("catalog group skipped", "table", m.Table, "key", m.Key, "reason", m.Skipped)
			continue
		}
		logger.Info("catalog group merged", "table", m.Table, "key", m.Key, "kept", m.Kept.Name, "merged", len(m.Merged))
	}
	return report, nil
}

func reconcileTable(ctx context.Context, tx *store.Tx, table store.CatalogTable, report *Report) error {
	all, err := tx.CatalogEntries(ctx, table)
	if err != nil {
		return err
	}

	groups := make(map[string][]store.CatalogEntry)
	var keys []string
	for _, e := range all {
		k := Key(e.Name)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], e)
	}
	sort.Strings(keys)

	var rekey []store.CatalogEntry
	for _, k := range keys {
		g := groups[k] // ordered by id
		if len(g) == 1 {
			if g[0].Key != k {
				rekey = append(rekey, store.CatalogEntry{ID: g[0].ID, Name: g[0].Name, Key: k})
			}
			continue
		}

		m := Merge{Table: table, Key: k, Kept: g[0], Merged: g[1:]}
		ids := make([]any, len(g))
		for i, e := range g {
			ids[i] = e.ID
		}
		others := ids[1:]

		if table == store.Drugs {
			var clash int
			err := tx.QueryRow(ctx,
				`SELECT COUNT(*) FROM (SELECT well_id FROM well_drugs WHERE drug_id IN (`+marks(len(ids))+`)
				 GROUP BY well_id HAVING COUNT(*) > 1) c`, ids...).Scan(&clash)
			if err != nil {
				return err
			}
			if clash > 0 {
				m.Skipped = fmt.Sprintf("%d wells carry more than one spelling", clash)
				report.Merges = append(report.Merges, m)
				continue
			}
			if _, err := tx.Exec(ctx,
				`UPDATE well_drugs SET drug_id = ? WHERE drug_id IN (`+marks(len(others))+`)`,
				append([]any{g[0].ID}, others...)...); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(ctx,
				`UPDATE wells SET cell_line_id = ? WHERE cell_line_id IN (`+marks(len(others))+`)`,
				append([]any{g[0].ID}, others...)...); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM `+string(table)+` WHERE id IN (`+marks(len(others))+`)`, others...); err != nil {
			return err
		}
		if g[0].Key != k {
			rekey = append(rekey, store.CatalogEntry{ID: g[0].ID, Name: g[0].Name, Key: k})
		}
		report.Merges = append(report.Merges, m)
	}

	for _, e := range rekey {
		if _, err := tx.Exec(ctx,
			`UPDATE `+string(table)+` SET name_key = ? WHERE id = ?`, e.Key, e.ID); err != nil {
			return err
		}
		report.Rekeyed++
	}
	return nil
}

func marks(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
