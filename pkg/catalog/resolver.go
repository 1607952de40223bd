// Package catalog resolves cell line and drug names to catalog ids.
// Names match case-insensitively; the first spelling seen is the one
// stored.
package catalog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/plateflow/plateflow/internal/model"
	"github.com/plateflow/plateflow/pkg/store"
)

// Key is the catalog key of a name. See model.NameKey.
func Key(name string) string {
	return model.NameKey(name)
}

// Upserter creates missing catalog rows and returns key -> id.
// *store.Tx and *store.Store implement it.
type Upserter interface {
	EnsureCatalog(ctx context.Context, table store.CatalogTable, entries []store.CatalogEntry) (map[string]int64, error)
}

// Names maps normalized keys to catalog ids.
type Names struct {
	CellLines map[string]int64
	Drugs     map[string]int64
}

// CellLine looks up a cell line id by any spelling.
func (n *Names) CellLine(name string) (int64, bool) {
	id, ok := n.CellLines[Key(name)]
	return id, ok
}

// Drug looks up a drug id by any spelling.
func (n *Names) Drug(name string) (int64, bool) {
	id, ok := n.Drugs[Key(name)]
	return id, ok
}

// Resolver maps decoded names to ids, creating catalog rows on first sight.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Resolve returns ids for every cell line and drug name. It runs on the
// caller's transaction so resolution commits or rolls back with the file.
func (r *Resolver) Resolve(ctx context.Context, u Upserter, cellLines, drugs []string) (*Names, error) {
	cl, err := u.EnsureCatalog(ctx, store.CellLines, entries(cellLines))
	if err != nil {
		return nil, err
	}
	dr, err := u.EnsureCatalog(ctx, store.Drugs, entries(drugs))
	if err != nil {
		return nil, err
	}
	r.logger.Debug("catalog resolved", "cell_lines", len(cl), "drugs", len(dr))
	return &Names{CellLines: cl, Drugs: dr}, nil
}

func entries(names []string) []store.CatalogEntry {
	out := make([]store.CatalogEntry, 0, len(names))
	for _, n := range names {
		k := Key(n)
		if k == "" {
			continue
		}
		out = append(out, store.CatalogEntry{Name: strings.TrimSpace(n), Key: k})
	}
	return out
}
