package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/plateflow/plateflow/internal/model"
	"github.com/plateflow/plateflow/pkg/catalog"
	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/ingest/core"
	"github.com/plateflow/plateflow/pkg/store"
)

// Store is the slice of the store the materializer writes through.
// *store.Tx implements it.
type Store interface {
	InsertPlate(ctx context.Context, p *model.Plate) error
	InsertWells(ctx context.Context, wells []model.Well) (map[store.WellKey]int64, error)
	SetWellCellLine(ctx context.Context, wellID int64, cellLineID *int64) error
}

// Wells maps every well a file refers to onto its persistent id.
type Wells struct {
	plates map[string]model.Plate
	ids    map[string]map[int]int64
}

// ID returns the well id for (plate, well).
func (w *Wells) ID(plate string, well int) (int64, bool) {
	id, ok := w.ids[plate][well]
	return id, ok
}

// Plate returns the plate row backing a plate name.
func (w *Wells) Plate(name string) (model.Plate, bool) {
	p, ok := w.plates[name]
	return p, ok
}

// Name renders a well as A1-style on its plate, falling back to the index.
func (w *Wells) Name(plate string, well int) string {
	if p, ok := w.plates[plate]; ok && p.Width > 0 {
		return model.WellName(well, p.Width)
	}
	return fmt.Sprintf("#%d", well)
}

// Len returns the number of mapped wells.
func (w *Wells) Len() int {
	n := 0
	for _, ws := range w.ids {
		n += len(ws)
	}
	return n
}

// Stats counts rows written by one Materialize call.
type Stats struct {
	PlatesCreated int
	WellsCreated  int
	WellsTagged   int
}

// Materializer ensures plates and wells exist for decoded tables.
type Materializer struct {
	logger *slog.Logger
}

// New creates a materializer.
func New(logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{logger: logger}
}

type wellRef struct {
	plate string
	well  int
}

// Materialize creates the missing plates and wells of t on tx, records them
// in stage, and returns ids for every referenced well. Existing plates keep
// their dimensions: a file that disagrees fails with DimensionMismatch.
func (m *Materializer) Materialize(ctx context.Context, tx Store, stage *Stage, t *core.Tables, names *catalog.Names) (*Wells, *Stats, error) {
	datasetID := stage.cache.datasetID
	stats := &Stats{}
	out := &Wells{
		plates: make(map[string]model.Plate),
		ids:    make(map[string]map[int]int64),
	}

	// Plates first, so dimension checks run before any well is written.
	for _, name := range t.PlateNames() {
		if strings.TrimSpace(name) == "" {
			return nil, nil, pferrors.New(pferrors.CodeInvalidPlate, "empty plate name")
		}
		dims, err := t.DimsFor(name)
		if err != nil {
			return nil, nil, pferrors.Wrap(err, pferrors.CodeDecode, "plate size").WithContext("plate", name)
		}
		maxWell := t.MaxWell(name)
		if maxWell >= dims.Width*dims.Height {
			return nil, nil, pferrors.Newf(pferrors.CodeDecode,
				"well %d outside a %dx%d plate", maxWell, dims.Height, dims.Width).WithContext("plate", name)
		}

		if p, ok := stage.plate(name); ok {
			if err := checkDims(p, dims, maxWell); err != nil {
				return nil, nil, err
			}
			if dims.Grid() {
				t.Reindex(name, p.Width, p.Height)
			}
			out.plates[name] = p
			continue
		}

		p := model.Plate{DatasetID: datasetID, Name: name, Width: dims.Width, Height: dims.Height}
		if err := tx.InsertPlate(ctx, &p); err != nil {
			if errors.Is(err, store.ErrUniqueViolation) {
				return nil, nil, pferrors.Wrapf(err, pferrors.CodeDuplicateData,
					"plate %q was created concurrently", name).WithContext("dataset", datasetID)
			}
			return nil, nil, pferrors.Wrap(err, pferrors.CodeStorage, "insert plate").WithContext("plate", name)
		}
		stage.putPlate(p)
		out.plates[name] = p
		stats.PlatesCreated++
		m.logger.Debug("plate created", "plate", name, "width", p.Width, "height", p.Height, "id", p.ID)
	}

	declared, refs, err := cellLinesPerWell(t, out)
	if err != nil {
		return nil, nil, err
	}

	var (
		missing    []model.Well
		missingRef = make(map[store.WellKey]wellRef)
	)
	for _, ref := range refs {
		p := out.plates[ref.plate]
		var cellLine *int64
		if name, ok := declared[ref]; ok {
			id, ok := names.CellLine(name)
			if !ok {
				return nil, nil, fmt.Errorf("cell line %q was not resolved", name)
			}
			cellLine = &id
		}

		w, ok := stage.well(p.ID, ref.well)
		if !ok {
			missing = append(missing, model.Well{PlateID: p.ID, WellNum: ref.well, CellLineID: cellLine})
			missingRef[store.WellKey{PlateID: p.ID, WellNum: ref.well}] = ref
			continue
		}

		if cellLine != nil {
			switch {
			case w.cellLine == nil:
				if err := tx.SetWellCellLine(ctx, w.id, cellLine); err != nil {
					return nil, nil, pferrors.Wrap(err, pferrors.CodeStorage, "tag well cell line")
				}
				w.cellLine = cellLine
				stage.putWell(p.ID, ref.well, w)
				stats.WellsTagged++
			case *w.cellLine != *cellLine:
				return nil, nil, pferrors.Inconsistent(ref.plate, out.Name(ref.plate, ref.well),
					fmt.Sprintf("well already has a different cell line than %q", declared[ref]))
			}
		}
		out.put(ref, w.id)
	}

	if len(missing) > 0 {
		ids, err := tx.InsertWells(ctx, missing)
		if err != nil {
			return nil, nil, pferrors.Wrap(err, pferrors.CodeStorage, "insert wells")
		}
		for _, w := range missing {
			key := store.WellKey{PlateID: w.PlateID, WellNum: w.WellNum}
			id, ok := ids[key]
			if !ok {
				return nil, nil, pferrors.Newf(pferrors.CodeStorage, "no id returned for well %d of plate %d", w.WellNum, w.PlateID)
			}
			stage.putWell(w.PlateID, w.WellNum, wellEntry{id: id, cellLine: w.CellLineID})
			out.put(missingRef[key], id)
		}
		stats.WellsCreated = len(missing)
	}

	m.logger.Debug("materialized",
		"dataset", datasetID,
		"plates_created", stats.PlatesCreated,
		"wells_created", stats.WellsCreated,
		"wells_tagged", stats.WellsTagged)
	return out, stats, nil
}

func (w *Wells) put(ref wellRef, id int64) {
	if w.ids[ref.plate] == nil {
		w.ids[ref.plate] = make(map[int]int64)
	}
	w.ids[ref.plate][ref.well] = id
}

// checkDims compares a file's view of a plate with the stored plate.
// Grid-addressed files must fit by rows and columns; other inferred files
// by well index.
func checkDims(p model.Plate, dims core.PlateDims, maxWell int) error {
	switch {
	case dims.Declared:
		if dims.Width != p.Width || dims.Height != p.Height {
			return pferrors.DimensionMismatch(p.Name, p.Width, p.Height, dims.Width, dims.Height)
		}
		return nil
	case dims.Grid():
		if dims.Rows > p.Height || dims.Cols > p.Width {
			return pferrors.DimensionMismatch(p.Name, p.Width, p.Height, dims.Cols, dims.Rows)
		}
		return nil
	}
	if maxWell >= p.NumWells() {
		return pferrors.DimensionMismatch(p.Name, p.Width, p.Height, dims.Width, dims.Height)
	}
	return nil
}

// cellLinesPerWell collects the cell line each well is declared with and
// every referenced well in a stable order. Two different names for one
// well within the file is an error.
func cellLinesPerWell(t *core.Tables, wells *Wells) (map[wellRef]string, []wellRef, error) {
	declared := make(map[wellRef]string)
	seen := make(map[wellRef]bool)
	var refs []wellRef

	visit := func(plate string, well int, cellLine string) error {
		ref := wellRef{plate: plate, well: well}
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
		if cellLine == "" {
			return nil
		}
		prev, ok := declared[ref]
		if !ok {
			declared[ref] = cellLine
			return nil
		}
		if catalog.Key(prev) != catalog.Key(cellLine) {
			return pferrors.Inconsistent(plate, wells.Name(plate, well),
				fmt.Sprintf("well declared with cell lines %q and %q", prev, cellLine))
		}
		return nil
	}

	for _, r := range t.Doses {
		if err := visit(r.Plate, r.Well, r.CellLine); err != nil {
			return nil, nil, err
		}
	}
	for _, rows := range [][]core.MeasurementRow{t.Assays, t.Controls} {
		for _, r := range rows {
			if err := visit(r.Plate, r.Well, r.CellLine); err != nil {
				return nil, nil, err
			}
		}
	}

	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].plate != refs[j].plate {
			return refs[i].plate < refs[j].plate
		}
		return refs[i].well < refs[j].well
	})
	return declared, refs, nil
}
