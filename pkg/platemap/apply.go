package platemap

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/plateflow/plateflow/internal/model"
	"github.com/plateflow/plateflow/pkg/catalog"
	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/groupcache"
	"github.com/plateflow/plateflow/pkg/store"
)

// Report counts what Apply changed.
type Report struct {
	PlatesCreated int
	WellsCreated  int
	WellsUpdated  int
	DrugRows      int
}

// Applier writes plate maps into a dataset.
type Applier struct {
	store    *store.Store
	resolver *catalog.Resolver
	groups   groupcache.Cache
	logger   *slog.Logger
	now      func() time.Time
}

// NewApplier creates an applier. groups may be nil.
func NewApplier(s *store.Store, groups groupcache.Cache, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		store:    s,
		resolver: catalog.NewResolver(logger),
		groups:   groups,
		logger:   logger,
		now:      time.Now,
	}
}

// Apply replaces the listed wells' cell lines and drug sets. The whole map
// is one transaction: any error leaves the dataset unchanged.
func (a *Applier) Apply(ctx context.Context, datasetID string, m *Map) (*Report, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	ds, err := a.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if ds.Deleted() {
		return nil, pferrors.Newf(pferrors.CodeNotFound, "dataset %s was deleted", datasetID).
			WithContext("dataset", datasetID)
	}

	report := &Report{}
	err = a.store.WithTx(ctx, func(tx *store.Tx) error {
		names, err := a.resolver.Resolve(ctx, tx, m.CellLineNames(), m.DrugNames())
		if err != nil {
			return pferrors.Wrap(err, pferrors.CodeStorage, "resolve catalog")
		}
		at := a.now().UTC()
		for _, p := range m.Plates {
			if err := a.applyPlate(ctx, tx, datasetID, p, names, at, report); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if a.groups != nil {
		if err := a.groups.Invalidate(ctx, datasetID); err != nil {
			a.logger.Warn("grouping cache invalidation failed", "dataset", datasetID, "error", err)
		}
	}
	a.logger.Info("plate map applied",
		"dataset", datasetID,
		"plates", len(m.Plates),
		"wells_updated", report.WellsUpdated,
		"wells_created", report.WellsCreated)
	return report, nil
}

func (a *Applier) applyPlate(ctx context.Context, tx *store.Tx, datasetID string, p Plate, names *catalog.Names, at time.Time, report *Report) error {
	plate, err := tx.PlateByName(ctx, datasetID, p.Name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if p.Width == 0 {
			return pferrors.Newf(pferrors.CodeNotFound, "plate %q does not exist; give width and height to create it", p.Name).
				WithContext("plate", p.Name)
		}
		plate = &model.Plate{DatasetID: datasetID, Name: p.Name, Width: p.Width, Height: p.Height}
		if err := tx.InsertPlate(ctx, plate); err != nil {
			return pferrors.Wrap(err, pferrors.CodeStorage, "create plate").WithContext("plate", p.Name)
		}
		report.PlatesCreated++
	case err != nil:
		return pferrors.Wrap(err, pferrors.CodeStorage, "load plate").WithContext("plate", p.Name)
	case p.Width != 0 && (p.Width != plate.Width || p.Height != plate.Height):
		return pferrors.DimensionMismatch(p.Name, plate.Width, plate.Height, p.Width, p.Height)
	}

	existing, err := tx.PlateWells(ctx, plate.ID)
	if err != nil {
		return pferrors.Wrap(err, pferrors.CodeStorage, "load wells").WithContext("plate", p.Name)
	}
	ids := make(map[int]int64, len(existing))
	for _, w := range existing {
		ids[w.WellNum] = w.ID
	}

	nums := make([]int, len(p.Wells))
	var missing []model.Well
	for i, w := range p.Wells {
		row, col, _ := model.ParseWellName(w.Well)
		if row >= plate.Height || col >= plate.Width {
			return pferrors.Decodef("platemap", "well %s is outside the %dx%d plate", w.Well, plate.Height, plate.Width).
				WithContext("plate", p.Name)
		}
		nums[i] = row*plate.Width + col
		if _, ok := ids[nums[i]]; !ok {
			missing = append(missing, model.Well{PlateID: plate.ID, WellNum: nums[i]})
		}
	}
	if len(missing) > 0 {
		created, err := tx.InsertWells(ctx, missing)
		if err != nil {
			return pferrors.Wrap(err, pferrors.CodeStorage, "create wells").WithContext("plate", p.Name)
		}
		for k, id := range created {
			ids[k.WellNum] = id
		}
		report.WellsCreated += len(missing)
	}

	wellIDs := make([]int64, len(nums))
	var drugs []model.WellDrug
	for i, w := range p.Wells {
		id := ids[nums[i]]
		wellIDs[i] = id

		var cellLine *int64
		if w.CellLine != "" {
			cl, ok := names.CellLine(w.CellLine)
			if !ok {
				return pferrors.Newf(pferrors.CodeStorage, "cell line %q was not resolved", w.CellLine)
			}
			cellLine = &cl
		}
		if err := tx.SetWellCellLine(ctx, id, cellLine); err != nil {
			return pferrors.Wrap(err, pferrors.CodeStorage, "set cell line").WithContext("plate", p.Name)
		}

		for order, d := range w.Drugs {
			drugID, ok := names.Drug(d.Drug)
			if !ok {
				return pferrors.Newf(pferrors.CodeStorage, "drug %q was not resolved", d.Drug)
			}
			dose, _ := d.Molar()
			drugs = append(drugs, model.WellDrug{WellID: id, DrugID: drugID, Order: order, Dose: dose})
		}
	}

	// Delete then insert: the listed wells end up with exactly the map's drugs.
	if err := tx.DeleteWellDrugs(ctx, wellIDs); err != nil {
		return pferrors.Wrap(err, pferrors.CodeStorage, "clear drugs").WithContext("plate", p.Name)
	}
	if err := tx.InsertWellDrugs(ctx, drugs); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return pferrors.Inconsistent(p.Name, "", "the same drug is listed twice in one well")
		}
		return pferrors.Wrap(err, pferrors.CodeStorage, "insert drugs").WithContext("plate", p.Name)
	}
	if err := tx.SetPlateAnnotated(ctx, plate.ID, at); err != nil {
		return pferrors.Wrap(err, pferrors.CodeStorage, "stamp plate").WithContext("plate", p.Name)
	}

	report.WellsUpdated += len(p.Wells)
	report.DrugRows += len(drugs)
	return nil
}
