// Package write persists drug assignments and measurements for wells the
// materializer has resolved.
package write

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/plateflow/plateflow/internal/model"
	"github.com/plateflow/plateflow/pkg/catalog"
	pferrors "github.com/plateflow/plateflow/pkg/errors"
	"github.com/plateflow/plateflow/pkg/ingest/core"
	"github.com/plateflow/plateflow/pkg/ingest/materialize"
	"github.com/plateflow/plateflow/pkg/store"
)

// Store is the slice of the store the writer uses. *store.Tx implements it.
type Store interface {
	WellDrugs(ctx context.Context, wellIDs []int64) (map[int64][]model.WellDrug, error)
	InsertWellDrugs(ctx context.Context, drugs []model.WellDrug) error
	InsertMeasurements(ctx context.Context, ms []model.WellMeasurement) error
}

// Stats counts rows written for one file.
type Stats struct {
	WellDrugs    int
	Measurements int
	Controls     int
	Unchanged    int // wells whose stored drugs already matched
}

// Writer persists the rows of one decoded file.
type Writer struct {
	logger *slog.Logger
}

// New creates a writer.
func New(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{logger: logger}
}

type wellDose struct {
	plate string
	well  int
	id    int64
	drugs []model.WellDrug
}

// Write stores the drug assignments and measurements of t. Wells that
// already carry drugs must carry the same ones. A reading already stored
// for (well, assay, timepoint) fails the whole file with DuplicateData.
func (w *Writer) Write(ctx context.Context, tx Store, datasetID string, t *core.Tables, wells *materialize.Wells, names *catalog.Names) (*Stats, error) {
	stats := &Stats{}

	doses, err := w.collectDoses(t, wells, names)
	if err != nil {
		return nil, err
	}

	lookup := make([]int64, 0, len(doses))
	seen := make(map[int64]bool)
	for _, d := range doses {
		lookup = append(lookup, d.id)
		seen[d.id] = true
	}
	for _, r := range t.Controls {
		id, ok := wells.ID(r.Plate, r.Well)
		if !ok {
			return nil, unmapped(r.Plate, r.Well)
		}
		if !seen[id] {
			seen[id] = true
			lookup = append(lookup, id)
		}
	}
	existing, err := tx.WellDrugs(ctx, lookup)
	if err != nil {
		return nil, pferrors.Wrap(err, pferrors.CodeStorage, "load well drugs")
	}

	var insert []model.WellDrug
	byID := make(map[int64]wellDose, len(doses))
	for _, d := range doses {
		byID[d.id] = d
		have := existing[d.id]
		switch {
		case len(have) == 0:
			insert = append(insert, d.drugs...)
		case sameDrugs(have, d.drugs):
			stats.Unchanged++
		default:
			return nil, pferrors.Inconsistent(d.plate, wells.Name(d.plate, d.well),
				"well already has a different drug/dose assignment")
		}
	}

	// Control readings must come from untreated wells.
	for _, r := range t.Controls {
		id, _ := wells.ID(r.Plate, r.Well)
		total := totalDose(existing[id])
		if d, ok := byID[id]; ok && len(existing[id]) == 0 {
			total = totalDose(d.drugs)
		}
		if total > 0 {
			return nil, pferrors.Inconsistent(r.Plate, wells.Name(r.Plate, r.Well),
				fmt.Sprintf("control reading for a treated well (total dose %g M)", total))
		}
	}

	if len(insert) > 0 {
		if err := tx.InsertWellDrugs(ctx, insert); err != nil {
			if errors.Is(err, store.ErrUniqueViolation) {
				return nil, pferrors.Wrap(err, pferrors.CodeReferentialInconsistency, "drug assigned twice to one well")
			}
			return nil, pferrors.Wrap(err, pferrors.CodeStorage, "insert well drugs")
		}
		stats.WellDrugs = len(insert)
	}

	ms := make([]model.WellMeasurement, 0, len(t.Assays)+len(t.Controls))
	for _, rows := range [][]core.MeasurementRow{t.Assays, t.Controls} {
		for _, r := range rows {
			id, ok := wells.ID(r.Plate, r.Well)
			if !ok {
				return nil, unmapped(r.Plate, r.Well)
			}
			ms = append(ms, model.WellMeasurement{WellID: id, Assay: r.Assay, Timepoint: r.Timepoint, Value: r.Value})
		}
	}
	if len(ms) > 0 {
		if err := tx.InsertMeasurements(ctx, ms); err != nil {
			if errors.Is(err, store.ErrUniqueViolation) {
				return nil, duplicateError(err, datasetID, t)
			}
			return nil, pferrors.Wrap(err, pferrors.CodeStorage, "insert measurements")
		}
	}
	stats.Measurements = len(ms)
	stats.Controls = len(t.Controls)

	w.logger.Debug("rows written",
		"dataset", datasetID,
		"well_drugs", stats.WellDrugs,
		"measurements", stats.Measurements,
		"unchanged_wells", stats.Unchanged)
	return stats, nil
}

// collectDoses turns dose rows into per-well drug assignments, merging
// repeated rows for one well when they agree.
func (w *Writer) collectDoses(t *core.Tables, wells *materialize.Wells, names *catalog.Names) ([]wellDose, error) {
	var out []wellDose
	index := make(map[int64]int)

	for _, r := range t.Doses {
		if len(r.Drugs) == 0 {
			continue
		}
		id, ok := wells.ID(r.Plate, r.Well)
		if !ok {
			return nil, unmapped(r.Plate, r.Well)
		}

		drugs := make([]model.WellDrug, len(r.Drugs))
		used := make(map[int64]bool, len(r.Drugs))
		for i, dd := range r.Drugs {
			drugID, ok := names.Drug(dd.Drug)
			if !ok {
				return nil, fmt.Errorf("drug %q was not resolved", dd.Drug)
			}
			if used[drugID] {
				return nil, pferrors.Inconsistent(r.Plate, wells.Name(r.Plate, r.Well),
					fmt.Sprintf("drug %q appears twice in one well", dd.Drug))
			}
			used[drugID] = true
			drugs[i] = model.WellDrug{WellID: id, DrugID: drugID, Order: i, Dose: dd.Dose}
		}

		if at, ok := index[id]; ok {
			if !sameDrugs(out[at].drugs, drugs) {
				return nil, pferrors.Inconsistent(r.Plate, wells.Name(r.Plate, r.Well),
					"well declared with two different drug/dose assignments")
			}
			continue
		}
		index[id] = len(out)
		out = append(out, wellDose{plate: r.Plate, well: r.Well, id: id, drugs: drugs})
	}
	return out, nil
}

// sameDrugs compares two assignments by order. Neither slice is modified.
func sameDrugs(a, b []model.WellDrug) bool {
	if len(a) != len(b) {
		return false
	}
	a = append([]model.WellDrug(nil), a...)
	sort.Slice(a, func(i, j int) bool { return a[i].Order < a[j].Order })
	for i := range a {
		if a[i].DrugID != b[i].DrugID || a[i].Order != b[i].Order || !sameDose(a[i].Dose, b[i].Dose) {
			return false
		}
	}
	return true
}

// sameDose compares molar doses with a relative tolerance, since stored
// doses may have passed through a float32 or text representation.
func sameDose(a, b float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}

func totalDose(drugs []model.WellDrug) float64 {
	var sum float64
	for _, d := range drugs {
		sum += d.Dose
	}
	return sum
}

func unmapped(plate string, well int) error {
	return pferrors.Newf(pferrors.CodeStorage, "well %d of plate %q was not materialized", well, plate)
}

// duplicateError names the plates, assays and timepoints of the file so the
// user can tell which upload collided.
func duplicateError(cause error, datasetID string, t *core.Tables) error {
	plates := make(map[string]bool)
	assays := make(map[string]bool)
	times := make(map[time.Duration]bool)
	for _, rows := range [][]core.MeasurementRow{t.Assays, t.Controls} {
		for _, r := range rows {
			plates[r.Plate] = true
			assays[r.Assay] = true
			times[r.Timepoint] = true
		}
	}

	var tps []time.Duration
	for tp := range times {
		tps = append(tps, tp)
	}
	sort.Slice(tps, func(i, j int) bool { return tps[i] < tps[j] })
	tpNames := make([]string, len(tps))
	for i, tp := range tps {
		tpNames[i] = tp.String()
	}

	return pferrors.Wrap(cause, pferrors.CodeDuplicateData,
		"measurements for this plate/assay/timepoint were already uploaded to the dataset").
		WithContext("dataset", datasetID).
		WithContext("plates", joinKeys(plates)).
		WithContext("assays", joinKeys(assays)).
		WithContext("timepoints", strings.Join(tpNames, ","))
}

func joinKeys(m map[string]bool) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
