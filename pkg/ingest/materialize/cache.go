// Package materialize creates the plates and wells a decoded file refers
// to and maps (plate name, well index) to persistent well ids.
package materialize

import (
	"context"
	"fmt"
	"sync"

	"github.com/plateflow/plateflow/internal/model"
)

type wellEntry struct {
	id       int64
	cellLine *int64
}

// Seeder loads persisted plates and wells of a dataset.
// *store.Store and *store.Tx implement it.
type Seeder interface {
	Plates(ctx context.Context, datasetID string) ([]model.Plate, error)
	DatasetWells(ctx context.Context, datasetID string) ([]model.Well, error)
}

// Cache is the well-id lookup table of one batch. It is seeded from the
// store once and then grows through committed stages only, so ids of
// rows that were rolled back never enter it.
type Cache struct {
	mu        sync.RWMutex
	datasetID string
	plates    map[string]model.Plate
	wells     map[int64]map[int]wellEntry // plate id -> well num
	open      bool
}

// NewCache creates an empty cache for a dataset.
func NewCache(datasetID string) *Cache {
	return &Cache{
		datasetID: datasetID,
		plates:    make(map[string]model.Plate),
		wells:     make(map[int64]map[int]wellEntry),
	}
}

// DatasetID returns the dataset the cache belongs to.
func (c *Cache) DatasetID() string { return c.datasetID }

// Seed replaces the cache content with the dataset's persisted state.
func (c *Cache) Seed(ctx context.Context, src Seeder) error {
	plates, err := src.Plates(ctx, c.datasetID)
	if err != nil {
		return fmt.Errorf("seed plates: %w", err)
	}
	wells, err := src.DatasetWells(ctx, c.datasetID)
	if err != nil {
		return fmt.Errorf("seed wells: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.plates = make(map[string]model.Plate, len(plates))
	c.wells = make(map[int64]map[int]wellEntry, len(plates))
	for _, p := range plates {
		c.plates[p.Name] = p
		c.wells[p.ID] = make(map[int]wellEntry)
	}
	for _, w := range wells {
		if c.wells[w.PlateID] == nil {
			c.wells[w.PlateID] = make(map[int]wellEntry)
		}
		c.wells[w.PlateID][w.WellNum] = wellEntry{id: w.ID, cellLine: w.CellLineID}
	}
	return nil
}

// Plate returns a cached plate by name.
func (c *Cache) Plate(name string) (model.Plate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plates[name]
	return p, ok
}

// WellID returns the persisted id of a well.
func (c *Cache) WellID(plate string, wellNum int) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plates[plate]
	if !ok {
		return 0, false
	}
	w, ok := c.wells[p.ID][wellNum]
	return w.id, ok
}

// Size returns the number of cached plates and wells.
func (c *Cache) Size() (plates, wells int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ws := range c.wells {
		wells += len(ws)
	}
	return len(c.plates), wells
}

// Begin opens a stage for one file. Only one stage may be open at a time.
func (c *Cache) Begin() *Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		panic("materialize: stage already open")
	}
	c.open = true
	return &Stage{
		cache:  c,
		plates: make(map[string]model.Plate),
		wells:  make(map[int64]map[int]wellEntry),
	}
}

// Stage records plates and wells created or updated by one file until the
// file's transaction settles.
type Stage struct {
	cache  *Cache
	plates map[string]model.Plate
	wells  map[int64]map[int]wellEntry
	done   bool
}

// Commit merges the stage into the cache. Call after the transaction commits.
func (s *Stage) Commit() {
	if s.done {
		return
	}
	c := s.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, p := range s.plates {
		c.plates[name] = p
	}
	for plateID, ws := range s.wells {
		if c.wells[plateID] == nil {
			c.wells[plateID] = make(map[int]wellEntry, len(ws))
		}
		for num, w := range ws {
			c.wells[plateID][num] = w
		}
	}
	c.open = false
	s.done = true
}

// Discard drops the stage. Call after the transaction rolls back.
func (s *Stage) Discard() {
	if s.done {
		return
	}
	s.cache.mu.Lock()
	s.cache.open = false
	s.cache.mu.Unlock()
	s.done = true
}

func (s *Stage) plate(name string) (model.Plate, bool) {
	if p, ok := s.plates[name]; ok {
		return p, true
	}
	return s.cache.Plate(name)
}

func (s *Stage) well(plateID int64, num int) (wellEntry, bool) {
	if w, ok := s.wells[plateID][num]; ok {
		return w, true
	}
	s.cache.mu.RLock()
	defer s.cache.mu.RUnlock()
	w, ok := s.cache.wells[plateID][num]
	return w, ok
}

func (s *Stage) putPlate(p model.Plate) {
	s.plates[p.Name] = p
}

func (s *Stage) putWell(plateID int64, num int, w wellEntry) {
	if s.wells[plateID] == nil {
		s.wells[plateID] = make(map[int]wellEntry)
	}
	s.wells[plateID][num] = w
}
