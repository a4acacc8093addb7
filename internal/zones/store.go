package zones

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crowdcount/zonecount/internal/geometry"
	"github.com/crowdcount/zonecount/internal/logger"
	"github.com/crowdcount/zonecount/pkg/types"
)

// NoSelection is the selected id when nothing is selected.
const NoSelection = 0

// LoadResult describes the outcome of Store.Load. A missing or unreadable
// file is not an error: the store starts empty and Recovered is set.
type LoadResult struct {
	Count     int
	Recovered bool
	Reason    error
}

// Store owns the ordered zone collection. All mutations are serialized and
// persisted synchronously; readers receive copies.
type Store struct {
	mu       sync.RWMutex
	path     string
	zones    []Zone
	selected int
	nextID   int
	version  uint64
	saveErr  error
	now      func() time.Time
}

// NewStore creates an empty store persisted at path. An empty path disables
// persistence.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		nextID: 1,
		now:    time.Now,
	}
}

// Load replaces the collection with the persisted document.
func (s *Store) Load() LoadResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selected = NoSelection
	s.version++

	if s.path == "" {
		s.zones, s.nextID = nil, 1
		return LoadResult{}
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.zones, s.nextID = nil, 1
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("Zones", "No zones file at %s, starting empty", s.path)
		} else {
			logger.Warn("Zones", "Cannot read %s, starting empty: %v", s.path, err)
		}
		return LoadResult{Recovered: true, Reason: err}
	}

	zones, nextID, err := decodeDocument(data)
	if err != nil {
		s.zones, s.nextID = nil, 1
		logger.Warn("Zones", "Invalid zones file %s, starting empty: %v", s.path, err)
		return LoadResult{Recovered: true, Reason: err}
	}

	s.zones, s.nextID = zones, nextID
	logger.Info("Zones", "Loaded %d zones from %s", len(zones), s.path)
	return LoadResult{Count: len(zones)}
}

// Save writes the full collection atomically. The in-memory collection is
// never modified by a failed save.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}

	data, err := encodeDocument(s.zones, s.nextID)
	if err != nil {
		return fmt.Errorf("encode zones: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create zones dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp zones file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write zones: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close zones: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace zones file: %w", err)
	}
	return nil
}

// persistLocked saves after a mutation. Failures are logged and remembered;
// the mutation itself stands.
func (s *Store) persistLocked() {
	s.version++
	s.saveErr = s.saveLocked()
	if s.saveErr != nil {
		logger.Error("Zones", "Failed to save zones: %v", s.saveErr)
	}
}

// PersistError returns the error from the most recent save, if any.
func (s *Store) PersistError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveErr
}

// Add creates a zone from points and returns its id.
func (s *Store) Add(points []types.Point) (int, error) {
	return s.AddNamed(points, "")
}

// AddNamed creates a zone named name, or "Zone <id>" when name is empty, in
// a single mutation.
func (s *Store) AddNamed(points []types.Point, name string) (int, error) {
	if len(points) < minPoints {
		return 0, ErrTooFewPoints
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	if name == "" {
		name = defaultName(id)
	}
	poly := make(geometry.Polygon, len(points))
	copy(poly, points)
	s.zones = append(s.zones, Zone{
		ID:        id,
		Name:      name,
		Points:    poly,
		Color:     ColorFor(id),
		CreatedAt: s.now(),
	})
	s.persistLocked()

	logger.Info("Zones", "Created zone %d (%s) with %d points", id, name, len(points))
	return id, nil
}

// Select marks and returns the first zone, in collection order, containing pt.
func (s *Store) Select(pt types.Point) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, z := range s.zones {
		if geometry.Contains(pt, z.Points) {
			s.selected = z.ID
			return z.ID, true
		}
	}
	s.selected = NoSelection
	return NoSelection, false
}

// Selected returns the selected zone id, or NoSelection.
func (s *Store) Selected() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Edit replaces the points of zone id.
func (s *Store) Edit(id int, points []types.Point) error {
	if len(points) < minPoints {
		return ErrTooFewPoints
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}

	poly := make(geometry.Polygon, len(points))
	copy(poly, points)
	s.zones[i].Points = poly
	s.zones[i].UpdatedAt = s.now()
	s.persistLocked()

	logger.Info("Zones", "Updated zone %d with %d points", id, len(points))
	return nil
}

// Rename sets the display name of zone id.
func (s *Store) Rename(id int, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	if name == "" {
		name = defaultName(id)
	}
	s.zones[i].Name = name
	s.zones[i].UpdatedAt = s.now()
	s.persistLocked()
	return nil
}

// Delete removes zone id. Remaining ids are not renumbered.
func (s *Store) Delete(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	s.zones = append(s.zones[:i:i], s.zones[i+1:]...)
	if s.selected == id {
		s.selected = NoSelection
	}
	s.persistLocked()

	logger.Info("Zones", "Deleted zone %d", id)
	return nil
}

// Clear removes every zone and resets the selection. Ids are not reused.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.zones = nil
	s.selected = NoSelection
	s.persistLocked()
	logger.Info("Zones", "All zones cleared")
}

// Zones returns a copy of the collection in order.
func (s *Store) Zones() []Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Zone, len(s.zones))
	for i, z := range s.zones {
		out[i] = z.clone()
	}
	return out
}

// Get returns a copy of zone id.
func (s *Store) Get(id int) (Zone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexLocked(id); i >= 0 {
		return s.zones[i].clone(), true
	}
	return Zone{}, false
}

// Len returns the number of zones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.zones)
}

// Version increases on every mutation and load. Consumers holding derived
// state (the occupancy counter) compare it to detect zone-set changes.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// View returns the zones, selection, and version in one consistent read.
func (s *Store) View() ([]Zone, int, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Zone, len(s.zones))
	for i, z := range s.zones {
		out[i] = z.clone()
	}
	return out, s.selected, s.version
}

func (s *Store) indexLocked(id int) int {
	for i, z := range s.zones {
		if z.ID == id {
			return i
		}
	}
	return -1
}
