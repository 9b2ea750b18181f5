package drill

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by [Store.Get] for an unknown drill id.
var ErrNotFound = errors.New("drill: not found")

// Store serves drills by id. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the drill with the given id, or an error wrapping
	// [ErrNotFound].
	Get(ctx context.Context, id string) (*Drill, error)

	// Put inserts or replaces a drill. The drill is validated first.
	Put(ctx context.Context, d *Drill) error
}

// MemoryStore is an in-process [Store].
type MemoryStore struct {
	mu     sync.RWMutex
	drills map[string]Drill
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drills: make(map[string]Drill)}
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, id string) (*Drill, error) {
	s.mu.RLock()
	d, ok := s.drills[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return &d, nil
}

// Put implements [Store]. The stored value is a shallow copy of d.
func (s *MemoryStore) Put(_ context.Context, d *Drill) error {
	if d.ID == "" {
		return errors.New("drill: id is required")
	}
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.drills[d.ID] = *d
	s.mu.Unlock()
	return nil
}

// IDs returns the stored drill ids in sorted order.
func (s *MemoryStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.drills))
	for id := range s.drills {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// seedFile is the on-disk layout read by [LoadFile].
type seedFile struct {
	Drills []Drill `yaml:"drills"`
}

// LoadFile reads a YAML file with a top-level "drills" list and stores each
// entry in s. Unknown fields are rejected.
func LoadFile(ctx context.Context, s Store, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("drill: open seed file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var sf seedFile
	if err := dec.Decode(&sf); err != nil {
		return 0, fmt.Errorf("drill: parse seed file %q: %w", path, err)
	}

	for i := range sf.Drills {
		if err := s.Put(ctx, &sf.Drills[i]); err != nil {
			return i, fmt.Errorf("drill: seed entry %d: %w", i, err)
		}
	}
	return len(sf.Drills), nil
}
