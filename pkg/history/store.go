package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// DefaultLimit is the number of records kept when no limit is configured.
const DefaultLimit = 200

var (
	// ErrNotFound is returned when no record matches an id.
	ErrNotFound = errors.New("build not found")
	// ErrAmbiguousID is returned when an id prefix matches several records.
	ErrAmbiguousID = errors.New("build id prefix is ambiguous")
)

// Store manages the history file.
type Store struct {
	path  string
	limit int
	mu    sync.RWMutex
}

// NewStore creates a store backed by path keeping at most limit records.
func NewStore(path string, limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{path: path, limit: limit}
}

// Path returns the history file path.
func (s *Store) Path() string {
	return s.path
}

// Load loads the history document. A missing file is an empty history.
func (s *Store) Load() (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadInternal()
}

// loadInternal loads without locking (caller must hold lock).
func (s *Store) loadInternal() (*File, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewFile(), nil
		}
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse history file: %w", err)
	}
	if f.Records == nil {
		f.Records = []Record{}
	}
	if f.Version == "" {
		f.Version = Version
	}
	return &f, nil
}

// saveInternal writes atomically without locking (caller must hold lock).
func (s *Store) saveInternal(f *File) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	s.enforceLimit(f)

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		if removeErr := os.Remove(tmpPath); removeErr != nil {
			log.Warn("failed to clean up temp file", "path", tmpPath, "err", removeErr)
		}
		return fmt.Errorf("failed to save history file: %w", err)
	}
	return nil
}

// enforceLimit keeps the newest records.
func (s *Store) enforceLimit(f *File) {
	sortNewestFirst(f.Records)
	if len(f.Records) > s.limit {
		f.Records = f.Records[:s.limit]
	}
}

// LoadAndSave loads, modifies and saves the history under one lock.
func (s *Store) LoadAndSave(modify func(*File) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.loadInternal()
	if err != nil {
		return err
	}
	if err := modify(f); err != nil {
		return err
	}
	return s.saveInternal(f)
}

// Append adds a record, replacing any record with the same id.
func (s *Store) Append(rec Record) error {
	return s.LoadAndSave(func(f *File) error {
		for i := range f.Records {
			if f.Records[i].ID == rec.ID {
				f.Records[i] = rec
				return nil
			}
		}
		f.Records = append(f.Records, rec)
		return nil
	})
}

// List returns all records, newest first.
func (s *Store) List() ([]Record, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	sortNewestFirst(f.Records)
	return f.Records, nil
}

// Find returns the record whose id equals or uniquely starts with id.
func (s *Store) Find(id string) (*Record, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}

	var matches []Record
	for _, r := range records {
		if r.ID == id {
			return &r, nil
		}
		if id != "" && strings.HasPrefix(r.ID, id) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %s matches %d builds", ErrAmbiguousID, id, len(matches))
	}
}

func sortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
}
