package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store indexes artifacts by contract name and by qualified name.
type Store struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
	ambiguous map[string][]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		artifacts: make(map[string]*Artifact),
		ambiguous: make(map[string][]string),
	}
}

// Add registers an artifact. A short name registered twice from different
// sources becomes ambiguous and must be looked up by qualified name.
func (s *Store) Add(a *Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.SourceName != "" {
		s.artifacts[a.QualifiedName()] = a
	}
	if prev, ok := s.artifacts[a.Name]; ok && prev.QualifiedName() != a.QualifiedName() {
		if _, seen := s.ambiguous[a.Name]; !seen {
			s.ambiguous[a.Name] = []string{prev.QualifiedName()}
		}
		s.ambiguous[a.Name] = append(s.ambiguous[a.Name], a.QualifiedName())
		return
	}
	s.artifacts[a.Name] = a
}

// Get returns the artifact for a short or qualified name.
func (s *Store) Get(name string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if others, ok := s.ambiguous[name]; ok {
		return nil, fmt.Errorf("%w: %s is defined in %s", ErrAmbiguous, name, strings.Join(others, ", "))
	}
	a, ok := s.artifacts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return a, nil
}

// Names returns the sorted short names in the store.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.artifacts))
	for name := range s.artifacts {
		if !strings.Contains(name, ":") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// LoadDir walks dir and loads every artifact JSON file. Debug files and
// build-info documents are skipped.
func LoadDir(dir string) (*Store, error) {
	store := NewStore()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		if !isArtifactFile(path) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		a, err := Parse(contractNameFromPath(path), data)
		if errors.Is(err, ErrNotArtifact) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		a.Path = path
		store.Add(a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func isArtifactFile(path string) bool {
	return filepath.Ext(path) == ".json" && !strings.HasSuffix(path, ".dbg.json")
}

// contractNameFromPath maps "Lottery.sol/Lottery.json" to "Lottery".
func contractNameFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".json")
}
