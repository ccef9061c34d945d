// Package memory is an in-process mirror adapter used by tests and as the
// default backend when no Firebase project is configured.
package memory

import (
	"context"
	"sort"
	"sync"

	"cashcompass/internal/mirror"
)

type Store struct {
	mu      sync.Mutex
	records map[string]mirror.Record
}

var (
	_ mirror.Writer  = (*Store)(nil)
	_ mirror.Remover = (*Store)(nil)
	_ mirror.Finder  = (*Store)(nil)
)

func New() *Store {
	return &Store{records: make(map[string]mirror.Record)}
}

func (s *Store) Put(_ context.Context, key string, r mirror.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = r
	return nil
}

func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *Store) FindMatching(_ context.Context, m mirror.Match) ([]mirror.Keyed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []mirror.Keyed
	for key, r := range s.records {
		if m.Matches(r) {
			out = append(out, mirror.Keyed{Key: key, Record: r})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Get returns the record stored at key, if any.
func (s *Store) Get(key string) (mirror.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	return r, ok
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
