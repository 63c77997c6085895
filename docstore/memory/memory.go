// Package memory is an in-process docstore.Store, used by tests and one-shot
// command runs that need no persistence.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/etnz/debstore/docstore"
)

// Store keeps documents in a map guarded by a RWMutex.
type Store struct {
	mu   sync.RWMutex
	docs map[string]docstore.Document
}

// New returns an empty store.
func New() *Store {
	return &Store{docs: make(map[string]docstore.Document)}
}

func (s *Store) Get(ctx context.Context, key string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[key]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return clone(d), nil
}

func (s *Store) GetMany(ctx context.Context, keys []string) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]docstore.Document, 0, len(keys))
	for _, k := range keys {
		if d, ok := s.docs[k]; ok {
			out = append(out, clone(d))
		}
	}
	return out, nil
}

func (s *Store) Range(ctx context.Context, lo, hi string) ([]docstore.Document, error) {
	return s.filter(ctx, func(d docstore.Document) bool {
		return inRange(d.Key, lo, hi)
	}, byKey)
}

func (s *Store) Create(ctx context.Context, doc docstore.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.Key]; ok {
		return docstore.ErrExists
	}
	s.docs[doc.Key] = clone(doc)
	return nil
}

func (s *Store) Lookup(ctx context.Context, kind, index string) ([]docstore.Document, error) {
	return s.filter(ctx, func(d docstore.Document) bool {
		return d.Kind == kind && d.Index == index
	}, byKey)
}

func (s *Store) IndexRange(ctx context.Context, kind, lo, hi string) ([]docstore.Document, error) {
	return s.filter(ctx, func(d docstore.Document) bool {
		return d.Kind == kind && inRange(d.Index, lo, hi)
	}, byIndex)
}

func (s *Store) Close() error { return nil }

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *Store) filter(ctx context.Context, keep func(docstore.Document) bool, order func(a, b docstore.Document) int) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []docstore.Document
	for _, d := range s.docs {
		if keep(d) {
			out = append(out, clone(d))
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, order)
	return out, nil
}

func inRange(v, lo, hi string) bool {
	return v >= lo && (hi == "" || v < hi)
}

func byKey(a, b docstore.Document) int { return strings.Compare(a.Key, b.Key) }

func byIndex(a, b docstore.Document) int {
	if c := strings.Compare(a.Index, b.Index); c != 0 {
		return c
	}
	return byKey(a, b)
}

func clone(d docstore.Document) docstore.Document {
	d.Body = slices.Clone(d.Body)
	return d
}
