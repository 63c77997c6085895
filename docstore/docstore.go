// Package docstore defines the key/value document store the package database
// is built on, together with helpers to encode composite secondary index keys.
//
// A store keeps immutable JSON documents under unique string keys. Each
// document may carry a kind and an encoded index tuple, queried with Lookup
// (equality) and IndexRange (half-open range). Primary keys and index tuples
// are compared bytewise.
package docstore

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by Get when no document has the requested key.
	ErrNotFound = errors.New("document not found")
	// ErrExists is returned by Create when the key is already taken.
	ErrExists = errors.New("document already exists")
	// ErrUnavailable wraps transport and backend failures.
	ErrUnavailable = errors.New("document store unavailable")
)

// Document is a stored JSON body and its keys.
type Document struct {
	Key   string
	Kind  string
	Index string
	Body  []byte
}

// Store is the contract every backend implements. Documents are never updated
// or deleted.
type Store interface {
	// Get returns the document stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (Document, error)
	// GetMany returns the documents found among keys, in no particular order.
	// Missing keys are skipped.
	GetMany(ctx context.Context, keys []string) ([]Document, error)
	// Range returns the documents whose key is in [lo, hi), in ascending key
	// order. An empty hi leaves the range unbounded.
	Range(ctx context.Context, lo, hi string) ([]Document, error)
	// Create stores doc unless its key is taken, in which case it returns ErrExists.
	Create(ctx context.Context, doc Document) error
	// Lookup returns the documents of kind whose index equals index, ordered by key.
	Lookup(ctx context.Context, kind, index string) ([]Document, error)
	// IndexRange returns the documents of kind whose index is in [lo, hi),
	// ordered by index then key. An empty hi leaves the range unbounded.
	IndexRange(ctx context.Context, kind, lo, hi string) ([]Document, error)
	Close() error
}

// Exists reports whether a document is stored under key.
func Exists(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

const (
	sep     = "\x1f"
	sepNext = "\x20"
)

// IndexKey encodes a tuple of strings so that tuples sharing a prefix sort
// together and shorter tuples sort before their extensions. Parts must not
// contain the unit separator (0x1f).
func IndexKey(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p)
		b.WriteString(sep)
	}
	return b.String()
}

// PrefixRange returns the index range [lo, hi) covering every tuple that
// starts with parts.
func PrefixRange(parts ...string) (lo, hi string) {
	lo = IndexKey(parts...)
	if lo == "" {
		return "", ""
	}
	return lo, lo[:len(lo)-1] + sepNext
}

// KeyPrefixRange returns the primary key range [lo, hi) covering every key
// starting with prefix. The prefix must not end with 0xff.
func KeyPrefixRange(prefix string) (lo, hi string) {
	if prefix == "" {
		return "", ""
	}
	last := prefix[len(prefix)-1]
	return prefix, prefix[:len(prefix)-1] + string([]byte{last + 1})
}
