// Package records stores package stanzas as immutable, content-addressed
// records.
//
// A record is identified by its nominal key (package, version, architecture)
// plus a disambiguator, so that two stanzas sharing a key but differing in
// any byte get distinct identifiers:
//
//	file:deb:<package>_<version>_<architecture>:<n>
//
// Storing the same stanza twice returns the same identifier. The disambiguator
// is a uniqueness tag only; its value carries no ordering.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/etnz/debstore/deb"
	"github.com/etnz/debstore/docstore"
	"github.com/etnz/debstore/events"
)

// Kind is the document kind of records in the document store.
const Kind = "record"

const idPrefix = "file:deb:"

// DefaultBatchSize is the number of records fetched per bulk request.
const DefaultBatchSize = 50

// ErrMissingField is wrapped by MissingFieldError.
var ErrMissingField = errors.New("missing required field")

// MissingFieldError reports a stanza lacking one of the fields of the nominal key.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

func (e *MissingFieldError) Unwrap() error { return ErrMissingField }

// ID identifies a stored record.
type ID string

// Key is the nominal identity of a package: several records may share it.
type Key struct {
	Package      string
	Version      string
	Architecture string
}

// KeyOf extracts the nominal key of a stanza from its normalized view and
// checks that the version is well formed.
func KeyOf(st deb.Stanza) (Key, error) {
	n := st.Normalized()
	var k Key
	for _, f := range []struct {
		field deb.ControlField
		dst   *string
	}{
		{deb.FieldPackage, &k.Package},
		{deb.FieldVersion, &k.Version},
		{deb.FieldArchitecture, &k.Architecture},
	} {
		name := strings.ToLower(string(f.field))
		v, ok := n[name]
		if !ok || v == "" {
			return Key{}, &MissingFieldError{Field: name}
		}
		*f.dst = v
	}
	if _, err := deb.ParseVersion(k.Version); err != nil {
		return Key{}, err
	}
	return k, nil
}

func (k Key) String() string {
	return k.Package + "_" + k.Version + "_" + k.Architecture
}

func (k Key) index() string {
	return docstore.IndexKey(k.Package, k.Version, k.Architecture)
}

// ID returns the identifier of the record with key k and disambiguator n.
func (k Key) ID(n int) ID {
	return ID(idPrefix + k.String() + ":" + strconv.Itoa(n))
}

// Disambiguator returns the trailing uniqueness tag of id.
func (id ID) Disambiguator() (int, bool) {
	i := strings.LastIndexByte(string(id), ':')
	if i < 0 || !strings.HasPrefix(string(id), idPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(string(id[i+1:]))
	return n, err == nil
}

// Record is a stored stanza. Fields is the verbatim, ordered stanza; the other
// fields are its normalized key.
type Record struct {
	ID           ID         `json:"id"`
	Package      string     `json:"package"`
	Version      string     `json:"version"`
	Architecture string     `json:"architecture"`
	Fields       deb.Stanza `json:"fields"`
}

// Key returns the nominal key of the record.
func (r *Record) Key() Key {
	return Key{Package: r.Package, Version: r.Version, Architecture: r.Architecture}
}

// Store finds and creates records in a document store.
type Store struct {
	docs      docstore.Store
	listener  events.Listener
	batchSize int
}

// Option configures a Store.
type Option func(*Store)

// WithListener sets the listener notified of created and found records.
func WithListener(l events.Listener) Option {
	return func(s *Store) {
		s.listener = l
	}
}

// WithBatchSize sets how many records GetMany requests at once.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// New returns a Store over docs.
func New(docs docstore.Store, opts ...Option) *Store {
	s := &Store{docs: docs, batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StoreOrFind returns the identifier of the record holding exactly st,
// creating the record if no such one exists.
//
// Candidates sharing st's key are compared verbatim. When none matches, the
// smallest unused disambiguator is claimed with a conditional create; if a
// concurrent writer claimed it first with the same content its identifier is
// returned, otherwise the next disambiguator is tried.
func (s *Store) StoreOrFind(ctx context.Context, st deb.Stanza) (ID, error) {
	key, err := KeyOf(st)
	if err != nil {
		return "", err
	}

	candidates, err := s.ByKey(ctx, key)
	if err != nil {
		return "", err
	}
	taken := make(map[ID]bool, len(candidates))
	for _, c := range candidates {
		if c.Fields.Equal(st) {
			s.listener.Emit(events.EventRecordFound{ID: string(c.ID)})
			return c.ID, nil
		}
		taken[c.ID] = true
	}

	rec := &Record{
		Package:      key.Package,
		Version:      key.Version,
		Architecture: key.Architecture,
		Fields:       st,
	}
	for n := 0; ; n++ {
		rec.ID = key.ID(n)
		if taken[rec.ID] {
			continue
		}
		err := s.create(ctx, rec, key)
		if err == nil {
			s.listener.Emit(events.EventRecordCreated{
				ID:           string(rec.ID),
				Package:      rec.Package,
				Version:      rec.Version,
				Architecture: rec.Architecture,
			})
			return rec.ID, nil
		}
		if !errors.Is(err, docstore.ErrExists) {
			return "", err
		}
		existing, err := s.Get(ctx, rec.ID)
		if err != nil {
			return "", err
		}
		if existing.Fields.Equal(st) {
			s.listener.Emit(events.EventRecordFound{ID: string(existing.ID)})
			return existing.ID, nil
		}
		taken[rec.ID] = true
	}
}

func (s *Store) create(ctx context.Context, rec *Record, key Key) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.ID, err)
	}
	return s.docs.Create(ctx, docstore.Document{
		Key:   string(rec.ID),
		Kind:  Kind,
		Index: key.index(),
		Body:  body,
	})
}

// Get returns the record with the given identifier. A missing record is
// reported with docstore.ErrNotFound.
func (s *Store) Get(ctx context.Context, id ID) (*Record, error) {
	d, err := s.docs.Get(ctx, string(id))
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}
	return decode(d)
}

// GetMany returns the records among ids that exist, in the order of ids.
// Records are requested in batches of the configured size.
func (s *Store) GetMany(ctx context.Context, ids []ID) ([]*Record, error) {
	out := make([]*Record, 0, len(ids))
	for batch := range slices.Chunk(ids, s.batchSize) {
		recs, err := s.getBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (s *Store) getBatch(ctx context.Context, ids []ID) ([]*Record, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	docs, err := s.docs.GetMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("fetching records: %w", err)
	}
	byID := make(map[ID]*Record, len(docs))
	for _, d := range docs {
		rec, err := decode(d)
		if err != nil {
			return nil, err
		}
		byID[rec.ID] = rec
	}
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ByKey returns every record sharing key, ordered by identifier.
func (s *Store) ByKey(ctx context.Context, key Key) ([]*Record, error) {
	docs, err := s.docs.Lookup(ctx, Kind, key.index())
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", key, err)
	}
	return decodeAll(docs)
}

// ByPackage returns every record of the named package, whatever its version
// or architecture, ordered by version string then architecture.
func (s *Store) ByPackage(ctx context.Context, name string) ([]*Record, error) {
	lo, hi := docstore.PrefixRange(name)
	docs, err := s.docs.IndexRange(ctx, Kind, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("looking up package %s: %w", name, err)
	}
	return decodeAll(docs)
}

func decode(d docstore.Document) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(d.Body, &rec); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", d.Key, err)
	}
	return &rec, nil
}

func decodeAll(docs []docstore.Document) ([]*Record, error) {
	out := make([]*Record, 0, len(docs))
	for _, d := range docs {
		rec, err := decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
