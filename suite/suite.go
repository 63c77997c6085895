// Package suite maintains the membership of named suites as an append-only
// log of changesets.
//
// A suite's membership is never stored as a value. It is derived on every
// read by folding the suite's changesets, in ascending (timestamp, id) order,
// over its baseline: each changeset first removes, then adds. Reconcile is the
// only way to change a suite, and it does so by appending a changeset.
//
// Documents live in the store under two key families:
//
//	suite:<name>             baseline, written once
//	chset:<name>:<seq>       changesets, seq zero-padded to 20 digits
//
// Writers claim the next sequence number with a conditional create, so two
// processes reconciling the same suite never both append on the same view.
package suite

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/etnz/debstore/deb"
	"github.com/etnz/debstore/docstore"
	"github.com/etnz/debstore/events"
	"github.com/etnz/debstore/records"
)

const (
	suiteKind     = "suite"
	changesetKind = "changeset"

	suitePrefix     = "suite:"
	changesetPrefix = "chset:"
)

// DefaultMaxAttempts bounds how many times Reconcile starts over after losing
// the race for the next changeset.
const DefaultMaxAttempts = 10

var (
	// ErrNoChange is returned by Reconcile when the desired membership equals
	// the current one. Nothing is appended.
	ErrNoChange = errors.New("no change")
	// ErrInvalidName is returned for empty suite names or names containing ':'
	// or whitespace.
	ErrInvalidName = errors.New("invalid suite name")
	// ErrSuiteExists is returned by CreateSuite when the baseline is already committed.
	ErrSuiteExists = errors.New("suite already exists")
	// ErrConflict is returned when Reconcile kept losing to concurrent writers.
	ErrConflict = errors.New("suite modified concurrently")
)

// Suite is the committed baseline of a suite.
type Suite struct {
	Name    string       `json:"name"`
	Files   []records.ID `json:"files"`
	Created time.Time    `json:"created"`
}

// Changeset is an immutable change to a suite's membership.
type Changeset struct {
	ID        string       `json:"id"`
	Suite     string       `json:"suite"`
	Seq       uint64       `json:"seq"`
	Timestamp time.Time    `json:"timestamp"`
	Added     []records.ID `json:"add,omitempty"`
	Removed   []records.ID `json:"del,omitempty"`
}

// compareChangesets is the fold order: timestamp, then id.
func compareChangesets(a, b Changeset) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// ValidateName checks that name can be used as a suite name.
func ValidateName(name string) error {
	if name == "" || strings.ContainsAny(name, ": \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

func suiteKey(name string) string { return suitePrefix + name }

func changesetKey(name string, seq uint64) string {
	return fmt.Sprintf("%s%s:%020d", changesetPrefix, name, seq)
}

// Log reads and appends suite changesets.
type Log struct {
	docs        docstore.Store
	records     *records.Store
	listener    events.Listener
	now         func() time.Time
	maxAttempts int
	batchSize   int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Log.
type Option func(*Log)

// WithListener sets the listener notified of appended changesets.
func WithListener(l events.Listener) Option {
	return func(g *Log) {
		g.listener = l
	}
}

// WithClock sets the source of changeset timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Log) {
		g.now = now
	}
}

// WithMaxAttempts sets how many times Reconcile retries after a conflict.
func WithMaxAttempts(n int) Option {
	return func(g *Log) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithBatchSize sets how many records Export fetches per request.
func WithBatchSize(n int) Option {
	return func(g *Log) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

// New returns a Log storing suites in docs and resolving members through recs.
func New(docs docstore.Store, recs *records.Store, opts ...Option) *Log {
	g := &Log{
		docs:        docs,
		records:     recs,
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
		batchSize:   records.DefaultBatchSize,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// state is everything stored for one suite, read in one pass.
type state struct {
	baseline   *Suite
	changesets []Changeset // fold order
	lastSeq    uint64
	lastTime   time.Time
}

func (g *Log) load(ctx context.Context, name string) (*state, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	st := &state{}

	d, err := g.docs.Get(ctx, suiteKey(name))
	switch {
	case errors.Is(err, docstore.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("reading suite %s: %w", name, err)
	default:
		var s Suite
		if err := json.Unmarshal(d.Body, &s); err != nil {
			return nil, fmt.Errorf("decoding suite %s: %w", name, err)
		}
		st.baseline = &s
	}

	lo, hi := docstore.KeyPrefixRange(changesetPrefix + name + ":")
	docs, err := g.docs.Range(ctx, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("reading changesets of %s: %w", name, err)
	}
	for _, d := range docs {
		var cs Changeset
		if err := json.Unmarshal(d.Body, &cs); err != nil {
			return nil, fmt.Errorf("decoding changeset %s: %w", d.Key, err)
		}
		st.lastSeq = max(st.lastSeq, cs.Seq)
		if cs.Timestamp.After(st.lastTime) {
			st.lastTime = cs.Timestamp
		}
		st.changesets = append(st.changesets, cs)
	}
	slices.SortStableFunc(st.changesets, compareChangesets)
	return st, nil
}

// fold replays the log over the baseline, stopping after the last changeset
// stamped at or before until when until is set.
func (st *state) fold(until *time.Time) Set {
	members := NewSet()
	if st.baseline != nil {
		for _, id := range st.baseline.Files {
			members.Add(id)
		}
	}
	for _, cs := range st.changesets {
		if until != nil && cs.Timestamp.After(*until) {
			break
		}
		for _, id := range cs.Removed {
			members.Remove(id)
		}
		for _, id := range cs.Added {
			members.Add(id)
		}
	}
	return members
}

// CurrentMembership returns the records currently in the suite. A suite that
// was never written to is empty.
func (g *Log) CurrentMembership(ctx context.Context, name string) (Set, error) {
	st, err := g.load(ctx, name)
	if err != nil {
		return nil, err
	}
	return st.fold(nil), nil
}

// MembershipAt returns the records that were in the suite at time t.
func (g *Log) MembershipAt(ctx context.Context, name string, t time.Time) (Set, error) {
	st, err := g.load(ctx, name)
	if err != nil {
		return nil, err
	}
	return st.fold(&t), nil
}

// History returns the suite's changesets in fold order.
func (g *Log) History(ctx context.Context, name string) ([]Changeset, error) {
	st, err := g.load(ctx, name)
	if err != nil {
		return nil, err
	}
	return st.changesets, nil
}

// Suites returns the names of every suite with a committed baseline, sorted.
func (g *Log) Suites(ctx context.Context) ([]string, error) {
	lo, hi := docstore.KeyPrefixRange(suitePrefix)
	docs, err := g.docs.Range(ctx, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("listing suites: %w", err)
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, strings.TrimPrefix(d.Key, suitePrefix))
	}
	return names, nil
}

// CreateSuite commits the baseline of a new suite. It fails with
// ErrSuiteExists if the suite already has one.
func (g *Log) CreateSuite(ctx context.Context, name string, baseline Set) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	s := Suite{Name: name, Files: baseline.Sorted(), Created: g.now().UTC()}
	if s.Files == nil {
		s.Files = []records.ID{}
	}
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding suite %s: %w", name, err)
	}
	err = g.docs.Create(ctx, docstore.Document{Key: suiteKey(name), Kind: suiteKind, Body: body})
	if errors.Is(err, docstore.ErrExists) {
		return fmt.Errorf("%w: %s", ErrSuiteExists, name)
	}
	if err != nil {
		return fmt.Errorf("creating suite %s: %w", name, err)
	}
	g.listener.Emit(events.EventSuiteCreated{Suite: name, Baseline: len(s.Files)})
	return nil
}

func (g *Log) lock(name string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.locks[name]
	if !ok {
		m = &sync.Mutex{}
		g.locks[name] = m
	}
	return m
}

// Reconcile makes desired the membership of the suite by appending one
// changeset with the records to add and to remove. It returns ErrNoChange,
// and appends nothing, when desired is already the membership.
//
// Concurrent calls for the same suite are serialized within the process.
// Across processes, a writer that loses the race for the next changeset
// re-reads the log and computes its diff again.
func (g *Log) Reconcile(ctx context.Context, name string, desired Set) (*Changeset, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	m := g.lock(name)
	m.Lock()
	defer m.Unlock()

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st, err := g.load(ctx, name)
		if err != nil {
			return nil, err
		}
		current := st.fold(nil)
		added := desired.Minus(current)
		removed := current.Minus(desired)
		if len(added) == 0 && len(removed) == 0 {
			g.listener.Emit(events.EventNoChange{Suite: name})
			return nil, ErrNoChange
		}

		if st.baseline == nil {
			err := g.CreateSuite(ctx, name, nil)
			if errors.Is(err, ErrSuiteExists) {
				// someone else committed a baseline, possibly not empty
				g.listener.Emit(events.EventReconcileRetry{Suite: name, Attempt: attempt})
				continue
			}
			if err != nil {
				return nil, err
			}
		}

		ts := g.now().UTC()
		if !ts.After(st.lastTime) {
			ts = st.lastTime.Add(time.Nanosecond)
		}
		cs := Changeset{
			ID:        uuid.NewString(),
			Suite:     name,
			Seq:       st.lastSeq + 1,
			Timestamp: ts,
			Added:     added,
			Removed:   removed,
		}
		err = g.append(ctx, cs)
		if errors.Is(err, docstore.ErrExists) {
			g.listener.Emit(events.EventReconcileRetry{Suite: name, Attempt: attempt})
			continue
		}
		if err != nil {
			return nil, err
		}
		g.listener.Emit(events.EventChangesetAppended{
			Suite:   name,
			ID:      cs.ID,
			Seq:     cs.Seq,
			Added:   len(cs.Added),
			Removed: len(cs.Removed),
		})
		return &cs, nil
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrConflict, name, g.maxAttempts)
}

func (g *Log) append(ctx context.Context, cs Changeset) error {
	body, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("encoding changeset: %w", err)
	}
	return g.docs.Create(ctx, docstore.Document{
		Key:   changesetKey(cs.Suite, cs.Seq),
		Kind:  changesetKind,
		Index: docstore.IndexKey(cs.Suite),
		Body:  body,
	})
}

// Rollback restores the membership the suite had at time t by appending a
// changeset. History is kept: the rollback itself can be rolled back.
func (g *Log) Rollback(ctx context.Context, name string, t time.Time) (*Changeset, error) {
	members, err := g.MembershipAt(ctx, name, t)
	if err != nil {
		return nil, err
	}
	return g.Reconcile(ctx, name, members)
}

// Location is a package record found in a suite.
type Location struct {
	Suite        string     `json:"suite"`
	Package      string     `json:"package"`
	Version      string     `json:"version"`
	Architecture string     `json:"architecture"`
	ID           records.ID `json:"id"`
}

// LookupPackage returns where every known record of the named package is
// currently published, sorted by suite, version and architecture.
func (g *Log) LookupPackage(ctx context.Context, pkg string) ([]Location, error) {
	recs, err := g.records.ByPackage(ctx, pkg)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	names, err := g.Suites(ctx)
	if err != nil {
		return nil, err
	}
	var out []Location
	for _, name := range names {
		members, err := g.CurrentMembership(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if members.Has(rec.ID) {
				out = append(out, Location{
					Suite:        name,
					Package:      rec.Package,
					Version:      rec.Version,
					Architecture: rec.Architecture,
					ID:           rec.ID,
				})
			}
		}
	}
	slices.SortStableFunc(out, func(a, b Location) int {
		if c := strings.Compare(a.Suite, b.Suite); c != 0 {
			return c
		}
		// versions were validated when the records were stored
		va, _ := deb.ParseVersion(a.Version)
		vb, _ := deb.ParseVersion(b.Version)
		if c := deb.CompareVersions(va, vb); c != 0 {
			return c
		}
		return cmp.Compare(a.Architecture, b.Architecture)
	})
	return out, nil
}
