package suite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"

	"github.com/etnz/debstore/deb"
	"github.com/etnz/debstore/docstore"
	"github.com/etnz/debstore/events"
	"github.com/etnz/debstore/records"
)

// Import makes the stanzas read from r the new membership of the suite.
// See ImportStanzas.
func (g *Log) Import(ctx context.Context, name string, r io.Reader) (*Changeset, error) {
	return g.ImportStanzas(ctx, name, deb.NewStanzaReader(r).All())
}

// ImportStanzas stores every stanza as a record and reconciles the suite to
// exactly those records.
//
// The whole sequence is read before anything is written, so a malformed
// input leaves the store untouched. Stanzas without a package, version or
// architecture, or with an invalid version, are skipped and reported to the
// listener. Like Reconcile, it returns ErrNoChange when the suite already
// holds exactly those records.
func (g *Log) ImportStanzas(ctx context.Context, name string, stanzas iter.Seq2[deb.Stanza, error]) (*Changeset, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	var all []deb.Stanza
	for st, err := range stanzas {
		if err != nil {
			return nil, fmt.Errorf("reading stanzas for %s: %w", name, err)
		}
		all = append(all, st)
	}

	desired := NewSet()
	for i, st := range all {
		id, err := g.records.StoreOrFind(ctx, st)
		if errors.Is(err, deb.ErrInvalidVersion) || errors.Is(err, records.ErrMissingField) {
			g.listener.Emit(events.EventStanzaSkipped{Suite: name, Index: i + 1, Reason: err.Error()})
			continue
		}
		if err != nil {
			return nil, err
		}
		desired.Add(id)
	}
	return g.Reconcile(ctx, name, desired)
}

// Export iterates over the records of the suite in ascending identifier
// order. Records are fetched in batches. Each iteration reads the suite
// again, so the sequence can be ranged over more than once.
func (g *Log) Export(ctx context.Context, name string) iter.Seq2[*records.Record, error] {
	return func(yield func(*records.Record, error) bool) {
		members, err := g.CurrentMembership(ctx, name)
		if err != nil {
			yield(nil, err)
			return
		}
		for batch := range slices.Chunk(members.Sorted(), g.batchSize) {
			recs, err := g.records.GetMany(ctx, batch)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(recs) != len(batch) {
				yield(nil, missing(batch, recs))
				return
			}
			for _, rec := range recs {
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}

func missing(want []records.ID, got []*records.Record) error {
	found := make(map[records.ID]bool, len(got))
	for _, r := range got {
		found[r.ID] = true
	}
	for _, id := range want {
		if !found[id] {
			return fmt.Errorf("record %s: %w", id, docstore.ErrNotFound)
		}
	}
	return nil
}

// WritePackages writes the suite in Packages index format: every record's
// stanza, verbatim, followed by a blank line. It returns the number of
// records written.
func (g *Log) WritePackages(ctx context.Context, name string, w io.Writer) (int, error) {
	n := 0
	for rec, err := range g.Export(ctx, name) {
		if err != nil {
			return n, err
		}
		if _, err := rec.Fields.WriteTo(w); err != nil {
			return n, fmt.Errorf("writing %s: %w", rec.ID, err)
		}
		n++
	}
	g.listener.Emit(events.EventSuiteExported{Suite: name, Records: n})
	return n, nil
}
