package manifest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/etnz/debstore/deb"
	"github.com/etnz/debstore/events"
	"github.com/etnz/debstore/fetch"
	"github.com/etnz/debstore/github"
	"github.com/etnz/debstore/publish"
	"github.com/etnz/debstore/suite"
)

// DebStanzas reads each .deb archive in locations and yields its Packages
// index stanza. The Filename field is the archive's base name, prefixed with
// baseURL when set.
func DebStanzas(ctx context.Context, f *fetch.Fetcher, locations []string, baseURL string) iter.Seq2[deb.Stanza, error] {
	return func(yield func(deb.Stanza, error) bool) {
		for _, loc := range locations {
			st, err := debStanza(ctx, f, loc, baseURL)
			if !yield(st, err) || err != nil {
				return
			}
		}
	}
}

func debStanza(ctx context.Context, f *fetch.Fetcher, location, baseURL string) (deb.Stanza, error) {
	rc, err := f.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	filename := path.Base(location)
	if baseURL != "" {
		filename = strings.TrimSuffix(baseURL, "/") + "/" + filename
	}
	p, err := deb.ReadPackage(rc, filename)
	if err != nil {
		return nil, err
	}
	return p.IndexStanza(), nil
}

// Syncer brings the suites of a manifest up to date with their sources.
type Syncer struct {
	Log      *suite.Log
	Fetcher  *fetch.Fetcher
	GitHub   *github.Client
	Listener events.Listener
}

// Sync synchronizes the named suites, or every suite of the manifest when no
// name is given. It stops at the first failure.
func (s *Syncer) Sync(ctx context.Context, m *Manifest, names ...string) error {
	suites := m.Suites
	if len(names) > 0 {
		suites = nil
		for _, name := range names {
			ds, ok := m.Lookup(name)
			if !ok {
				return fmt.Errorf("suite %s is not declared in the manifest", name)
			}
			suites = append(suites, ds)
		}
	}
	for _, ds := range suites {
		if err := s.SyncSuite(ctx, m, ds); err != nil {
			return fmt.Errorf("syncing %s: %w", ds.Name, err)
		}
	}
	return nil
}

// SyncSuite imports the suite's source, then publishes it when the suite
// declares a publish directory. An unchanged suite is published too, so a
// lost output directory is restored.
func (s *Syncer) SyncSuite(ctx context.Context, m *Manifest, ds Suite) error {
	cs, err := s.importSuite(ctx, ds)
	source := ds.Source
	if source == "" {
		source = strings.Join(slices.Concat(ds.GitHub, ds.Debs), " ")
	}
	switch {
	case errors.Is(err, suite.ErrNoChange):
		s.Listener.Emit(events.EventSuiteSynced{Suite: ds.Name, Source: source, Unchanged: true})
	case err != nil:
		return err
	default:
		s.Listener.Emit(events.EventSuiteSynced{Suite: ds.Name, Source: source, Seq: cs.Seq})
	}

	if ds.Publish == "" {
		return nil
	}
	key, err := m.SigningKey()
	if err != nil {
		return err
	}
	return publish.Suite(ctx, s.Log, ds.Name, ds.Publish, m.ArchiveInfo, key, s.Listener)
}

func (s *Syncer) importSuite(ctx context.Context, ds Suite) (*suite.Changeset, error) {
	if ds.Source != "" {
		rc, err := s.Fetcher.Open(ctx, ds.Source)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return s.Log.Import(ctx, ds.Name, rc)
	}

	locations := slices.Clone(ds.Debs)
	for _, r := range ds.GitHub {
		repo, err := github.ParseRepo(r)
		if err != nil {
			return nil, err
		}
		if s.GitHub == nil {
			return nil, fmt.Errorf("no GitHub client to list releases of %s", repo)
		}
		urls, err := s.GitHub.ReleaseDebs(ctx, repo)
		if err != nil {
			return nil, err
		}
		locations = append(locations, urls...)
	}
	return s.Log.ImportStanzas(ctx, ds.Name, DebStanzas(ctx, s.Fetcher, locations, ds.BaseURL))
}

// GitHubToken returns the token from the configured environment variable.
func (m *Manifest) GitHubToken() string {
	if m.GitHubTokenEnv == "" {
		return ""
	}
	return os.Getenv(m.GitHubTokenEnv)
}
