package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etnz/debstore/deb"
	"github.com/etnz/debstore/deb/debtest"
	"github.com/etnz/debstore/docstore/memory"
	"github.com/etnz/debstore/events"
	"github.com/etnz/debstore/fetch"
	"github.com/etnz/debstore/records"
	"github.com/etnz/debstore/suite"
)

func newSyncer(t *testing.T) (*Syncer, *[]fmt.Stringer) {
	t.Helper()
	docs := memory.New()
	seen := &[]fmt.Stringer{}
	l := func(e fmt.Stringer) { *seen = append(*seen, e) }
	return &Syncer{
		Log:      suite.New(docs, records.New(docs)),
		Fetcher:  fetch.NewFetcher(),
		Listener: l,
	}, seen
}

func synced(seen []fmt.Stringer) []events.EventSuiteSynced {
	var out []events.EventSuiteSynced
	for _, e := range seen {
		if s, ok := e.(events.EventSuiteSynced); ok {
			out = append(out, s)
		}
	}
	return out
}

func TestSyncFromPackages(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "Packages", "Package: curl\nVersion: 7.68.0-1\nArchitecture: amd64\n\n"+
		"Package: wget\nVersion: 1.20\nArchitecture: amd64\n")
	path := write(t, dir, "debstore.yaml", "suites:\n  - name: stable\n    source: Packages\n    publish: out\n")
	m, err := Load(path)
	require.NoError(t, err)

	s, seen := newSyncer(t)
	ctx := context.Background()
	require.NoError(t, s.Sync(ctx, m))

	members, err := s.Log.CurrentMembership(ctx, "stable")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	got, err := os.ReadFile(filepath.Join(dir, "out", "Packages"))
	require.NoError(t, err)
	assert.Contains(t, string(got), "Package: wget\n")
	_, err = os.Stat(filepath.Join(dir, "out", "Release"))
	assert.NoError(t, err)

	// a second run changes nothing
	require.NoError(t, s.Sync(ctx, m, "stable"))
	runs := synced(*seen)
	require.Len(t, runs, 2)
	assert.Equal(t, uint64(1), runs[0].Seq)
	assert.True(t, runs[1].Unchanged)

	assert.Error(t, s.Sync(ctx, m, "unknown"))
}

func TestSyncFromDebs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "debs"), 0o755))
	for _, name := range []string{"tool", "lib"} {
		b, err := debtest.Build(fmt.Sprintf("Package: %s\nVersion: 1.0\nArchitecture: amd64\n", name))
		require.NoError(t, err)
		write(t, filepath.Join(dir, "debs"), name+"_1.0_amd64.deb", string(b))
	}
	path := write(t, dir, "debstore.yaml", `
suites:
  - name: tools
    debs: [debs/tool_1.0_amd64.deb, debs/lib_1.0_amd64.deb]
    base_url: pool/main
`)
	m, err := Load(path)
	require.NoError(t, err)

	s, _ := newSyncer(t)
	ctx := context.Background()
	require.NoError(t, s.Sync(ctx, m))

	var names []string
	for rec, err := range s.Log.Export(ctx, "tools") {
		require.NoError(t, err)
		names = append(names, rec.Package)
		filename, ok := rec.Fields.Get(string(deb.FieldFilename))
		require.True(t, ok)
		assert.Equal(t, "pool/main/"+rec.Package+"_1.0_amd64.deb", filename)
		size, _ := rec.Fields.Get(string(deb.FieldSize))
		assert.NotEmpty(t, size)
		sum, _ := rec.Fields.Get(string(deb.FieldSHA256))
		assert.Len(t, sum, 64)
	}
	assert.Equal(t, []string{"lib", "tool"}, names)
}

func TestSyncMissingDebLeavesSuiteUntouched(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "debstore.yaml", "suites: [{name: tools, debs: [missing.deb]}]\n")
	m, err := Load(path)
	require.NoError(t, err)

	s, _ := newSyncer(t)
	ctx := context.Background()
	assert.ErrorIs(t, s.Sync(ctx, m), os.ErrNotExist)
	names, err := s.Log.Suites(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSyncGitHubWithoutClient(t *testing.T) {
	m := Default()
	m.Suites = []Suite{{Name: "tools", GitHub: []string{"etnz/tool"}}}
	s, _ := newSyncer(t)
	assert.Error(t, s.Sync(context.Background(), m))
}
