package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etnz/debstore/records"
	"github.com/etnz/debstore/suite"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DEBSTORE_TEST_MIRROR", "https://mirror.example.com/debian")
	path := write(t, dir, "debstore.yaml", `
defines:
  dist: bookworm
archive_info:
  origin: MyOrg
  label: Internal
signing_key_env: DEBSTORE_TEST_KEY
suites:
  - name: stable
    source: '{{env "DEBSTORE_TEST_MIRROR"}}/dists/{{.dist}}/main/binary-amd64/Packages.xz'
    publish: 'out/{{.suite}}'
  - name: tools
    debs: [debs/tool_1.0_amd64.deb, /abs/other.deb]
    base_url: https://downloads.example.com/pool
`)
	m, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultDriver, m.Store.Driver)
	assert.Equal(t, filepath.Join(dir, DefaultDSN), m.Store.DSN)
	assert.Equal(t, DefaultLogFormat, m.Log.Format)
	assert.Equal(t, DefaultLogLevel, m.Log.Level)
	assert.Equal(t, records.DefaultBatchSize, m.Export.BatchSize)
	assert.Equal(t, "MyOrg", m.ArchiveInfo.Origin)

	require.Len(t, m.Suites, 2)
	stable := m.Suites[0]
	assert.Equal(t, "https://mirror.example.com/debian/dists/bookworm/main/binary-amd64/Packages.xz", stable.Source)
	assert.Equal(t, filepath.Join(dir, "out", "stable"), stable.Publish)

	tools, ok := m.Lookup("tools")
	require.True(t, ok)
	assert.Equal(t, []string{filepath.Join(dir, "debs", "tool_1.0_amd64.deb"), "/abs/other.deb"}, tools.Debs)

	_, ok = m.Lookup("unknown")
	assert.False(t, ok)
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "debstore.json", `{
  "store": {"driver": "postgres", "dsn": "postgres://localhost/debstore"},
  "log": {"format": "json", "level": "debug"},
  "export": {"batch_size": 200},
  "suites": [{"name": "stable", "source": "Packages"}]
}`)
	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/debstore", m.Store.DSN)
	assert.Equal(t, "json", m.Log.Format)
	assert.Equal(t, 200, m.Export.BatchSize)
	assert.Equal(t, filepath.Join(dir, "Packages"), m.Suites[0].Source)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":   "suites: []\ncolour: blue\n",
		"bad driver":      "store: {driver: mysql}\n",
		"bad suite name":  "suites: [{name: 'a:b', source: x}]\n",
		"duplicate suite": "suites: [{name: a, source: x}, {name: a, source: y}]\n",
		"no source":       "suites: [{name: a}]\n",
		"two sources":     "suites: [{name: a, source: x, debs: [y.deb]}]\n",
		"bad github":      "suites: [{name: a, github: [nothing]}]\n",
		"missing define":  "suites: [{name: a, source: '{{.nope}}'}]\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := write(t, t.TempDir(), "debstore.yml", content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := write(t, t.TempDir(), "debstore.yml", "suites: [{name: 'a b', source: x}]\n")
	_, err = Load(path)
	assert.ErrorIs(t, err, suite.ErrInvalidName)
}

func TestDefault(t *testing.T) {
	m := Default()
	assert.Equal(t, DefaultDriver, m.Store.Driver)
	assert.Equal(t, DefaultDSN, m.Store.DSN)
	assert.NoError(t, m.Validate())
}

func TestSigningKey(t *testing.T) {
	m := Default()
	key, err := m.SigningKey()
	require.NoError(t, err)
	assert.Empty(t, key)

	m.SigningKeyEnv = "DEBSTORE_TEST_SIGNING_KEY"
	t.Setenv("DEBSTORE_TEST_SIGNING_KEY", "")
	_, err = m.SigningKey()
	assert.Error(t, err)

	t.Setenv("DEBSTORE_TEST_SIGNING_KEY", "armored")
	key, err = m.SigningKey()
	require.NoError(t, err)
	assert.Equal(t, "armored", key)
}
