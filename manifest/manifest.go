// Package manifest loads the declarative description of a debstore
// deployment: where the store lives, how to log, and which suites to keep in
// sync with which sources.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/etnz/debstore/github"
	"github.com/etnz/debstore/publish"
	"github.com/etnz/debstore/records"
	"github.com/etnz/debstore/suite"
)

// Defaults used for every field the manifest leaves empty.
const (
	DefaultDriver    = "sqlite"
	DefaultDSN       = "debstore.db"
	DefaultLogFormat = "text"
	DefaultLogLevel  = "info"
)

// Manifest is the content of a debstore configuration file.
type Manifest struct {
	// Defines is a map of variables available to templates in paths and URLs.
	Defines map[string]string `json:"defines" yaml:"defines"`

	Store  Store  `json:"store" yaml:"store"`
	Log    Log    `json:"log" yaml:"log"`
	Export Export `json:"export" yaml:"export"`

	// ArchiveInfo is written to the Release file of every published suite.
	ArchiveInfo publish.ArchiveInfo `json:"archive_info" yaml:"archive_info"`
	// SigningKeyEnv names the environment variable holding the ASCII-armored
	// private key used to sign published suites.
	SigningKeyEnv string `json:"signing_key_env" yaml:"signing_key_env"`
	// GitHubTokenEnv names the environment variable holding a GitHub token.
	GitHubTokenEnv string `json:"github_token_env" yaml:"github_token_env"`
	// MetricsFile is where counters are written after a run, if set.
	MetricsFile string `json:"metrics_file" yaml:"metrics_file"`

	Suites []Suite `json:"suites" yaml:"suites"`

	filePath string
}

// Store selects the document store.
type Store struct {
	// Driver is "sqlite", "postgres" or "memory".
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type Log struct {
	Format string `json:"format" yaml:"format"`
	Level  string `json:"level" yaml:"level"`
}

type Export struct {
	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// Suite declares where a suite's membership comes from: a Packages index, or
// a list of .deb archives.
type Suite struct {
	Name string `json:"name" yaml:"name"`
	// Source is the path or URL of a Packages index, possibly compressed.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	// Debs are paths or URLs of .deb archives.
	Debs []string `json:"debs,omitempty" yaml:"debs,omitempty"`
	// GitHub lists "owner/name" repositories whose release assets are added
	// to Debs.
	GitHub []string `json:"github,omitempty" yaml:"github,omitempty"`
	// BaseURL prefixes the Filename field of records built from Debs.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// Publish is the directory the suite is published to after a sync, if set.
	Publish string `json:"publish,omitempty" yaml:"publish,omitempty"`
}

// Default returns the manifest used when no file is given.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

// Load reads and validates the manifest at path. It supports both JSON and
// YAML formats based on the file extension. Templates are rendered and
// relative paths are resolved against the manifest's directory.
func Load(path string) (*Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := unmarshal(path, content, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	m.filePath = path
	m.applyDefaults()
	if err := m.render(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Store.Driver == "" {
		m.Store.Driver = DefaultDriver
	}
	if m.Store.DSN == "" && m.Store.Driver == DefaultDriver {
		m.Store.DSN = DefaultDSN
	}
	if m.Log.Format == "" {
		m.Log.Format = DefaultLogFormat
	}
	if m.Log.Level == "" {
		m.Log.Level = DefaultLogLevel
	}
	if m.Export.BatchSize <= 0 {
		m.Export.BatchSize = records.DefaultBatchSize
	}
}

func (m *Manifest) render() error {
	engine := newTemplateEngine(m.Defines)
	var err error
	if m.Store.DSN, err = engine.render("store.dsn", m.Store.DSN); err != nil {
		return fmt.Errorf("rendering store dsn: %w", err)
	}
	if m.Store.Driver == DefaultDriver && !strings.HasPrefix(m.Store.DSN, "file:") && m.Store.DSN != ":memory:" {
		m.Store.DSN = m.resolve(m.Store.DSN)
	}
	for i := range m.Suites {
		s := &m.Suites[i]
		local := engine.sub(map[string]string{"suite": s.Name})
		if s.Source, err = local.render(s.Name+".source", s.Source); err != nil {
			return fmt.Errorf("rendering source of %s: %w", s.Name, err)
		}
		if s.Source != "" {
			s.Source = m.resolve(s.Source)
		}
		for j, d := range s.Debs {
			if d, err = local.render(s.Name+".debs", d); err != nil {
				return fmt.Errorf("rendering debs of %s: %w", s.Name, err)
			}
			s.Debs[j] = m.resolve(d)
		}
		if s.BaseURL, err = local.render(s.Name+".base_url", s.BaseURL); err != nil {
			return fmt.Errorf("rendering base_url of %s: %w", s.Name, err)
		}
		if s.Publish, err = local.render(s.Name+".publish", s.Publish); err != nil {
			return fmt.Errorf("rendering publish of %s: %w", s.Name, err)
		}
		if s.Publish != "" {
			s.Publish = m.resolve(s.Publish)
		}
	}
	return nil
}

// Validate checks suite names and sources.
func (m *Manifest) Validate() error {
	switch m.Store.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", m.Store.Driver)
	}
	seen := make(map[string]bool)
	for _, s := range m.Suites {
		if err := suite.ValidateName(s.Name); err != nil {
			return err
		}
		if seen[s.Name] {
			return fmt.Errorf("suite %s declared twice", s.Name)
		}
		seen[s.Name] = true
		if (s.Source == "") == (len(s.Debs)+len(s.GitHub) == 0) {
			return fmt.Errorf("suite %s must declare either a source or debs", s.Name)
		}
		for _, r := range s.GitHub {
			if _, err := github.ParseRepo(r); err != nil {
				return fmt.Errorf("suite %s: %w", s.Name, err)
			}
		}
	}
	return nil
}

// SigningKey returns the signing key from the configured environment
// variable, or "" when none is configured.
func (m *Manifest) SigningKey() (string, error) {
	if m.SigningKeyEnv == "" {
		return "", nil
	}
	key := os.Getenv(m.SigningKeyEnv)
	if key == "" {
		return "", fmt.Errorf("environment variable %s is empty", m.SigningKeyEnv)
	}
	return key, nil
}

// Lookup returns the declared suite with that name.
func (m *Manifest) Lookup(name string) (Suite, bool) {
	for _, s := range m.Suites {
		if s.Name == name {
			return s, true
		}
	}
	return Suite{}, false
}

func (m *Manifest) resolve(path string) string {
	if m.filePath == "" || filepath.IsAbs(path) || strings.Contains(path, "://") {
		return path
	}
	return filepath.Join(filepath.Dir(m.filePath), path)
}

// unmarshal parses JSON or YAML based on file extension.
func unmarshal(path string, data []byte, v interface{}) error {
	ext := strings.ToLower(filepath.Ext(path))
	r := bytes.NewReader(data)
	if ext == ".yaml" || ext == ".yml" {
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		return dec.Decode(v)
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
