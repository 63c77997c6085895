// Package publish turns an exported Packages index into the files of a flat
// APT repository: Packages, Packages.gz, Release and, when a signing key is
// given, InRelease with the matching public keys.
//
// Reference: https://wiki.debian.org/DebianRepository/Format#Flat_Repository_Format
package publish

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"

	"github.com/etnz/debstore/deb"
	"github.com/etnz/debstore/events"
)

// ErrNoPrivateKey is returned when the signing key ring holds no private key.
var ErrNoPrivateKey = errors.New("no private key found")

// ArchiveInfo holds metadata about the repository itself.
// These fields are written to the 'Release' file. Empty fields are omitted.
//
// Reference: https://wiki.debian.org/DebianRepository/Format#Release_file
type ArchiveInfo struct {
	Origin      string `json:"origin,omitempty" yaml:"origin,omitempty"`
	Label       string `json:"label,omitempty" yaml:"label,omitempty"`
	Suite       string `json:"suite,omitempty" yaml:"suite,omitempty"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	Codename    string `json:"codename,omitempty" yaml:"codename,omitempty"`
	// Date defaults to the build time, formatted as RFC1123Z.
	Date string `json:"date,omitempty" yaml:"date,omitempty"`
	// ValidUntil specifies an expiration date for the Release file.
	ValidUntil    string `json:"valid_until,omitempty" yaml:"valid_until,omitempty"`
	Architectures string `json:"architectures,omitempty" yaml:"architectures,omitempty"`
	Components    string `json:"components,omitempty" yaml:"components,omitempty"`
	Description   string `json:"description,omitempty" yaml:"description,omitempty"`
	// NotAutomatic, if "yes", prevents the repository from being selected by default for upgrades.
	NotAutomatic         string `json:"not_automatic,omitempty" yaml:"not_automatic,omitempty"`
	ButAutomaticUpgrades string `json:"but_automatic_upgrades,omitempty" yaml:"but_automatic_upgrades,omitempty"`
	AcquireByHash        string `json:"acquire_by_hash,omitempty" yaml:"acquire_by_hash,omitempty"`
}

// Index is the content of every file of a published suite.
type Index struct {
	Packages         []byte
	PackagesGz       []byte
	Release          []byte
	InRelease        []byte
	PublicKey        []byte
	PublicKeyArmored []byte
}

// Build computes the repository files for the given Packages content.
// gpgKey is an ASCII-armored private key; signing is skipped when empty.
func Build(packages []byte, info ArchiveInfo, gpgKey string) (*Index, error) {
	idx := &Index{Packages: packages}

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	if _, err := gw.Write(packages); err != nil {
		return nil, fmt.Errorf("compressing Packages: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("compressing Packages: %w", err)
	}
	idx.PackagesGz = gz.Bytes()
	idx.Release = releaseFile(info, idx.Packages, idx.PackagesGz)

	if gpgKey == "" {
		return idx, nil
	}
	signer, err := readSigner(gpgKey)
	if err != nil {
		return nil, err
	}
	if idx.InRelease, err = clearSign(idx.Release, signer); err != nil {
		return nil, fmt.Errorf("signing InRelease: %w", err)
	}
	if idx.PublicKey, err = publicKey(signer, false); err != nil {
		return nil, fmt.Errorf("exporting public key: %w", err)
	}
	if idx.PublicKeyArmored, err = publicKey(signer, true); err != nil {
		return nil, fmt.Errorf("exporting public key: %w", err)
	}
	return idx, nil
}

// releaseFile generates the content of the 'Release' file for a flat repository.
func releaseFile(info ArchiveInfo, packages, packagesGz []byte) []byte {
	var b bytes.Buffer
	writeField := func(key deb.ReleaseField, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", key, value)
		}
	}

	writeField(deb.RelOrigin, info.Origin)
	writeField(deb.RelLabel, info.Label)
	writeField(deb.RelSuite, info.Suite)
	writeField(deb.RelVersion, info.Version)
	writeField(deb.RelCodename, info.Codename)
	if info.Date != "" {
		writeField(deb.RelDate, info.Date)
	} else {
		writeField(deb.RelDate, time.Now().UTC().Format(time.RFC1123Z))
	}
	writeField(deb.RelValidUntil, info.ValidUntil)
	writeField(deb.RelArchitectures, info.Architectures)
	writeField(deb.RelComponents, info.Components)
	writeField(deb.RelDescription, info.Description)
	writeField(deb.RelNotAutomatic, info.NotAutomatic)
	writeField(deb.RelButAutomaticUpgrades, info.ButAutomaticUpgrades)
	writeField(deb.RelAcquireByHash, info.AcquireByHash)
	fmt.Fprintf(&b, "%s:\n", deb.RelSHA256)
	fmt.Fprintf(&b, " %x %d %s\n", sha256.Sum256(packages), len(packages), "Packages")
	fmt.Fprintf(&b, " %x %d %s\n", sha256.Sum256(packagesGz), len(packagesGz), "Packages.gz")
	return b.Bytes()
}

// readSigner returns the first entity of the armored key ring holding a private key.
func readSigner(key string) (*openpgp.Entity, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	for _, e := range entities {
		if e.PrivateKey != nil {
			return e, nil
		}
	}
	return nil, ErrNoPrivateKey
}

func clearSign(input []byte, signer *openpgp.Entity) ([]byte, error) {
	var out bytes.Buffer
	w, err := clearsign.Encode(&out, signer.PrivateKey, nil)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(input); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func publicKey(signer *openpgp.Entity, armored bool) ([]byte, error) {
	var buf bytes.Buffer
	if !armored {
		if err := signer.Serialize(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := signer.Serialize(w); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Files returns the name and content of every non-empty file of the index.
func (idx *Index) Files() map[string][]byte {
	files := map[string][]byte{
		"Packages":    idx.Packages,
		"Packages.gz": idx.PackagesGz,
		"Release":     idx.Release,
		"InRelease":   idx.InRelease,
		"public.gpg":  idx.PublicKey,
		"public.asc":  idx.PublicKeyArmored,
	}
	for name, content := range files {
		if content == nil {
			delete(files, name)
		}
	}
	return files
}

// SaveTo writes the index files into dir, creating it if needed. Files whose
// content did not change are left untouched. Every file is reported to l.
func (idx *Index) SaveTo(dir string, l events.Listener) error {
	if len(idx.Release) == 0 {
		return fmt.Errorf("indices not computed")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, name := range []string{"Packages", "Packages.gz", "Release", "InRelease", "public.gpg", "public.asc"} {
		content, ok := idx.Files()[name]
		if !ok {
			continue
		}
		path := filepath.Join(dir, name)
		op := events.EventFileOperation{Path: path, NewDigest: digest(content)}
		old, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			op.Created = true
		case err != nil:
			return err
		default:
			op.OldDigest = digest(old)
			op.Updated = op.OldDigest != op.NewDigest
		}
		if op.Created || op.Updated {
			if err := writeFileAtomic(path, content); err != nil {
				return err
			}
		}
		l.Emit(op)
	}
	return nil
}

func digest(b []byte) string { return fmt.Sprintf("%x", sha256.Sum256(b)) }

// writeFileAtomic replaces path so readers never see a partial file.
func writeFileAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
