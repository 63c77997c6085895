package deb

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/ulikunitz/xz"
)

// ErrNoControl is returned when a .deb archive holds no control file.
var ErrNoControl = errors.New("control file not found")

// ReadControl reads a .deb archive from r and returns the stanza of its
// control file.
//
// The archive is streamed: members are visited in order and the
// 'control.tar', 'control.tar.gz' or 'control.tar.xz' member is decompressed
// on the fly. Reading stops as soon as the control file has been parsed.
func ReadControl(r io.Reader) (Stanza, error) {
	arR := ar.NewReader(r)
	for {
		header, err := arR.Next()
		if err == io.EOF {
			return nil, ErrNoControl
		}
		if err != nil {
			return nil, fmt.Errorf("reading ar member: %w", err)
		}
		name := strings.TrimSuffix(strings.TrimSpace(header.Name), "/")
		if !strings.HasPrefix(name, "control.tar") {
			continue
		}

		var tarStream io.Reader = arR
		switch path.Ext(name) {
		case ".gz":
			gzr, err := gzip.NewReader(arR)
			if err != nil {
				return nil, fmt.Errorf("opening %s: %w", name, err)
			}
			defer gzr.Close()
			tarStream = gzr
		case ".xz":
			xzr, err := xz.NewReader(arR)
			if err != nil {
				return nil, fmt.Errorf("opening %s: %w", name, err)
			}
			tarStream = xzr
		case ".tar":
		default:
			return nil, fmt.Errorf("unsupported control member %q", name)
		}

		tr := tar.NewReader(tarStream)
		for {
			th, err := tr.Next()
			if err == io.EOF {
				return nil, ErrNoControl
			}
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", name, err)
			}
			if path.Base(th.Name) != string(FileControl) {
				continue
			}
			st, err := NewStanzaReader(tr).Next()
			if err == io.EOF {
				return nil, fmt.Errorf("empty control file: %w", ErrNoControl)
			}
			return st, err
		}
	}
}

// Package is a .deb file as listed in a Packages index: its control stanza
// and the location, size and digest of the archive.
type Package struct {
	Control  Stanza
	Filename string
	Size     int64
	SHA256   string
}

// ReadPackage reads a whole .deb archive from r, extracting its control
// stanza while computing its size and SHA256 digest.
func ReadPackage(r io.Reader, filename string) (*Package, error) {
	h := sha256.New()
	cw := &countingWriter{w: h}
	tee := io.TeeReader(r, cw)

	control, err := ReadControl(tee)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	// the data member has not been read yet
	if _, err := io.Copy(io.Discard, tee); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &Package{
		Control:  control,
		Filename: filename,
		Size:     cw.n,
		SHA256:   hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// IndexStanza returns the control stanza extended with the Filename, Size and
// SHA256 fields that a Packages index carries for each archive.
func (p *Package) IndexStanza() Stanza {
	return p.Control.
		Append(string(FieldFilename), p.Filename).
		Append(string(FieldSize), strconv.FormatInt(p.Size, 10)).
		Append(string(FieldSHA256), p.SHA256)
}
