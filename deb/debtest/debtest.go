// Package debtest builds minimal .deb archives for tests.
package debtest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"time"

	"github.com/blakesmith/ar"
)

// Build returns a .deb archive whose control.tar.gz holds control and whose
// data.tar.gz is empty.
func Build(control string) ([]byte, error) {
	controlTar, err := tarGz(map[string]string{"./control": control})
	if err != nil {
		return nil, err
	}
	dataTar, err := tarGz(nil)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := ar.NewWriter(&buf)
	if err := w.WriteGlobalHeader(); err != nil {
		return nil, err
	}
	for _, m := range []struct {
		name string
		body []byte
	}{
		{"debian-binary", []byte("2.0\n")},
		{"control.tar.gz", controlTar},
		{"data.tar.gz", dataTar},
	} {
		hdr := &ar.Header{Name: m.name, Size: int64(len(m.body)), Mode: 0o644, ModTime: time.Unix(0, 0)}
		if err := w.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := w.Write(m.body); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func tarGz(files map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
