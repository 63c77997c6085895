package deb

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"github.com/ulikunitz/xz"
)

// addBufferToAr writes a named byte slice as a file entry to the AR archive.
func addBufferToAr(t *testing.T, w *ar.Writer, name string, body []byte) {
	t.Helper()
	header := &ar.Header{
		Name:    name,
		Size:    int64(len(body)),
		Mode:    0644,
		ModTime: time.Now(),
	}
	if err := w.WriteHeader(header); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if _, err := w.Write(body); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func controlTar(t *testing.T, controlContent string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	// conffiles first, so the reader has to skip an entry
	tw.WriteHeader(&tar.Header{Name: "./conffiles", Mode: 0644, Size: 0})
	hdr := &tar.Header{
		Name: "./control",
		Mode: 0644,
		Size: int64(len(controlContent)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	tw.Write([]byte(controlContent))
	tw.Close()
	return buf.Bytes()
}

// createMockDebBytes builds a .deb with the control member compressed as member.
func createMockDebBytes(t *testing.T, member PackageFile, controlContent string) []byte {
	t.Helper()
	raw := controlTar(t, controlContent)

	var body bytes.Buffer
	switch member {
	case PkgControlTarGz:
		gw := gzip.NewWriter(&body)
		gw.Write(raw)
		gw.Close()
	case PkgControlTarXz:
		xw, err := xz.NewWriter(&body)
		if err != nil {
			t.Fatal(err)
		}
		xw.Write(raw)
		xw.Close()
	default:
		body.Write(raw)
	}

	var buf bytes.Buffer
	arW := ar.NewWriter(&buf)
	arW.WriteGlobalHeader()
	addBufferToAr(t, arW, string(PkgDebianBinary), []byte("2.0\n"))
	addBufferToAr(t, arW, string(member), body.Bytes())
	addBufferToAr(t, arW, string(PkgDataTarGz), []byte("dummy data"))
	return buf.Bytes()
}

func TestReadControl(t *testing.T) {
	control := "Package: test\nVersion: 1.0\nArchitecture: amd64\nDescription: a test\n multi line\n"
	for _, member := range []PackageFile{PkgControlTarGz, PkgControlTarXz, PkgControlTar} {
		st, err := ReadControl(bytes.NewReader(createMockDebBytes(t, member, control)))
		if err != nil {
			t.Fatalf("%s: ReadControl failed: %v", member, err)
		}
		if st.String() != control+"\n" {
			t.Errorf("%s: expected %q, got %q", member, control+"\n", st.String())
		}
	}
}

func TestReadControlMissing(t *testing.T) {
	var buf bytes.Buffer
	arW := ar.NewWriter(&buf)
	arW.WriteGlobalHeader()
	addBufferToAr(t, arW, string(PkgDebianBinary), []byte("2.0\n"))

	_, err := ReadControl(&buf)
	if !errors.Is(err, ErrNoControl) {
		t.Errorf("expected ErrNoControl, got %v", err)
	}
}

func TestReadPackage(t *testing.T) {
	control := "Package: test\nVersion: 1.0\nArchitecture: amd64\n"
	debBytes := createMockDebBytes(t, PkgControlTarGz, control)

	pkg, err := ReadPackage(bytes.NewReader(debBytes), "pool/t/test_1.0_amd64.deb")
	if err != nil {
		t.Fatalf("ReadPackage failed: %v", err)
	}
	if pkg.Size != int64(len(debBytes)) {
		t.Errorf("expected size %d, got %d", len(debBytes), pkg.Size)
	}
	hash := sha256.Sum256(debBytes)
	if pkg.SHA256 != hex.EncodeToString(hash[:]) {
		t.Errorf("hash mismatch")
	}

	idx := pkg.IndexStanza()
	if got, _ := idx.Get("Filename"); got != "pool/t/test_1.0_amd64.deb" {
		t.Errorf("unexpected Filename %q", got)
	}
	if got, _ := idx.Get("SHA256"); got != pkg.SHA256 {
		t.Errorf("unexpected SHA256 %q", got)
	}
	if len(pkg.Control) != 3 {
		t.Errorf("IndexStanza modified the control stanza")
	}
}

func TestReadPackageNotAnArchive(t *testing.T) {
	_, err := ReadPackage(io.LimitReader(bytes.NewReader([]byte("not an ar archive at all")), 100), "x.deb")
	if err == nil {
		t.Error("expected an error for a non-ar input")
	}
}
