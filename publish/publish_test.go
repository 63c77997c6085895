package publish

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"

	"github.com/etnz/debstore/events"
)

const packages = "Package: curl\nVersion: 7.68.0-1\nArchitecture: amd64\n\n"

func generateTestKey(t *testing.T) string {
	entity, err := openpgp.NewEntity("Test", "test", "test@example.com", nil)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	if err != nil {
		t.Fatalf("armor encode failed: %v", err)
	}
	if err := entity.SerializePrivate(w, nil); err != nil {
		t.Fatalf("serialize failed: %v", err)
	}
	w.Close()
	return buf.String()
}

func TestBuildUnsigned(t *testing.T) {
	info := ArchiveInfo{Origin: "MyOrg", Suite: "stable", Date: "Mon, 01 Jan 2024 00:00:00 +0000", Architectures: "amd64"}
	idx, err := Build([]byte(packages), info, "")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(idx.PackagesGz))
	if err != nil {
		t.Fatal(err)
	}
	unzipped, _ := io.ReadAll(zr)
	if string(unzipped) != packages {
		t.Errorf("Packages.gz content = %q", unzipped)
	}

	release := string(idx.Release)
	wantLines := []string{
		"Origin: MyOrg\n",
		"Suite: stable\n",
		"Date: Mon, 01 Jan 2024 00:00:00 +0000\n",
		"Architectures: amd64\n",
		"SHA256:\n",
		fmt.Sprintf(" %x %d Packages\n", sha256.Sum256([]byte(packages)), len(packages)),
		fmt.Sprintf(" %x %d Packages.gz\n", sha256.Sum256(idx.PackagesGz), len(idx.PackagesGz)),
	}
	for _, want := range wantLines {
		if !strings.Contains(release, want) {
			t.Errorf("Release is missing %q:\n%s", want, release)
		}
	}
	if strings.Contains(release, "Label:") {
		t.Errorf("empty fields must be omitted:\n%s", release)
	}
	if idx.InRelease != nil || idx.PublicKey != nil {
		t.Error("unsigned index must not carry signatures")
	}
	if len(idx.Files()) != 3 {
		t.Errorf("got %d files, want 3", len(idx.Files()))
	}
}

func TestBuildDefaultDate(t *testing.T) {
	idx, err := Build(nil, ArchiveInfo{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(idx.Release), "Date: ") {
		t.Errorf("Release does not start with a date:\n%s", idx.Release)
	}
}

func TestBuildSigned(t *testing.T) {
	key := generateTestKey(t)
	idx, err := Build([]byte(packages), ArchiveInfo{Suite: "stable"}, key)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !strings.Contains(string(idx.InRelease), "-----BEGIN PGP SIGNED MESSAGE-----") {
		t.Fatal("InRelease does not look like a signed message")
	}
	if !strings.Contains(string(idx.PublicKeyArmored), "-----BEGIN PGP PUBLIC KEY BLOCK-----") {
		t.Error("public.asc is not an armored public key")
	}

	keyring, err := openpgp.ReadKeyRing(bytes.NewReader(idx.PublicKey))
	if err != nil {
		t.Fatalf("public.gpg is not a key ring: %v", err)
	}
	block, _ := clearsign.Decode(idx.InRelease)
	if block == nil {
		t.Fatal("InRelease is not clearsigned")
	}
	if _, err := openpgp.CheckDetachedSignature(keyring, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body, nil); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}
	if !strings.Contains(string(block.Plaintext), "Suite: stable") {
		t.Errorf("signed text = %q", block.Plaintext)
	}
}

func TestBuildBadKey(t *testing.T) {
	if _, err := Build(nil, ArchiveInfo{}, "not a key"); err == nil {
		t.Error("expected an error for an invalid key")
	}

	idx, err := Build(nil, ArchiveInfo{}, generateTestKey(t))
	if err != nil {
		t.Fatal(err)
	}
	_, err = Build(nil, ArchiveInfo{}, string(idx.PublicKeyArmored))
	if !errors.Is(err, ErrNoPrivateKey) {
		t.Errorf("got %v, want ErrNoPrivateKey", err)
	}
}

func TestSaveTo(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "repo")
	info := ArchiveInfo{Date: "Mon, 01 Jan 2024 00:00:00 +0000"}
	idx, err := Build([]byte(packages), info, "")
	if err != nil {
		t.Fatal(err)
	}

	var ops []events.EventFileOperation
	listener := func(e fmt.Stringer) { ops = append(ops, e.(events.EventFileOperation)) }

	if err := idx.SaveTo(dir, listener); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("got %d operations, want 3", len(ops))
	}
	for _, op := range ops {
		if !op.Created || op.OldDigest != "" {
			t.Errorf("%s: expected a creation, got %+v", op.Path, op)
		}
	}
	got, err := os.ReadFile(filepath.Join(dir, "Packages"))
	if err != nil || string(got) != packages {
		t.Errorf("Packages = %q, %v", got, err)
	}

	// same content again: nothing changes
	ops = nil
	if err := idx.SaveTo(dir, listener); err != nil {
		t.Fatal(err)
	}
	for _, op := range ops {
		if op.Created || op.Updated {
			t.Errorf("%s: expected no change, got %+v", op.Path, op)
		}
	}

	// a new package updates every file
	idx, err = Build([]byte(packages+"Package: wget\nVersion: 1.0\nArchitecture: amd64\n\n"), info, "")
	if err != nil {
		t.Fatal(err)
	}
	ops = nil
	if err := idx.SaveTo(dir, listener); err != nil {
		t.Fatal(err)
	}
	for _, op := range ops {
		if !op.Updated || op.OldDigest == op.NewDigest {
			t.Errorf("%s: expected an update, got %+v", op.Path, op)
		}
	}

	if err := (&Index{}).SaveTo(dir, nil); err == nil {
		t.Error("expected an error for an empty index")
	}
}
