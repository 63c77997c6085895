package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/etnz/debstore/events"
)

type fakeExporter map[string]string

func (f fakeExporter) WritePackages(_ context.Context, name string, w io.Writer) (int, error) {
	content, ok := f[name]
	if !ok {
		return 0, errors.New("no such suite")
	}
	_, err := io.WriteString(w, content)
	return strings.Count(content, "Package:"), err
}

func TestSuite(t *testing.T) {
	dir := t.TempDir()
	var published []events.EventSuitePublished
	l := func(e fmt.Stringer) {
		if p, ok := e.(events.EventSuitePublished); ok {
			published = append(published, p)
		}
	}

	src := fakeExporter{"stable": packages}
	if err := Suite(context.Background(), src, "stable", dir, ArchiveInfo{Origin: "MyOrg"}, "", l); err != nil {
		t.Fatalf("Suite failed: %v", err)
	}
	release, err := os.ReadFile(filepath.Join(dir, "Release"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(release), "Suite: stable\n") {
		t.Errorf("Release does not name the suite:\n%s", release)
	}
	if len(published) != 1 || published[0].Suite != "stable" || published[0].Signed {
		t.Errorf("unexpected events: %+v", published)
	}

	if err := Suite(context.Background(), src, "missing", dir, ArchiveInfo{}, "", nil); err == nil {
		t.Error("expected an error for an unknown suite")
	}
}
