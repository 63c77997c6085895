package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/etnz/debstore/events"
)

// Exporter writes a suite in Packages index format.
type Exporter interface {
	WritePackages(ctx context.Context, name string, w io.Writer) (int, error)
}

// Suite exports the named suite and publishes it as a flat repository in dir.
// info.Suite defaults to the suite name.
func Suite(ctx context.Context, src Exporter, name, dir string, info ArchiveInfo, gpgKey string, l events.Listener) error {
	var buf bytes.Buffer
	if _, err := src.WritePackages(ctx, name, &buf); err != nil {
		return fmt.Errorf("exporting %s: %w", name, err)
	}
	if info.Suite == "" {
		info.Suite = name
	}
	idx, err := Build(buf.Bytes(), info, gpgKey)
	if err != nil {
		return fmt.Errorf("building %s: %w", name, err)
	}
	if err := idx.SaveTo(dir, l); err != nil {
		return fmt.Errorf("saving %s: %w", name, err)
	}
	l.Emit(events.EventSuitePublished{Suite: name, Path: dir, Signed: gpgKey != ""})
	return nil
}
