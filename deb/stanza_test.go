package deb

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestStanzaReaderBasic(t *testing.T) {
	text := "Package: foo\nVersion: 1.0\n\nPackage: bar\nVersion: 2.0\nArchitecture: all"
	stanzas, err := ParseStanzas(text)
	if err != nil {
		t.Fatalf("ParseStanzas failed: %v", err)
	}
	if len(stanzas) != 2 {
		t.Fatalf("expected 2 stanzas, got %d", len(stanzas))
	}
	if stanzas[0][0] != (Field{Name: "Package", Value: " foo"}) {
		t.Errorf("unexpected first field: %+v", stanzas[0][0])
	}
	if got, _ := stanzas[1].Get("architecture"); got != "all" {
		t.Errorf("final stanza without blank line lost its last field: %q", got)
	}
}

func TestStanzaReaderContinuation(t *testing.T) {
	text := "Package: foo\nDescription: short\n long line\n .\n\tindented\n"
	stanzas, err := ParseStanzas(text)
	if err != nil {
		t.Fatalf("ParseStanzas failed: %v", err)
	}
	want := " short\n long line\n .\n\tindented"
	if got := stanzas[0][1].Value; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestStanzaReaderSkipsEmptyStanzas(t *testing.T) {
	text := "\n\nPackage: a\n\n\n\nPackage: b\n\n\n"
	stanzas, err := ParseStanzas(text)
	if err != nil {
		t.Fatalf("ParseStanzas failed: %v", err)
	}
	if len(stanzas) != 2 {
		t.Errorf("expected 2 stanzas, got %d", len(stanzas))
	}
}

func TestStanzaReaderParseErrorLine(t *testing.T) {
	cases := []struct {
		text string
		line int
	}{
		{"Package: a\n\nbogus line\n", 3},
		{" continuation: first\n", 1},
		{"Package: a\nVersion: 1\n\n\tstray\nPackage: b\n", 4},
		{"Package: a\n\nPackage: b\nno colon here", 4},
		{"Package: a\nMaintainer: Jos\xe9 <j@x>\n", 2},
		{"Package: a\nDescription: x\n caf\xe9\n", 3},
	}
	for _, c := range cases {
		_, err := ParseStanzas(c.text)
		if !errors.Is(err, ErrParse) {
			t.Fatalf("%q: expected ErrParse, got %v", c.text, err)
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("%q: expected *ParseError, got %T", c.text, err)
		}
		if pe.Line != c.line {
			t.Errorf("%q: expected line %d, got %d", c.text, c.line, pe.Line)
		}
	}
}

func TestStanzaReaderStopsAfterError(t *testing.T) {
	r := NewStanzaReader(strings.NewReader("Package: a\n\nbad\n\nPackage: c\n"))
	if _, err := r.Next(); err != nil {
		t.Fatalf("first stanza: %v", err)
	}
	_, err := r.Next()
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	if _, again := r.Next(); again != err {
		t.Errorf("expected the same error again, got %v", again)
	}

	var seen int
	for _, err := range NewStanzaReader(strings.NewReader("Package: a\n\nbad\n\nPackage: c\n")).All() {
		seen++
		if err != nil {
			break
		}
	}
	if seen != 2 {
		t.Errorf("expected iteration to yield 2 results, got %d", seen)
	}
}

func TestStanzaReaderEOF(t *testing.T) {
	r := NewStanzaReader(strings.NewReader(""))
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestStanzaRoundTrip(t *testing.T) {
	text := "Package: foo\nVersion: 1.0\nDescription: x\n y\n\n" +
		"Package:bar\nVersion:  2.0  \npackage: dup\nX-Empty:\n\n"
	stanzas, err := ParseStanzas(text)
	if err != nil {
		t.Fatalf("ParseStanzas failed: %v", err)
	}
	var out bytes.Buffer
	for _, st := range stanzas {
		if _, err := st.WriteTo(&out); err != nil {
			t.Fatalf("WriteTo failed: %v", err)
		}
	}
	if out.String() != text {
		t.Errorf("round trip mismatch:\nwant %q\ngot  %q", text, out.String())
	}

	again, err := ParseStanzas(out.String())
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	for i := range stanzas {
		if !stanzas[i].Equal(again[i]) {
			t.Errorf("stanza %d differs after reparse", i)
		}
	}
}

func TestStanzaWriteToCount(t *testing.T) {
	st := Stanza{{Name: "Package", Value: " foo"}}
	var buf bytes.Buffer
	n, err := st.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	if n != int64(buf.Len()) || buf.String() != "Package: foo\n\n" {
		t.Errorf("unexpected output %q (%d bytes reported)", buf.String(), n)
	}
}

func TestStanzaNormalized(t *testing.T) {
	st := Stanza{
		{Name: "Package", Value: " foo "},
		{Name: "VERSION", Value: "\t1.0"},
		{Name: "package", Value: " bar"},
	}
	n := st.Normalized()
	if n["package"] != "bar" {
		t.Errorf("expected last duplicate to win, got %q", n["package"])
	}
	if n["version"] != "1.0" {
		t.Errorf("expected trimmed version, got %q", n["version"])
	}
	if v, ok := st.Get("Version"); !ok || v != "1.0" {
		t.Errorf("Get(Version) = %q, %v", v, ok)
	}
	if _, ok := st.Get("Architecture"); ok {
		t.Error("Get(Architecture) found a missing field")
	}
	// the verbatim payload is untouched
	if st[0].Value != " foo " {
		t.Errorf("normalization modified the stanza: %q", st[0].Value)
	}
}

func TestStanzaEqual(t *testing.T) {
	a := Stanza{{Name: "A", Value: " 1"}, {Name: "B", Value: " 2"}}
	b := Stanza{{Name: "B", Value: " 2"}, {Name: "A", Value: " 1"}}
	c := Stanza{{Name: "A", Value: "1"}, {Name: "B", Value: " 2"}}
	if !a.Equal(Stanza{{Name: "A", Value: " 1"}, {Name: "B", Value: " 2"}}) {
		t.Error("identical stanzas should be equal")
	}
	if a.Equal(b) {
		t.Error("field order must matter")
	}
	if a.Equal(c) {
		t.Error("whitespace in values must matter")
	}
}

func TestStanzaAppend(t *testing.T) {
	st := Stanza{{Name: "Package", Value: " foo"}}
	ext := st.Append("Size", "42")
	if len(st) != 1 {
		t.Error("Append modified the receiver")
	}
	if ext.String() != "Package: foo\nSize: 42\n\n" {
		t.Errorf("unexpected stanza %q", ext.String())
	}
}
