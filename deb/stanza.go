package deb

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"
	"unicode/utf8"
)

// ErrParse is the sentinel wrapped by every ParseError.
var ErrParse = errors.New("malformed stanza")

// ParseError reports the 1-based line number of a line that is not valid
// UTF-8, or that is neither a field, a continuation of a field, nor a blank
// separator.
type ParseError struct {
	Line int
	Text string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d: %q", e.Line, e.Text)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// Field is one "Name:Value" pair of a stanza.
//
// Value holds the text after the first colon exactly as read, leading space
// and continuation lines included.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Stanza is an ordered list of fields, as found between two blank lines of a
// control file or a Packages index. Order and duplicates are preserved: the
// verbatim sequence is what identifies a package's content.
type Stanza []Field

// Get returns the trimmed value of the field called name, compared
// case-insensitively. When the name occurs more than once the last one wins.
func (s Stanza) Get(name string) (string, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if strings.EqualFold(s[i].Name, name) {
			return strings.TrimSpace(s[i].Value), true
		}
	}
	return "", false
}

// Normalized returns the lookup view of the stanza: lower-cased names mapped
// to trimmed values, last duplicate wins.
func (s Stanza) Normalized() map[string]string {
	m := make(map[string]string, len(s))
	for _, f := range s {
		m[strings.ToLower(f.Name)] = strings.TrimSpace(f.Value)
	}
	return m
}

// Equal reports whether both stanzas hold the same fields, verbatim and in the same order.
func (s Stanza) Equal(o Stanza) bool {
	return slices.Equal(s, o)
}

// Append returns a copy of s with a field added in the conventional
// "Name: value" form.
func (s Stanza) Append(name, value string) Stanza {
	out := slices.Clip(slices.Clone(s))
	return append(out, Field{Name: name, Value: " " + value})
}

// WriteTo writes the stanza followed by a blank line. Reading the output back
// yields an equal stanza.
func (s Stanza) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	for _, f := range s {
		bw.WriteString(f.Name)
		bw.WriteByte(':')
		bw.WriteString(f.Value)
		bw.WriteByte('\n')
	}
	bw.WriteByte('\n')
	err := bw.Flush()
	return cw.n, err
}

func (s Stanza) String() string {
	var b strings.Builder
	s.WriteTo(&b)
	return b.String()
}

// StanzaReader reads stanzas one at a time from a control file or Packages index.
//
// Lines are separated by '\n' only. A blank line closes the current stanza;
// runs of blank lines do not produce empty stanzas. A line starting with a
// space or a tab continues the previous field. Any other line must contain a
// colon. Every line must be valid UTF-8.
type StanzaReader struct {
	r    *bufio.Reader
	line int
	err  error
}

// NewStanzaReader returns a reader consuming r lazily.
func NewStanzaReader(r io.Reader) *StanzaReader {
	return &StanzaReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next stanza, or io.EOF once the input is exhausted.
// After a ParseError every call returns the same error.
func (r *StanzaReader) Next() (Stanza, error) {
	if r.err != nil {
		return nil, r.err
	}
	var st Stanza
	for {
		text, err := r.r.ReadString('\n')
		if err != nil && err != io.EOF {
			r.err = err
			return nil, err
		}
		if text != "" {
			r.line++
			line := strings.TrimSuffix(text, "\n")
			switch {
			case !utf8.ValidString(line):
				r.err = &ParseError{Line: r.line, Text: line}
				return nil, r.err
			case line == "":
				if len(st) > 0 {
					return st, nil
				}
			case line[0] == ' ' || line[0] == '\t':
				if len(st) == 0 {
					r.err = &ParseError{Line: r.line, Text: line}
					return nil, r.err
				}
				st[len(st)-1].Value += "\n" + line
			default:
				name, value, ok := strings.Cut(line, ":")
				if !ok {
					r.err = &ParseError{Line: r.line, Text: line}
					return nil, r.err
				}
				st = append(st, Field{Name: name, Value: value})
			}
		}
		if err == io.EOF {
			// the last stanza need not be followed by a blank line
			r.err = io.EOF
			if len(st) > 0 {
				return st, nil
			}
			return nil, io.EOF
		}
	}
}

// All iterates over the remaining stanzas. Iteration stops after the first error.
func (r *StanzaReader) All() iter.Seq2[Stanza, error] {
	return func(yield func(Stanza, error) bool) {
		for {
			st, err := r.Next()
			if err == io.EOF {
				return
			}
			if !yield(st, err) || err != nil {
				return
			}
		}
	}
}

// ParseStanzas parses every stanza of text.
func ParseStanzas(text string) ([]Stanza, error) {
	var out []Stanza
	for st, err := range NewStanzaReader(strings.NewReader(text)).All() {
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// countingWriter wraps an io.Writer and counts the bytes written.
type countingWriter struct {
	w io.Writer
	n int64
}

// Write writes p to the underlying io.Writer and increments the byte count.
func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
