package deb

import (
	"cmp"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidVersion is the sentinel wrapped by every InvalidVersionError.
var ErrInvalidVersion = errors.New("invalid version")

// Version components named by InvalidVersionError.
const (
	ComponentEpoch    = "epoch"
	ComponentUpstream = "upstream"
	ComponentRevision = "revision"
)

var (
	reEpoch    = regexp.MustCompile(`^[0-9]+$`)
	reRevision = regexp.MustCompile(`^[A-Za-z0-9+.~]+$`)
	reUpstream = regexp.MustCompile(`^[A-Za-z0-9+:.~-]+$`)
)

// ordering is the total order used to compare the non-digit runs of a version.
// '$' stands for the terminator appended to every run: it sorts just above '~'
// and below every letter, so "1.0~rc1" < "1.0" < "1.0a".
const ordering = "~$ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz+-.:"

const terminator = '$'

// InvalidVersionError reports which component of a version string failed validation.
type InvalidVersionError struct {
	Version   string
	Component string
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid version %q: bad %s", e.Version, e.Component)
}

func (e *InvalidVersionError) Unwrap() error { return ErrInvalidVersion }

// Version is a parsed Debian-style version identifier: [epoch:]upstream[-revision].
//
// A missing epoch is 0 and a missing revision is "0", so "1.0" and "0:1.0-0"
// compare equal. Epoch holds the digits of the epoch without leading zeros,
// and is unbounded.
type Version struct {
	Epoch    string
	Upstream string
	Revision string
}

// ParseVersion parses s into a Version.
//
// The epoch is everything before the first ':', the revision everything after
// the last '-'. What remains is the upstream part, which may itself contain
// ':' and '-'.
func ParseVersion(s string) (Version, error) {
	v := Version{Epoch: "0", Revision: "0"}
	rest := s

	if epoch, after, ok := strings.Cut(rest, ":"); ok {
		if !reEpoch.MatchString(epoch) {
			return Version{}, &InvalidVersionError{Version: s, Component: ComponentEpoch}
		}
		if n := strings.TrimLeft(epoch, "0"); n != "" {
			v.Epoch = n
		}
		rest = after
	}

	if i := strings.LastIndexByte(rest, '-'); i >= 0 {
		v.Revision = rest[i+1:]
		rest = rest[:i]
		if !reRevision.MatchString(v.Revision) {
			return Version{}, &InvalidVersionError{Version: s, Component: ComponentRevision}
		}
	}

	if !reUpstream.MatchString(rest) {
		return Version{}, &InvalidVersionError{Version: s, Component: ComponentUpstream}
	}
	v.Upstream = rest
	return v, nil
}

// String renders the version in its fully qualified form, epoch and revision
// included. The result parses back to an equal Version.
func (v Version) String() string {
	return fmt.Sprintf("%s:%s-%s", v.Epoch, v.Upstream, v.Revision)
}

// Compare returns -1, 0 or +1 as v sorts before, equal to, or after o.
func (v Version) Compare(o Version) int {
	return CompareVersions(v, o)
}

// CompareVersions compares two versions: epochs numerically, then upstream
// parts, then revisions.
func CompareVersions(a, b Version) int {
	if c := compareDigits(a.Epoch, b.Epoch); c != 0 {
		return c
	}
	if c := compareFragments(a.Upstream, b.Upstream); c != 0 {
		return c
	}
	return compareFragments(a.Revision, b.Revision)
}

// Compare parses and compares two version strings.
func Compare(a, b string) (int, error) {
	va, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	return CompareVersions(va, vb), nil
}

// compareFragments peels (non-digit run, digit run) pairs off both strings in
// lock-step until one pair differs or both strings are consumed.
func compareFragments(a, b string) int {
	for a != "" || b != "" {
		var an, bn, ad, bd string
		an, a = splitRun(a, false)
		bn, b = splitRun(b, false)
		ad, a = splitRun(a, true)
		bd, b = splitRun(b, true)

		if c := compareText(an, bn); c != 0 {
			return c
		}
		if c := compareDigits(ad, bd); c != 0 {
			return c
		}
	}
	return 0
}

// splitRun returns the leading run of digits (or non-digits) of s and the rest.
func splitRun(s string, digits bool) (string, string) {
	i := 0
	for i < len(s) && isDigit(s[i]) == digits {
		i++
	}
	return s[:i], s[i:]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// compareText compares two non-digit runs, each padded with the terminator.
func compareText(a, b string) int {
	for i := 0; ; i++ {
		ra, rb := rankAt(a, i), rankAt(b, i)
		if ra != rb {
			return cmp.Compare(ra, rb)
		}
		if i >= len(a) && i >= len(b) {
			return 0
		}
	}
}

func rankAt(s string, i int) int {
	if i >= len(s) {
		return strings.IndexByte(ordering, terminator)
	}
	return strings.IndexByte(ordering, s[i])
}

// compareDigits compares two digit runs as unbounded integers; an empty run is 0.
func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if c := cmp.Compare(len(a), len(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}
