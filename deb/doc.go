// Package deb reads and writes the textual building blocks of a Debian archive.
//
// # Versions
//
// ParseVersion splits a version string into epoch, upstream and revision, and
// CompareVersions orders two versions. Non-digit runs are compared with a fixed
// character order in which '~' sorts lowest, followed by the end of the run,
// upper-case letters, lower-case letters, and finally '+', '-', '.', ':'.
// Digit runs compare as integers of any length.
//
// # Stanzas
//
// A Stanza is the ordered list of "Name:Value" fields found between blank lines
// in a control file or a Packages index. StanzaReader parses them lazily and
// Stanza.WriteTo writes them back byte for byte: values are kept untrimmed, and
// duplicate fields and field order are preserved. The Normalized view
// (lower-cased names, trimmed values) serves lookups only.
//
// # Archives
//
// ReadControl extracts the control stanza from a .deb archive and ReadPackage
// additionally computes the size and digest recorded in a Packages index.
package deb
