package records

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/package-url/packageurl-go"
)

// DefaultNamespace is the package URL namespace used when none is configured.
const DefaultNamespace = "debian"

// Derived computes values derived from a record's content. Records are
// immutable, so results are memoized by record identifier.
type Derived struct {
	namespace string
	digests   *lru.Cache[ID, string]
	purls     *lru.Cache[ID, string]
}

// NewDerived returns accessors caching up to size results of each kind.
// namespace is the distribution name used in package URLs.
func NewDerived(size int, namespace string) (*Derived, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	digests, err := lru.New[ID, string](size)
	if err != nil {
		return nil, err
	}
	purls, err := lru.New[ID, string](size)
	if err != nil {
		return nil, err
	}
	return &Derived{namespace: namespace, digests: digests, purls: purls}, nil
}

// Digest returns the hex SHA256 of the record's stanza as it is exported.
// Stanzas read by deb.StanzaReader have the same digest exactly when their
// fields are equal. Stanzas built in code may render to the same text, and so
// share a digest, while holding different fields.
func (d *Derived) Digest(rec *Record) string {
	if v, ok := d.digests.Get(rec.ID); ok {
		return v
	}
	h := sha256.New()
	rec.Fields.WriteTo(h)
	v := hex.EncodeToString(h.Sum(nil))
	d.digests.Add(rec.ID, v)
	return v
}

// PURL returns the package URL of the record, for instance
// "pkg:deb/debian/curl@7.68.0-1?arch=amd64".
func (d *Derived) PURL(rec *Record) string {
	if v, ok := d.purls.Get(rec.ID); ok {
		return v
	}
	q := packageurl.QualifiersFromMap(map[string]string{"arch": rec.Architecture})
	v := packageurl.NewPackageURL(packageurl.TypeDebian, d.namespace, rec.Package, rec.Version, q, "").ToString()
	d.purls.Add(rec.ID, v)
	return v
}
