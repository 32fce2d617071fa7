// Package entitykey builds and parses the textual identity of a mirrored entity
// Format is <backend>:<kind>:<natural_key> with a normalized natural key
// Normalization pipeline
// 1 drop invalid UTF-8
// 2 Unicode NFKC
// 3 case folding
// 4 strip format chars (ZWJ, ZWNJ, BOM)
// 5 width fold fullwidth to ASCII
// 6 trim surrounding whitespace and slashes
package entitykey

import (
	"strings"
	"sync"
	"unicode"

	perr "curator/internal/platform/errors"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Kind is the entity kind within a backend
type Kind string

const (
	// Account is a user or organization
	Account Kind = "account"
	// Repository is a code repository owned by an account
	Repository Kind = "repository"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool { return k == Account || k == Repository }

// Key is the (backend, kind, natural key) identity
type Key struct {
	Backend string
	Kind    Kind
	Natural string
}

const sep = ":"

var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKC,
			cases.Fold(),
			runes.Remove(runes.In(unicode.Cf)),
			width.Fold,
		)
	},
}

// Normalize folds a natural key into its canonical comparable form
func Normalize(s string) string {
	s = strings.ToValidUTF8(strings.TrimSpace(s), "")
	if s == "" {
		return ""
	}
	tr := chainPool.Get().(transform.Transformer)
	ns, _, _ := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)
	return strings.Trim(strings.TrimSpace(ns), "/")
}

// New validates and normalizes the parts of a key
func New(backend string, kind Kind, natural string) (Key, error) {
	b := strings.ToLower(strings.TrimSpace(backend))
	if b == "" || strings.Contains(b, sep) {
		return Key{}, perr.InvalidArgf("entity key: bad backend %q", backend)
	}
	if !kind.Valid() {
		return Key{}, perr.InvalidArgf("entity key: bad kind %q", kind)
	}
	n := Normalize(natural)
	if n == "" {
		return Key{}, perr.InvalidArgf("entity key: empty natural key")
	}
	if kind == Repository && strings.Count(n, "/") != 1 {
		return Key{}, perr.InvalidArgf("entity key: repository key must be owner/name, got %q", natural)
	}
	if kind == Account && strings.Contains(n, "/") {
		return Key{}, perr.InvalidArgf("entity key: account key must not contain '/', got %q", natural)
	}
	return Key{Backend: b, Kind: kind, Natural: n}, nil
}

// MustNew is New for static keys in tests and wiring
func MustNew(backend string, kind Kind, natural string) Key {
	k, err := New(backend, kind, natural)
	if err != nil {
		panic(err)
	}
	return k
}

// Parse reads a textual key produced by String
func Parse(s string) (Key, error) {
	parts := strings.SplitN(strings.TrimSpace(s), sep, 3)
	if len(parts) != 3 {
		return Key{}, perr.InvalidArgf("entity key: want backend:kind:natural, got %q", s)
	}
	return New(parts[0], Kind(parts[1]), parts[2])
}

// String renders the key in its wire form
func (k Key) String() string {
	return k.Backend + sep + string(k.Kind) + sep + k.Natural
}

// IsZero reports an unset key
func (k Key) IsZero() bool { return k == Key{} }

// Owner returns the owning account key for a repository
func (k Key) Owner() (Key, bool) {
	if k.Kind != Repository {
		return Key{}, false
	}
	owner, _, ok := strings.Cut(k.Natural, "/")
	if !ok || owner == "" {
		return Key{}, false
	}
	return Key{Backend: k.Backend, Kind: Account, Natural: owner}, true
}

// Principal is the account login that owns the entity, used to prefer that account's credential
func (k Key) Principal() string {
	if k.Kind == Account {
		return k.Natural
	}
	if o, ok := k.Owner(); ok {
		return o.Natural
	}
	return ""
}
