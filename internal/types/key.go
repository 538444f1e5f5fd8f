package types

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	keyDelimiter  = '|'
	keyEscape     = '\\'
	suffixMarker  = "#"
	ordinalMarker = "-"
	tagLength     = 12
)

// Text fields that make up a natural key are bounded in characters so the
// longest possible key, every character escaped and with a suffix, stays
// within MaxKeyLength. That is the widest unique VARCHAR InnoDB can index
// under utf8mb4.
const (
	MaxAddressLength = 300
	MaxCountyLength  = 32
	MaxKeyLength     = 768
)

// NaturalKey identifies a transaction by its business fields.
type NaturalKey string

// DeriveKey computes the natural key of a record from its sale date, address,
// county and price. Text is NFC-normalized and delimiter characters inside
// text fields are escaped, so the key is unambiguous and identical for a
// freshly normalized record and for one read back from any store.
func DeriveKey(r CanonicalRecord) NaturalKey {
	var b strings.Builder
	b.Grow(len(r.Address) + len(r.County) + 32)

	b.WriteString(r.SaleDate.String())
	b.WriteByte(keyDelimiter)
	writeEscaped(&b, r.Address)
	b.WriteByte(keyDelimiter)
	writeEscaped(&b, r.County)
	b.WriteByte(keyDelimiter)
	b.WriteString(strconv.FormatInt(r.Price, 10))

	return NaturalKey(b.String())
}

func writeEscaped(b *strings.Builder, s string) {
	for _, r := range norm.NFC.String(s) {
		if r == keyDelimiter || r == keyEscape {
			b.WriteRune(keyEscape)
		}
		b.WriteRune(r)
	}
}

// Disambiguated returns the key of record r within a group of records that
// share the base key k. The suffix is a digest of the fields outside the
// natural key, so a record keeps its key whatever else joins or leaves the
// group. Records identical in every field are told apart by n, which is only
// written for n >= 2.
func (k NaturalKey) Disambiguated(r CanonicalRecord, n int) NaturalKey {
	key := k + NaturalKey(suffixMarker+contentTag(r))
	if n > 1 {
		key += NaturalKey(ordinalMarker + strconv.Itoa(n))
	}
	return key
}

func contentTag(r CanonicalRecord) string {
	h := sha256.New()
	h.Write([]byte(norm.NFC.String(r.PostalCode)))
	h.Write([]byte{0})
	h.Write([]byte(norm.NFC.String(string(r.Description))))
	return hex.EncodeToString(h.Sum(nil))[:tagLength]
}

// Base strips a disambiguation suffix, returning the key DeriveKey produces.
// The price is the last field and is all digits, so a '#' after the final
// delimiter can only start a suffix.
func (k NaturalKey) Base() NaturalKey {
	s := string(k)
	p := strings.LastIndexByte(s, keyDelimiter)
	if p < 0 {
		return k
	}
	i := strings.Index(s[p+1:], suffixMarker)
	if i < 0 {
		return k
	}
	i += p + 1
	if !isSuffix(s[i+len(suffixMarker):]) {
		return k
	}
	return NaturalKey(s[:i])
}

func isSuffix(s string) bool {
	tag, n, found := strings.Cut(s, ordinalMarker)
	if len(tag) != tagLength {
		return false
	}
	if _, err := hex.DecodeString(tag); err != nil {
		return false
	}
	if found {
		if _, err := strconv.Atoi(n); err != nil {
			return false
		}
	}
	return true
}

// KeySet is a set of natural keys.
type KeySet map[NaturalKey]struct{}

// NewKeySet builds a set from the given keys.
func NewKeySet(keys ...NaturalKey) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Add inserts k into the set.
func (s KeySet) Add(k NaturalKey) {
	s[k] = struct{}{}
}

// Has reports whether k is in the set.
func (s KeySet) Has(k NaturalKey) bool {
	_, ok := s[k]
	return ok
}

// Len returns the number of keys.
func (s KeySet) Len() int {
	return len(s)
}

// Equal reports whether both sets hold exactly the same keys.
func (s KeySet) Equal(o KeySet) bool {
	if len(s) != len(o) {
		return false
	}
	for k := range s {
		if !o.Has(k) {
			return false
		}
	}
	return true
}

// Sorted returns the keys in ascending byte order.
func (s KeySet) Sorted() []NaturalKey {
	keys := make([]NaturalKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
