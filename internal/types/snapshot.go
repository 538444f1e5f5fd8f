package types

import (
	"sort"

	"github.com/elliotchance/orderedmap/v2"
)

// DuplicateMode selects how records sharing a natural key are keyed.
type DuplicateMode string

const (
	// Disambiguate keeps every record: each member of a group gets a suffix
	// derived from its postal code and description.
	Disambiguate DuplicateMode = "disambiguate"
	// Collapse keeps the first record of a group and drops the rest.
	Collapse DuplicateMode = "collapse"
)

// CollisionStats counts records whose derived key was shared with another
// record of the same snapshot.
type CollisionStats struct {
	Groups  int // distinct base keys seen more than once
	Records int // records beyond the first in each group
}

// Snapshot is the complete keyed set of records extracted by one run.
// Iteration follows the order records were supplied in.
type Snapshot struct {
	records *orderedmap.OrderedMap[NaturalKey, CanonicalRecord]
}

// NewSnapshot keys every record and resolves shared keys according to mode.
func NewSnapshot(records []CanonicalRecord, mode DuplicateMode) (*Snapshot, CollisionStats) {
	var stats CollisionStats

	base := make([]NaturalKey, len(records))
	groups := make(map[NaturalKey][]int, len(records))
	for i, r := range records {
		base[i] = DeriveKey(r)
		groups[base[i]] = append(groups[base[i]], i)
	}

	s := &Snapshot{records: orderedmap.NewOrderedMap[NaturalKey, CanonicalRecord]()}
	for i, key := range base {
		members := groups[key]
		if len(members) == 1 {
			s.records.Set(key, records[i])
			continue
		}
		if members[0] != i {
			// Group already emitted at its first position
			continue
		}

		stats.Groups++
		stats.Records += len(members) - 1

		if mode == Collapse {
			s.records.Set(key, records[i])
			continue
		}

		ordered := make([]CanonicalRecord, len(members))
		for j, idx := range members {
			ordered[j] = records[idx]
		}
		sort.SliceStable(ordered, func(a, b int) bool {
			if ordered[a].PostalCode != ordered[b].PostalCode {
				return ordered[a].PostalCode < ordered[b].PostalCode
			}
			return ordered[a].Description < ordered[b].Description
		})
		seen := make(map[NaturalKey]int, len(ordered))
		for _, r := range ordered {
			k := key.Disambiguated(r, 1)
			seen[k]++
			if n := seen[k]; n > 1 {
				k = key.Disambiguated(r, n)
			}
			s.records.Set(k, r)
		}
	}

	return s, stats
}

// Len returns the number of keyed records.
func (s *Snapshot) Len() int {
	return s.records.Len()
}

// Get returns the record stored under key.
func (s *Snapshot) Get(key NaturalKey) (CanonicalRecord, bool) {
	return s.records.Get(key)
}

// Keys returns the snapshot's key set.
func (s *Snapshot) Keys() KeySet {
	keys := make(KeySet, s.records.Len())
	for el := s.records.Front(); el != nil; el = el.Next() {
		keys.Add(el.Key)
	}
	return keys
}

// Records returns the keyed records in snapshot order.
func (s *Snapshot) Records() []KeyedRecord {
	out := make([]KeyedRecord, 0, s.records.Len())
	for el := s.records.Front(); el != nil; el = el.Next() {
		out = append(out, KeyedRecord{Key: el.Key, Record: el.Value})
	}
	return out
}
