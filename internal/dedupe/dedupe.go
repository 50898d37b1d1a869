// Package dedupe collapses canonical records sharing a natural key
// (market, commodity, variety, date) into one authoritative record.
package dedupe

import (
	"sort"

	"github.com/mandiflow/mandiflow/internal/model"
)

// Policy ranks sources by trust. Lower rank wins; sources absent from
// Priorities get DefaultPriority (least trusted).
type Policy struct {
	Priorities      map[string]int `yaml:"priorities" mapstructure:"priorities"`
	DefaultPriority int            `yaml:"default_priority" mapstructure:"default_priority"`
}

// Rank returns the priority rank for a source.
func (p Policy) Rank(source string) int {
	if rank, ok := p.Priorities[source]; ok {
		return rank
	}
	if p.DefaultPriority > 0 {
		return p.DefaultPriority
	}
	return 1000
}

// Group is one natural key's collapse outcome: the winner plus the records it
// superseded, retained for the audit trail.
type Group struct {
	Key        string
	Winner     model.CanonicalRecord
	Superseded []model.CanonicalRecord
}

// Collapse groups records by natural key and selects the authoritative record
// per group: highest source priority, then most recent ingestion timestamp,
// then smallest fingerprint. The ordering is total, so the winner is the same
// for any input permutation. Groups are returned sorted by natural key.
func Collapse(records []model.CanonicalRecord) []Group {
	byKey := make(map[string][]model.CanonicalRecord)
	for _, rec := range records {
		key := rec.NaturalKey()
		byKey[key] = append(byKey[key], rec)
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	groups := make([]Group, 0, len(keys))
	for _, key := range keys {
		members := byKey[key]
		sort.Slice(members, func(i, j int) bool { return Wins(members[i], members[j]) })
		groups = append(groups, Group{
			Key:        key,
			Winner:     members[0],
			Superseded: members[1:],
		})
	}
	return groups
}

// Wins reports whether a beats b under the dedup policy. The same ordering
// governs collapse within a run and conflicts against already stored records.
func Wins(a, b model.CanonicalRecord) bool {
	if a.SourcePriority != b.SourcePriority {
		return a.SourcePriority < b.SourcePriority
	}
	if !a.IngestedAt.Equal(b.IngestedAt) {
		return a.IngestedAt.After(b.IngestedAt)
	}
	return a.Fingerprint < b.Fingerprint
}
