// Package registry loads the static alias registry: per-domain mappings from
// known name variants to canonical keys. A Snapshot is immutable once loaded;
// hot-reload happens by loading a fresh Snapshot between runs.
package registry

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mandiflow/mandiflow/internal/model"
)

// Entry is one canonical identity and its known raw variants.
type Entry struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// File is one registry source document covering a single domain.
type File struct {
	Domain  model.Domain `yaml:"domain"`
	Version string       `yaml:"version"`
	Entries []Entry      `yaml:"entries"`
}

// Conflict records two entries whose aliases fold to the same key.
type Conflict struct {
	Domain model.Domain
	Alias  string
	First  string // canonical ID that claimed the alias
	Second string // canonical ID that collided
}

type domainIndex struct {
	byAlias map[string]model.CanonicalKey
	keys    []model.CanonicalKey // sorted by ID for deterministic iteration
	aliases map[string][]string  // canonical ID -> folded alias forms (incl. name)
}

// Snapshot is a read-only view of all domains, loaded once per run.
type Snapshot struct {
	versions  map[model.Domain]string
	domains   map[model.Domain]*domainIndex
	conflicts []Conflict
}

// Load reads registry YAML files and builds an immutable snapshot. Duplicate
// aliases pointing at different canonicals are recorded as conflicts and the
// first claim wins.
func Load(paths []string) (*Snapshot, error) {
	snap := &Snapshot{
		versions: make(map[model.Domain]string),
		domains:  make(map[model.Domain]*domainIndex),
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "registry: read %s", path)
		}
		var file File
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, eris.Wrapf(err, "registry: unmarshal %s", path)
		}
		if file.Domain == "" {
			return nil, eris.Errorf("registry: %s has no domain", path)
		}
		snap.addFile(file)
	}

	for domain, idx := range snap.domains {
		sort.Slice(idx.keys, func(i, j int) bool { return idx.keys[i].ID < idx.keys[j].ID })
		zap.L().Debug("registry: domain loaded",
			zap.String("domain", string(domain)),
			zap.Int("canonicals", len(idx.keys)),
			zap.Int("aliases", len(idx.byAlias)),
		)
	}
	if len(snap.conflicts) > 0 {
		zap.L().Warn("registry: alias conflicts detected", zap.Int("count", len(snap.conflicts)))
	}

	return snap, nil
}

func (s *Snapshot) addFile(file File) {
	idx, ok := s.domains[file.Domain]
	if !ok {
		idx = &domainIndex{
			byAlias: make(map[string]model.CanonicalKey),
			aliases: make(map[string][]string),
		}
		s.domains[file.Domain] = idx
	}
	s.versions[file.Domain] = file.Version

	for _, e := range file.Entries {
		key := model.CanonicalKey{ID: e.ID, Name: e.Name}
		idx.keys = append(idx.keys, key)

		variants := append([]string{e.Name}, e.Aliases...)
		for _, v := range variants {
			folded := FoldKey(v)
			if folded == "" {
				continue
			}
			if prev, claimed := idx.byAlias[folded]; claimed {
				if prev.ID != e.ID {
					s.conflicts = append(s.conflicts, Conflict{
						Domain: file.Domain,
						Alias:  folded,
						First:  prev.ID,
						Second: e.ID,
					})
				}
				continue
			}
			idx.byAlias[folded] = key
			idx.aliases[e.ID] = append(idx.aliases[e.ID], folded)
		}
	}
}

// Resolve performs an exact alias lookup. The raw text is case-normalized and
// whitespace-collapsed before lookup. No side effects.
func (s *Snapshot) Resolve(domain model.Domain, raw string) (model.CanonicalKey, bool) {
	idx, ok := s.domains[domain]
	if !ok {
		return model.CanonicalKey{}, false
	}
	key, ok := idx.byAlias[FoldKey(raw)]
	return key, ok
}

// Canonicals returns the canonical key set for a domain, sorted by ID.
func (s *Snapshot) Canonicals(domain model.Domain) []model.CanonicalKey {
	idx, ok := s.domains[domain]
	if !ok {
		return nil
	}
	return idx.keys
}

// AliasForms returns the folded alias forms (including the canonical name)
// registered for a canonical ID. Used by the fuzzy matcher's candidate set.
func (s *Snapshot) AliasForms(domain model.Domain, canonicalID string) []string {
	idx, ok := s.domains[domain]
	if !ok {
		return nil
	}
	return idx.aliases[canonicalID]
}

// Version returns the loaded version string for a domain.
func (s *Snapshot) Version(domain model.Domain) string { return s.versions[domain] }

// Conflicts returns alias collisions found at load time.
func (s *Snapshot) Conflicts() []Conflict { return s.conflicts }
