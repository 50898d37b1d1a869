// Package resolve maps raw free-text fields to canonical dimension keys.
// Resolution is a pure function of (domain, raw text, registry snapshot,
// thresholds): identical input always yields identical output.
package resolve

import (
	"go.uber.org/zap"

	"github.com/mandiflow/mandiflow/internal/model"
	"github.com/mandiflow/mandiflow/internal/registry"
)

// Config holds the fuzzy acceptance policy.
type Config struct {
	// Threshold is the minimum score for a fuzzy match to count as resolved.
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
	// Margin is the minimum lead over the runner-up; closer ties are
	// ambiguous and left unresolved.
	Margin float64 `yaml:"margin" mapstructure:"margin"`
}

// Candidate is one scored canonical option from the fuzzy pass.
type Candidate struct {
	Key   model.CanonicalKey
	Score float64
}

// Resolver resolves raw text against a fixed registry snapshot.
type Resolver struct {
	reg *registry.Snapshot
	cfg Config
}

// New creates a Resolver over an immutable registry snapshot.
func New(reg *registry.Snapshot, cfg Config) *Resolver {
	return &Resolver{reg: reg, cfg: cfg}
}

// Resolve maps raw text to a canonical key. Exact alias lookup first; on miss,
// the fuzzy fallback scores every canonical candidate and accepts the best
// only if it clears the threshold and leads the runner-up by the margin.
func (r *Resolver) Resolve(domain model.Domain, raw string) model.ResolutionResult {
	result := model.ResolutionResult{Raw: raw}
	if raw == "" {
		return result
	}

	if key, ok := r.reg.Resolve(domain, raw); ok {
		result.Key = key
		result.Confidence = 1.0
		return result
	}

	ranked := r.Rank(domain, raw)
	if len(ranked) == 0 {
		return result
	}

	best := ranked[0]
	if best.Score < r.cfg.Threshold {
		return result
	}
	if len(ranked) > 1 && best.Score-ranked[1].Score < r.cfg.Margin {
		zap.L().Debug("resolve: ambiguous fuzzy tie",
			zap.String("domain", string(domain)),
			zap.String("raw", raw),
			zap.String("best", best.Key.ID),
			zap.Float64("best_score", best.Score),
			zap.String("runner_up", ranked[1].Key.ID),
			zap.Float64("runner_up_score", ranked[1].Score),
		)
		return result
	}

	result.Key = best.Key
	result.Confidence = best.Score
	return result
}

// Rank scores every canonical candidate for the domain against the raw text,
// best first. Candidates are walked in sorted key order and ranked with a
// total order (score desc, then key ID asc), so the ranking is identical for
// any input permutation.
func (r *Resolver) Rank(domain model.Domain, raw string) []Candidate {
	folded := registry.FoldKey(raw)
	if folded == "" {
		return nil
	}

	var ranked []Candidate
	for _, key := range r.reg.Canonicals(domain) {
		score := 0.0
		for _, form := range r.reg.AliasForms(domain, key.ID) {
			if s := similarity(folded, form); s > score {
				score = s
			}
		}
		if score > 0 {
			ranked = append(ranked, Candidate{Key: key, Score: score})
		}
	}

	// Stable: input order is already sorted by key ID, so equal scores keep
	// deterministic relative order.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].Score > ranked[j-1].Score; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	return ranked
}
