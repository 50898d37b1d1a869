package model

// Domain identifies which alias namespace a raw text field resolves against.
type Domain string

const (
	DomainMarket    Domain = "market"
	DomainCommodity Domain = "commodity"
	DomainState     Domain = "state"
	DomainUnit      Domain = "unit"
)

// CanonicalKey is a resolved identity: a stable identifier plus the canonical
// display name. Keys are created when the alias registry is loaded and never
// mutated afterwards.
type CanonicalKey struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// IsZero reports whether the key is unset.
func (k CanonicalKey) IsZero() bool { return k.ID == "" }

// ResolutionResult is the outcome of resolving one raw text field. Either Key
// is set with a confidence score, or the field is unresolved and Raw carries
// the original text for quarantine inspection.
type ResolutionResult struct {
	Key        CanonicalKey `json:"key,omitempty"`
	Confidence float64      `json:"confidence"`
	Raw        string       `json:"raw"`
}

// Resolved reports whether the raw text mapped to a canonical key.
func (r ResolutionResult) Resolved() bool { return !r.Key.IsZero() }
