// Package normalize converts raw price/unit and date fields into the
// canonical representation.
package normalize

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/mandiflow/mandiflow/internal/model"
	"github.com/mandiflow/mandiflow/internal/registry"
)

// UnitConfig declares the canonical unit and the conversion table. Factors map
// a resolved unit ID to the exact rational multiplier into the canonical unit,
// e.g. "rs_per_quintal" -> "1/100" when the canonical unit is Rs/kg.
type UnitConfig struct {
	Canonical string            `yaml:"canonical" mapstructure:"canonical"`
	Factors   map[string]string `yaml:"factors" mapstructure:"factors"`
}

// PriceRange bounds plausible canonical-unit prices for one commodity.
type PriceRange struct {
	Min float64 `yaml:"min" mapstructure:"min"`
	Max float64 `yaml:"max" mapstructure:"max"`
}

// PriceResult is the outcome of unit/value normalization for one record.
// Reason is set on hard failure; Warnings carry soft annotations.
type PriceResult struct {
	Unit     model.CanonicalKey
	Min      model.Price
	Max      model.Price
	Modal    model.Price
	Reason   model.ReasonCode
	Detail   string
	Warnings []model.ReasonCode
}

// UnitNormalizer converts prices to the canonical unit and checks magnitude
// plausibility per commodity.
type UnitNormalizer struct {
	reg       *registry.Snapshot
	canonical string
	factors   map[string]model.Price
	ranges    map[string]PriceRange
}

// NewUnitNormalizer parses the conversion table once. The canonical unit
// always carries the identity factor, making re-conversion a no-op.
func NewUnitNormalizer(reg *registry.Snapshot, cfg UnitConfig, ranges map[string]PriceRange) (*UnitNormalizer, error) {
	if cfg.Canonical == "" {
		return nil, eris.New("normalize: canonical unit is required")
	}

	factors := make(map[string]model.Price, len(cfg.Factors)+1)
	factors[cfg.Canonical] = model.RatioPrice(1, 1)
	for unitID, raw := range cfg.Factors {
		factor, err := model.ParsePrice(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "normalize: factor for unit %s", unitID)
		}
		if !factor.Positive() {
			return nil, eris.Errorf("normalize: factor for unit %s must be positive", unitID)
		}
		factors[unitID] = factor
	}

	return &UnitNormalizer{
		reg:       reg,
		canonical: cfg.Canonical,
		factors:   factors,
		ranges:    ranges,
	}, nil
}

// Normalize resolves the raw unit text, converts the three price fields into
// the canonical unit, and flags ordering violations and magnitude outliers.
func (n *UnitNormalizer) Normalize(rawUnit, rawMin, rawMax, rawModal string, commodity model.CanonicalKey) PriceResult {
	var res PriceResult

	unitKey, ok := n.reg.Resolve(model.DomainUnit, rawUnit)
	if !ok {
		res.Reason = model.ReasonInvalidUnit
		res.Detail = fmt.Sprintf("unknown unit %q", rawUnit)
		return res
	}
	factor, ok := n.factors[unitKey.ID]
	if !ok {
		res.Reason = model.ReasonInvalidUnit
		res.Detail = fmt.Sprintf("no conversion factor for unit %q", unitKey.ID)
		return res
	}
	res.Unit = model.CanonicalKey{ID: n.canonical, Name: canonicalName(n.reg, n.canonical)}

	for _, f := range []struct {
		raw  string
		dest *model.Price
	}{
		{rawMin, &res.Min},
		{rawMax, &res.Max},
		{rawModal, &res.Modal},
	} {
		p, err := model.ParsePrice(f.raw)
		if err != nil {
			res.Reason = model.ReasonInvalidPrice
			res.Detail = fmt.Sprintf("cannot parse price %q", f.raw)
			return res
		}
		*f.dest = p.Mul(factor)
	}

	if !res.Min.Positive() || !res.Max.Positive() || !res.Modal.Positive() {
		res.Reason = model.ReasonNonPositivePrice
		res.Detail = "prices must be strictly positive"
		return res
	}
	if res.Min.Cmp(res.Modal) > 0 || res.Modal.Cmp(res.Max) > 0 {
		res.Reason = model.ReasonOrderingViolation
		res.Detail = fmt.Sprintf("min %s, modal %s, max %s violate min <= modal <= max",
			res.Min.Decimal(), res.Modal.Decimal(), res.Max.Decimal())
		return res
	}

	if r, ok := n.ranges[commodity.ID]; ok {
		modal := res.Modal.Float64()
		if modal < r.Min || modal > r.Max {
			res.Warnings = append(res.Warnings, model.ReasonMagnitudeOutlier)
		}
	}

	return res
}

func canonicalName(reg *registry.Snapshot, unitID string) string {
	for _, key := range reg.Canonicals(model.DomainUnit) {
		if key.ID == unitID {
			return key.Name
		}
	}
	return unitID
}
