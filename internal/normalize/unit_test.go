package normalize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandiflow/mandiflow/internal/model"
	"github.com/mandiflow/mandiflow/internal/registry"
)

func unitSnapshot(t *testing.T) *registry.Snapshot {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "units.yaml")
	content := `
domain: unit
version: "1"
entries:
  - id: rs_per_kg
    name: Rs/kg
  - id: rs_per_quintal
    name: Rs/quintal
    aliases:
      - "Rs/100kg"
  - id: rs_per_dozen
    name: Rs/dozen
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	snap, err := registry.Load([]string{path})
	require.NoError(t, err)
	return snap
}

func testNormalizer(t *testing.T, ranges map[string]PriceRange) *UnitNormalizer {
	t.Helper()
	n, err := NewUnitNormalizer(unitSnapshot(t), UnitConfig{
		Canonical: "rs_per_kg",
		Factors:   map[string]string{"rs_per_quintal": "1/100"},
	}, ranges)
	require.NoError(t, err)
	return n
}

func TestNewUnitNormalizerRejectsBadConfig(t *testing.T) {
	snap := unitSnapshot(t)

	_, err := NewUnitNormalizer(snap, UnitConfig{}, nil)
	assert.Error(t, err)

	_, err = NewUnitNormalizer(snap, UnitConfig{
		Canonical: "rs_per_kg",
		Factors:   map[string]string{"rs_per_quintal": "garbage"},
	}, nil)
	assert.Error(t, err)

	_, err = NewUnitNormalizer(snap, UnitConfig{
		Canonical: "rs_per_kg",
		Factors:   map[string]string{"rs_per_quintal": "-1/100"},
	}, nil)
	assert.Error(t, err)
}

func TestNormalizeQuintalConversion(t *testing.T) {
	n := testNormalizer(t, nil)
	onion := model.CanonicalKey{ID: "cmd_onion", Name: "Onion"}

	res := n.Normalize("Rs/100kg", "400", "600", "500", onion)
	require.Empty(t, res.Reason, res.Detail)
	assert.Equal(t, "rs_per_kg", res.Unit.ID)
	assert.Equal(t, "4.00", res.Min.Decimal())
	assert.Equal(t, "6.00", res.Max.Decimal())
	assert.Equal(t, "5.00", res.Modal.Decimal())
}

func TestNormalizeCanonicalUnitIsIdentity(t *testing.T) {
	n := testNormalizer(t, nil)
	onion := model.CanonicalKey{ID: "cmd_onion"}

	res := n.Normalize("Rs/kg", "4", "6", "5", onion)
	require.Empty(t, res.Reason)
	assert.Equal(t, "5", res.Modal.String())

	// Feeding already-canonical values back through changes nothing.
	again := n.Normalize("Rs/kg", res.Min.String(), res.Max.String(), res.Modal.String(), onion)
	require.Empty(t, again.Reason)
	assert.Equal(t, 0, res.Min.Cmp(again.Min))
	assert.Equal(t, 0, res.Max.Cmp(again.Max))
	assert.Equal(t, 0, res.Modal.Cmp(again.Modal))
}

func TestNormalizeFailures(t *testing.T) {
	n := testNormalizer(t, nil)
	onion := model.CanonicalKey{ID: "cmd_onion"}

	tests := []struct {
		name       string
		unit       string
		min, max   string
		modal      string
		wantReason model.ReasonCode
	}{
		{name: "unknown unit", unit: "Rs/maund", min: "4", max: "6", modal: "5", wantReason: model.ReasonInvalidUnit},
		{name: "resolved unit without factor", unit: "Rs/dozen", min: "4", max: "6", modal: "5", wantReason: model.ReasonInvalidUnit},
		{name: "unparseable price", unit: "Rs/kg", min: "4", max: "n/a", modal: "5", wantReason: model.ReasonInvalidPrice},
		{name: "zero price", unit: "Rs/kg", min: "0", max: "6", modal: "5", wantReason: model.ReasonNonPositivePrice},
		{name: "negative price", unit: "Rs/kg", min: "4", max: "6", modal: "-5", wantReason: model.ReasonNonPositivePrice},
		{name: "min above modal", unit: "Rs/kg", min: "6", max: "8", modal: "5", wantReason: model.ReasonOrderingViolation},
		{name: "modal above max", unit: "Rs/kg", min: "4", max: "6", modal: "7", wantReason: model.ReasonOrderingViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := n.Normalize(tt.unit, tt.min, tt.max, tt.modal, onion)
			assert.Equal(t, tt.wantReason, res.Reason)
		})
	}
}

func TestNormalizeMagnitudeOutlier(t *testing.T) {
	ranges := map[string]PriceRange{
		"cmd_onion": {Min: 2, Max: 120},
	}
	n := testNormalizer(t, ranges)
	onion := model.CanonicalKey{ID: "cmd_onion"}

	// In range: no warning.
	res := n.Normalize("Rs/kg", "4", "6", "5", onion)
	require.Empty(t, res.Reason)
	assert.Empty(t, res.Warnings)

	// Quintal prices mistakenly labeled Rs/kg blow past the ceiling but stay
	// a warning, not a rejection.
	res = n.Normalize("Rs/kg", "400", "600", "500", onion)
	require.Empty(t, res.Reason)
	assert.Contains(t, res.Warnings, model.ReasonMagnitudeOutlier)

	// Commodity without a configured range is never flagged.
	res = n.Normalize("Rs/kg", "400", "600", "500", model.CanonicalKey{ID: "cmd_unknown"})
	require.Empty(t, res.Reason)
	assert.Empty(t, res.Warnings)
}
