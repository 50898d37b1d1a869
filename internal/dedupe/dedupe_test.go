package dedupe

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandiflow/mandiflow/internal/model"
)

func TestPolicyRank(t *testing.T) {
	p := Policy{
		Priorities:      map[string]int{"agmarknet": 1, "state_portal": 2},
		DefaultPriority: 100,
	}

	assert.Equal(t, 1, p.Rank("agmarknet"))
	assert.Equal(t, 2, p.Rank("state_portal"))
	assert.Equal(t, 100, p.Rank("somewhere_else"))

	// Zero-value policy still produces a usable rank.
	assert.Equal(t, 1000, Policy{}.Rank("anything"))
}

func record(source string, priority int, ingested time.Time, modal int64) model.CanonicalRecord {
	r := model.CanonicalRecord{
		Market:         model.CanonicalKey{ID: "mkt_azadpur"},
		Commodity:      model.CanonicalKey{ID: "cmd_onion"},
		State:          model.CanonicalKey{ID: "st_dl"},
		Date:           time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC),
		MinPrice:       model.RatioPrice(modal-1, 1),
		MaxPrice:       model.RatioPrice(modal+1, 1),
		ModalPrice:     model.RatioPrice(modal, 1),
		Unit:           model.CanonicalKey{ID: "rs_per_kg"},
		Source:         source,
		SourcePriority: priority,
		IngestedAt:     ingested,
	}
	r.Fingerprint = r.ComputeFingerprint()
	r.ID = r.Fingerprint
	return r
}

func TestCollapsePriorityWins(t *testing.T) {
	t0 := time.Date(2024, 6, 6, 8, 0, 0, 0, time.UTC)

	// The lower-latency mirror arrived later but carries a weaker source.
	primary := record("agmarknet", 1, t0, 5)
	mirror := record("mirror", 3, t0.Add(2*time.Hour), 7)

	groups := Collapse([]model.CanonicalRecord{mirror, primary})
	require.Len(t, groups, 1)
	assert.Equal(t, "agmarknet", groups[0].Winner.Source)
	require.Len(t, groups[0].Superseded, 1)
	assert.Equal(t, "mirror", groups[0].Superseded[0].Source)
}

func TestCollapseFreshnessBreaksPriorityTie(t *testing.T) {
	t0 := time.Date(2024, 6, 6, 8, 0, 0, 0, time.UTC)

	stale := record("state_portal", 2, t0, 5)
	fresh := record("state_portal", 2, t0.Add(time.Hour), 6)

	groups := Collapse([]model.CanonicalRecord{stale, fresh})
	require.Len(t, groups, 1)
	assert.Equal(t, 0, groups[0].Winner.ModalPrice.Cmp(model.RatioPrice(6, 1)))
}

func TestCollapseFingerprintBreaksFullTie(t *testing.T) {
	t0 := time.Date(2024, 6, 6, 8, 0, 0, 0, time.UTC)

	a := record("state_portal", 2, t0, 5)
	b := record("state_portal", 2, t0, 6)
	want := a
	if b.Fingerprint < a.Fingerprint {
		want = b
	}

	groups := Collapse([]model.CanonicalRecord{a, b})
	require.Len(t, groups, 1)
	assert.Equal(t, want.Fingerprint, groups[0].Winner.Fingerprint)
}

func TestCollapseGroupsByNaturalKey(t *testing.T) {
	t0 := time.Date(2024, 6, 6, 8, 0, 0, 0, time.UTC)

	onion := record("agmarknet", 1, t0, 5)
	potato := record("agmarknet", 1, t0, 12)
	potato.Commodity = model.CanonicalKey{ID: "cmd_potato"}
	potato.Fingerprint = potato.ComputeFingerprint()

	groups := Collapse([]model.CanonicalRecord{potato, onion})
	require.Len(t, groups, 2)
	// Sorted by natural key.
	assert.Equal(t, "cmd_onion", groups[0].Winner.Commodity.ID)
	assert.Equal(t, "cmd_potato", groups[1].Winner.Commodity.ID)
	assert.Empty(t, groups[0].Superseded)
	assert.Empty(t, groups[1].Superseded)
}

func TestCollapseDeterministicUnderPermutation(t *testing.T) {
	t0 := time.Date(2024, 6, 6, 8, 0, 0, 0, time.UTC)
	records := []model.CanonicalRecord{
		record("agmarknet", 1, t0, 5),
		record("state_portal", 2, t0.Add(time.Hour), 6),
		record("mirror", 3, t0.Add(2*time.Hour), 7),
		record("state_portal", 2, t0.Add(time.Hour), 8),
	}

	baseline := Collapse(records)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]model.CanonicalRecord, len(records))
		copy(shuffled, records)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		require.Equal(t, baseline, Collapse(shuffled))
	}
}
