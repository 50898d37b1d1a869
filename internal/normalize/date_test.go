package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dateFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"02-Jan-2006",
	"2 January 2006",
}

func TestNormalizeDate(t *testing.T) {
	n := NewDateNormalizer(DateConfig{Formats: dateFormats, MaxAgeDays: 730})
	ingested := time.Date(2024, 6, 10, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name       string
		raw        string
		wantDate   string
		wantReason string
	}{
		{name: "iso", raw: "2024-06-05", wantDate: "2024-06-05"},
		{name: "day name format", raw: "05-Jun-2024", wantDate: "2024-06-05"},
		{name: "long form", raw: "5 June 2024", wantDate: "2024-06-05"},
		// 05/06/2024 is June 5 day-first and May 6 month-first; with both
		// layouts configured it must be rejected, not guessed.
		{name: "ambiguous slash", raw: "05/06/2024", wantReason: ReasonAmbiguous},
		// Day 25 only fits the day-first layout, so the string is unambiguous.
		{name: "unambiguous slash", raw: "25/05/2024", wantDate: "2024-05-25"},
		{name: "unparseable", raw: "yesterday", wantReason: ReasonUnparseable},
		{name: "empty", raw: "", wantReason: ReasonUnparseable},
		{name: "future", raw: "2024-06-11", wantReason: ReasonOutOfWindow},
		{name: "same day as ingestion", raw: "2024-06-10", wantDate: "2024-06-10"},
		{name: "too old", raw: "2021-01-01", wantReason: ReasonOutOfWindow},
		{name: "exactly at horizon", raw: "2022-06-11", wantDate: "2022-06-11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := n.Normalize("any_source", tt.raw, ingested)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, res.Reason)
				return
			}
			require.Empty(t, res.Reason, res.Detail)
			assert.Equal(t, tt.wantDate, res.Date.Format("2006-01-02"))
			assert.Equal(t, time.UTC, res.Date.Location())
		})
	}
}

func TestNormalizeDateSourceFormats(t *testing.T) {
	n := NewDateNormalizer(DateConfig{
		Formats: dateFormats,
		SourceFormats: map[string][]string{
			"agmarknet": {"02/01/2006"},
		},
		MaxAgeDays: 730,
	})
	ingested := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	// The source's declared convention disambiguates what the shared list
	// would reject.
	res := n.Normalize("agmarknet", "05/06/2024", ingested)
	require.Empty(t, res.Reason, res.Detail)
	assert.Equal(t, "2024-06-05", res.Date.Format("2006-01-02"))

	// A source list is authoritative: strings outside it fail even if a
	// shared format would parse them.
	res = n.Normalize("agmarknet", "2024-06-05", ingested)
	assert.Equal(t, ReasonUnparseable, res.Reason)

	// Other sources still use the shared list.
	res = n.Normalize("state_portal", "05/06/2024", ingested)
	assert.Equal(t, ReasonAmbiguous, res.Reason)
}

func TestNormalizeDateNoMaxAge(t *testing.T) {
	n := NewDateNormalizer(DateConfig{Formats: []string{"2006-01-02"}})
	ingested := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	res := n.Normalize("s", "1995-01-01", ingested)
	require.Empty(t, res.Reason)
	assert.Equal(t, "1995-01-01", res.Date.Format("2006-01-02"))
}
