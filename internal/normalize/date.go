package normalize

import (
	"fmt"
	"time"
)

// DateConfig declares the accepted date layouts and the validity window.
// SourceFormats, when present for a source, are tried ahead of Formats and
// can disambiguate conventions a specific source is known to follow.
type DateConfig struct {
	Formats       []string            `yaml:"formats" mapstructure:"formats"`
	SourceFormats map[string][]string `yaml:"source_formats" mapstructure:"source_formats"`
	MaxAgeDays    int                 `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// DateResult is the outcome of date normalization. Reason is set on failure.
type DateResult struct {
	Date   time.Time
	Reason string
	Detail string
}

// DateNormalizer parses heterogeneous raw date text into one canonical
// calendar date (UTC midnight), deterministically.
type DateNormalizer struct {
	cfg DateConfig
}

// NewDateNormalizer builds a normalizer from the configured format lists.
func NewDateNormalizer(cfg DateConfig) *DateNormalizer {
	return &DateNormalizer{cfg: cfg}
}

// Date failure reasons match the engine's quality reason codes; the caller
// maps them onto model.ReasonCode.
const (
	ReasonAmbiguous   = "ambiguous_date"
	ReasonUnparseable = "unparseable_date"
	ReasonOutOfWindow = "out_of_window_date"
)

// Normalize parses raw against the source's format list. A source-specific
// list, when configured, is authoritative: its first successful parse wins.
// Otherwise every shared format is tried, and a string that parses to more
// than one distinct calendar date is rejected as ambiguous rather than
// guessed at.
func (n *DateNormalizer) Normalize(source, raw string, ingestedAt time.Time) DateResult {
	if formats, ok := n.cfg.SourceFormats[source]; ok {
		for _, layout := range formats {
			if t, err := time.Parse(layout, raw); err == nil {
				return n.checkWindow(midnightUTC(t), ingestedAt)
			}
		}
		return DateResult{Reason: ReasonUnparseable, Detail: fmt.Sprintf("no source format parses %q", raw)}
	}

	var parsed []time.Time
	for _, layout := range n.cfg.Formats {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		day := midnightUTC(t)
		if !containsDate(parsed, day) {
			parsed = append(parsed, day)
		}
	}

	switch len(parsed) {
	case 0:
		return DateResult{Reason: ReasonUnparseable, Detail: fmt.Sprintf("no format parses %q", raw)}
	case 1:
		return n.checkWindow(parsed[0], ingestedAt)
	default:
		return DateResult{
			Reason: ReasonAmbiguous,
			Detail: fmt.Sprintf("%q parses to %d distinct dates", raw, len(parsed)),
		}
	}
}

func (n *DateNormalizer) checkWindow(day, ingestedAt time.Time) DateResult {
	if day.After(midnightUTC(ingestedAt)) {
		return DateResult{
			Reason: ReasonOutOfWindow,
			Detail: fmt.Sprintf("date %s is after ingestion time", day.Format("2006-01-02")),
		}
	}
	if n.cfg.MaxAgeDays > 0 {
		horizon := midnightUTC(ingestedAt).AddDate(0, 0, -n.cfg.MaxAgeDays)
		if day.Before(horizon) {
			return DateResult{
				Reason: ReasonOutOfWindow,
				Detail: fmt.Sprintf("date %s is older than the %d-day retention horizon", day.Format("2006-01-02"), n.cfg.MaxAgeDays),
			}
		}
	}
	return DateResult{Date: day}
}

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func containsDate(dates []time.Time, day time.Time) bool {
	for _, d := range dates {
		if d.Equal(day) {
			return true
		}
	}
	return false
}
