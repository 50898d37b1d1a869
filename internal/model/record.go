package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// RawRecord is one observation exactly as received from a source. Immutable
// once captured; all text fields carry the source's own spelling and units.
type RawRecord struct {
	Source     string    `json:"source"`
	Partition  string    `json:"partition"`
	Market     string    `json:"market"`
	Commodity  string    `json:"commodity"`
	Variety    string    `json:"variety,omitempty"`
	State      string    `json:"state"`
	Date       string    `json:"date"`
	MinPrice   string    `json:"min_price"`
	MaxPrice   string    `json:"max_price"`
	ModalPrice string    `json:"modal_price"`
	Unit       string    `json:"unit"`
	IngestedAt time.Time `json:"ingested_at"`
}

// CanonicalRecord is the fully resolved, converted, and validated form of one
// observation. Immutable after creation; deduplication supersedes records, it
// never mutates them.
type CanonicalRecord struct {
	ID         string       `json:"id"`
	Market     CanonicalKey `json:"market"`
	Commodity  CanonicalKey `json:"commodity"`
	State      CanonicalKey `json:"state"`
	Variety    string       `json:"variety,omitempty"`
	Date       time.Time    `json:"date"`
	MinPrice   Price        `json:"min_price"`
	MaxPrice   Price        `json:"max_price"`
	ModalPrice Price        `json:"modal_price"`
	Unit       CanonicalKey `json:"unit"`

	Source         string    `json:"source"`
	SourcePriority int       `json:"source_priority"`
	IngestedAt     time.Time `json:"ingested_at"`

	Fingerprint string        `json:"fingerprint"`
	Status      QualityStatus `json:"status"`
	Warnings    []ReasonCode  `json:"warnings,omitempty"`

	// Confidence of each fuzzy-resolved key, 1.0 for exact alias hits.
	MarketConfidence    float64 `json:"market_confidence"`
	CommodityConfidence float64 `json:"commodity_confidence"`
	StateConfidence     float64 `json:"state_confidence"`
}

// NaturalKey is the business identity that maps to at most one authoritative
// record per day.
func (r CanonicalRecord) NaturalKey() string {
	return strings.Join([]string{
		r.Market.ID,
		r.Commodity.ID,
		r.Variety,
		r.Date.Format("2006-01-02"),
	}, "|")
}

// ComputeFingerprint hashes all canonical fields. Records with identical
// fingerprints are true duplicates and idempotent to collapse.
func (r CanonicalRecord) ComputeFingerprint() string {
	h := sha256.New()
	for _, part := range []string{
		r.Market.ID, r.Commodity.ID, r.State.ID, r.Variety,
		r.Date.Format("2006-01-02"),
		r.MinPrice.String(), r.MaxPrice.String(), r.ModalPrice.String(),
		r.Unit.ID, r.Source,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// QuarantineEntry retains a raw record that could not be canonicalized, with
// the reason. Quarantined records are never silently dropped.
type QuarantineEntry struct {
	ID        string     `json:"id"`
	Raw       RawRecord  `json:"raw"`
	Reason    ReasonCode `json:"reason"`
	Detail    string     `json:"detail,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
