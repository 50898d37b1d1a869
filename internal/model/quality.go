package model

// QualityStatus classifies a canonical record after validation.
type QualityStatus string

const (
	StatusAccepted QualityStatus = "accepted"
	StatusWarned   QualityStatus = "warned"
	StatusRejected QualityStatus = "rejected"
)

// ReasonCode identifies why a record was quarantined or annotated.
type ReasonCode string

const (
	// Hard failures: the record is quarantined.
	ReasonUnresolvedEntity  ReasonCode = "unresolved_entity"
	ReasonInvalidUnit       ReasonCode = "invalid_unit"
	ReasonInvalidPrice      ReasonCode = "invalid_price"
	ReasonAmbiguousDate     ReasonCode = "ambiguous_date"
	ReasonUnparseableDate   ReasonCode = "unparseable_date"
	ReasonOutOfWindowDate   ReasonCode = "out_of_window_date"
	ReasonOrderingViolation ReasonCode = "ordering_violation"
	ReasonNonPositivePrice  ReasonCode = "non_positive_price"

	// Soft failures: the record is accepted with a warning annotation.
	ReasonMagnitudeOutlier   ReasonCode = "magnitude_outlier"
	ReasonLowConfidenceMatch ReasonCode = "low_confidence_match"
)

// Soft reports whether the reason annotates rather than rejects a record.
func (r ReasonCode) Soft() bool {
	return r == ReasonMagnitudeOutlier || r == ReasonLowConfidenceMatch
}
