// Package validate applies the row-level quality rules after resolution and
// normalization, classifying each record as accepted, warned, or rejected.
package validate

import (
	"fmt"

	"github.com/mandiflow/mandiflow/internal/model"
	"github.com/mandiflow/mandiflow/internal/normalize"
)

// Config holds the soft-rule thresholds.
type Config struct {
	// LowConfidence flags fuzzy acceptances below this score with a warning.
	LowConfidence float64 `yaml:"low_confidence" mapstructure:"low_confidence"`
}

// Input collects the per-stage outcomes for one record.
type Input struct {
	Market    model.ResolutionResult
	Commodity model.ResolutionResult
	State     model.ResolutionResult
	Price     normalize.PriceResult
	Date      normalize.DateResult
}

// Outcome is the validator's verdict. Reason and Detail are set when the
// record is rejected; Warnings annotate accepted records.
type Outcome struct {
	Status   model.QualityStatus
	Reason   model.ReasonCode
	Detail   string
	Warnings []model.ReasonCode
}

// Evaluate applies hard rules first (any failure rejects), then soft rules
// (annotate only). Hard rules: all three keys resolved, date valid, prices
// parsed, positive, and ordered. Soft rules: magnitude outlier, low fuzzy
// confidence.
func Evaluate(in Input, cfg Config) Outcome {
	for _, field := range []struct {
		name string
		res  model.ResolutionResult
	}{
		{"market", in.Market},
		{"commodity", in.Commodity},
		{"state", in.State},
	} {
		if !field.res.Resolved() {
			return Outcome{
				Status: model.StatusRejected,
				Reason: model.ReasonUnresolvedEntity,
				Detail: fmt.Sprintf("%s %q did not resolve", field.name, field.res.Raw),
			}
		}
	}

	if in.Date.Reason != "" {
		return Outcome{
			Status: model.StatusRejected,
			Reason: model.ReasonCode(in.Date.Reason),
			Detail: in.Date.Detail,
		}
	}
	if in.Price.Reason != "" {
		return Outcome{
			Status: model.StatusRejected,
			Reason: in.Price.Reason,
			Detail: in.Price.Detail,
		}
	}

	var warnings []model.ReasonCode
	warnings = append(warnings, in.Price.Warnings...)
	for _, res := range []model.ResolutionResult{in.Market, in.Commodity, in.State} {
		if res.Confidence < 1.0 && res.Confidence < cfg.LowConfidence {
			warnings = append(warnings, model.ReasonLowConfidenceMatch)
			break
		}
	}

	status := model.StatusAccepted
	if len(warnings) > 0 {
		status = model.StatusWarned
	}
	return Outcome{Status: status, Warnings: warnings}
}
