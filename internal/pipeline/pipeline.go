// Package pipeline orchestrates canonicalization: resolution, normalization,
// validation, deduplication, and the per-partition all-or-nothing commit.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mandiflow/mandiflow/internal/checkpoint"
	"github.com/mandiflow/mandiflow/internal/config"
	"github.com/mandiflow/mandiflow/internal/dedupe"
	"github.com/mandiflow/mandiflow/internal/model"
	"github.com/mandiflow/mandiflow/internal/normalize"
	"github.com/mandiflow/mandiflow/internal/registry"
	"github.com/mandiflow/mandiflow/internal/resolve"
	"github.com/mandiflow/mandiflow/internal/store"
	"github.com/mandiflow/mandiflow/internal/validate"
)

// Batch is one (source, partition) input window of raw records.
type Batch struct {
	Source    string
	Partition string
	Records   []model.RawRecord
}

// GroupBatches splits records into per-(source, partition) batches, sorted by
// source then partition so runs walk partitions in a deterministic order.
func GroupBatches(records []model.RawRecord) []Batch {
	byKey := make(map[string]*Batch)
	for _, rec := range records {
		key := rec.Source + "\x00" + rec.Partition
		b, ok := byKey[key]
		if !ok {
			b = &Batch{Source: rec.Source, Partition: rec.Partition}
			byKey[key] = b
		}
		b.Records = append(b.Records, rec)
	}

	batches := make([]Batch, 0, len(byKey))
	for _, b := range byKey {
		batches = append(batches, *b)
	}
	sort.Slice(batches, func(i, j int) bool {
		if batches[i].Source != batches[j].Source {
			return batches[i].Source < batches[j].Source
		}
		return batches[i].Partition < batches[j].Partition
	})
	return batches
}

// PartitionSummary reports one partition's outcome.
type PartitionSummary struct {
	Source      string `json:"source"`
	Partition   string `json:"partition"`
	Received    int    `json:"received"`
	Skipped     int    `json:"skipped"` // at or below the committed high-water mark
	Accepted    int    `json:"accepted"`
	Warned      int    `json:"warned"`
	Quarantined int    `json:"quarantined"`
	Superseded  int    `json:"superseded"`
	Committed   bool   `json:"committed"`
	Error       string `json:"error,omitempty"`
}

// RunResult summarizes a full engine run.
type RunResult struct {
	RunID      string             `json:"run_id"`
	Partitions []PartitionSummary `json:"partitions"`
	DurationMS int64              `json:"duration_ms"`
}

// Pipeline wires the stages over one immutable registry snapshot. A Pipeline
// is built per run; configuration changes take effect only at the next run.
type Pipeline struct {
	cfg      *config.Config
	resolver *resolve.Resolver
	units    *normalize.UnitNormalizer
	dates    *normalize.DateNormalizer
	store    store.Store
	tracker  *checkpoint.Tracker
}

// New creates a Pipeline over a loaded registry snapshot and store.
func New(cfg *config.Config, reg *registry.Snapshot, st store.Store) (*Pipeline, error) {
	units, err := normalize.NewUnitNormalizer(reg, cfg.Units, cfg.Ranges)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: unit normalizer")
	}
	return &Pipeline{
		cfg:      cfg,
		resolver: resolve.New(reg, cfg.Resolver),
		units:    units,
		dates:    normalize.NewDateNormalizer(cfg.Dates),
		store:    st,
		tracker:  checkpoint.New(st),
	}, nil
}

// partitionOutput is one partition's canonicalized but uncommitted window.
type partitionOutput struct {
	batch       Batch
	expected    time.Time // high-water mark read at entry
	highWater   time.Time // max ingestion timestamp of the processed window
	canonical   []model.CanonicalRecord
	audit       []store.AuditEntry
	quarantined []model.QuarantineEntry
	summary     PartitionSummary
}

// Run canonicalizes every batch, deduplicates across partitions, and commits
// each partition atomically. A malformed record never aborts the batch; an
// infrastructure failure aborts only its own partition's commit, leaving that
// checkpoint unadvanced for retry.
func (p *Pipeline) Run(ctx context.Context, batches []Batch) (*RunResult, error) {
	runID := uuid.New().String()
	start := time.Now()
	log := zap.L().With(zap.String("run_id", runID))
	log.Info("pipeline: starting run", zap.Int("partitions", len(batches)))

	outputs := make([]*partitionOutput, len(batches))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrency())
	for i, batch := range batches {
		g.Go(func() error {
			out, err := p.canonicalizePartition(gCtx, batch)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: canonicalize")
	}

	p.dedupeAcross(outputs)

	var commitErrs int
	var mu sync.Mutex
	g, gCtx = errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrency())
	for _, out := range outputs {
		g.Go(func() error {
			if err := p.commitPartition(gCtx, out); err != nil {
				out.summary.Error = err.Error()
				log.Error("pipeline: partition commit failed",
					zap.String("source", out.batch.Source),
					zap.String("partition", out.batch.Partition),
					zap.Error(err),
				)
				mu.Lock()
				commitErrs++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &RunResult{
		RunID:      runID,
		DurationMS: time.Since(start).Milliseconds(),
	}
	for _, out := range outputs {
		result.Partitions = append(result.Partitions, out.summary)
	}

	log.Info("pipeline: run complete",
		zap.Int64("duration_ms", result.DurationMS),
		zap.Int("partitions", len(batches)),
		zap.Int("commit_errors", commitErrs),
	)
	if commitErrs > 0 {
		return result, eris.Errorf("pipeline: %d of %d partition commits failed", commitErrs, len(batches))
	}
	return result, nil
}

// canonicalizePartition walks one partition's records through the stages.
// Every record yields exactly one of: canonical record, quarantine entry, or
// a skip (already below the committed high-water mark).
func (p *Pipeline) canonicalizePartition(ctx context.Context, batch Batch) (*partitionOutput, error) {
	highWater, err := p.tracker.Begin(ctx, batch.Source, batch.Partition)
	if err != nil {
		return nil, err
	}

	out := &partitionOutput{
		batch:    batch,
		expected: highWater,
		summary: PartitionSummary{
			Source:    batch.Source,
			Partition: batch.Partition,
			Received:  len(batch.Records),
		},
	}

	for _, raw := range batch.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !raw.IngestedAt.After(highWater) {
			out.summary.Skipped++
			continue
		}
		if raw.IngestedAt.After(out.highWater) {
			out.highWater = raw.IngestedAt
		}

		rec, quarantined := p.canonicalize(raw)
		if quarantined != nil {
			out.quarantined = append(out.quarantined, *quarantined)
			out.summary.Quarantined++
			continue
		}
		out.canonical = append(out.canonical, *rec)
	}

	zap.L().Debug("pipeline: partition canonicalized",
		zap.String("source", batch.Source),
		zap.String("partition", batch.Partition),
		zap.Int("canonical", len(out.canonical)),
		zap.Int("quarantined", len(out.quarantined)),
		zap.Int("skipped", out.summary.Skipped),
	)
	return out, nil
}

// canonicalize runs one raw record through resolution, normalization, and
// validation. Exactly one of the return values is non-nil.
func (p *Pipeline) canonicalize(raw model.RawRecord) (*model.CanonicalRecord, *model.QuarantineEntry) {
	market := p.resolver.Resolve(model.DomainMarket, raw.Market)
	commodity := p.resolver.Resolve(model.DomainCommodity, raw.Commodity)
	state := p.resolver.Resolve(model.DomainState, raw.State)

	dateRes := p.dates.Normalize(raw.Source, raw.Date, raw.IngestedAt)
	priceRes := p.units.Normalize(raw.Unit, raw.MinPrice, raw.MaxPrice, raw.ModalPrice, commodity.Key)

	outcome := validate.Evaluate(validate.Input{
		Market:    market,
		Commodity: commodity,
		State:     state,
		Price:     priceRes,
		Date:      dateRes,
	}, p.cfg.Quality)

	if outcome.Status == model.StatusRejected {
		return nil, &model.QuarantineEntry{
			ID:        quarantineID(raw, outcome.Reason),
			Raw:       raw,
			Reason:    outcome.Reason,
			Detail:    outcome.Detail,
			CreatedAt: raw.IngestedAt,
		}
	}

	rec := model.CanonicalRecord{
		Market:              market.Key,
		Commodity:           commodity.Key,
		State:               state.Key,
		Variety:             registry.FoldKey(raw.Variety),
		Date:                dateRes.Date,
		MinPrice:            priceRes.Min,
		MaxPrice:            priceRes.Max,
		ModalPrice:          priceRes.Modal,
		Unit:                priceRes.Unit,
		Source:              raw.Source,
		SourcePriority:      p.cfg.Sources.Rank(raw.Source),
		IngestedAt:          raw.IngestedAt,
		Status:              outcome.Status,
		Warnings:            outcome.Warnings,
		MarketConfidence:    market.Confidence,
		CommodityConfidence: commodity.Confidence,
		StateConfidence:     state.Confidence,
	}
	rec.Fingerprint = rec.ComputeFingerprint()
	rec.ID = rec.Fingerprint
	return &rec, nil
}

// dedupeAcross collapses natural-key groups over all partitions together, so
// two sources reporting the same market/commodity/day resolve to one winner.
// Losers are returned to their own partition's audit entries so each
// partition's commit stays self-contained.
func (p *Pipeline) dedupeAcross(outputs []*partitionOutput) {
	var all []model.CanonicalRecord
	for _, out := range outputs {
		if out != nil {
			all = append(all, out.canonical...)
		}
	}
	groups := dedupe.Collapse(all)

	winners := make(map[string]model.CanonicalRecord, len(groups))
	superseded := make(map[string]store.AuditEntry)
	for _, group := range groups {
		winners[group.Winner.Fingerprint] = group.Winner
		for _, loser := range group.Superseded {
			superseded[loser.Fingerprint] = store.AuditEntry{
				ID:           store.AuditID(loser.Fingerprint, group.Winner.Fingerprint),
				NaturalKey:   group.Key,
				Record:       loser,
				SupersededBy: group.Winner.Fingerprint,
				CreatedAt:    loser.IngestedAt,
			}
		}
	}

	for _, out := range outputs {
		if out == nil {
			continue
		}
		var kept []model.CanonicalRecord
		var audit []store.AuditEntry
		seen := make(map[string]bool)
		for _, rec := range out.canonical {
			if seen[rec.Fingerprint] {
				continue // identical duplicate within the partition
			}
			seen[rec.Fingerprint] = true
			if _, won := winners[rec.Fingerprint]; won {
				kept = append(kept, rec)
				out.summary.countStatus(rec.Status)
			} else {
				audit = append(audit, superseded[rec.Fingerprint])
				out.summary.Superseded++
			}
		}
		out.canonical = kept
		out.audit = audit
	}
}

// commitPartition writes one partition's output and advances its checkpoint
// in a single transaction. Partitions with no new records write nothing but
// still reconfirm their checkpoint, returning the state Begin flipped to
// in_progress back to committed at the unchanged mark.
func (p *Pipeline) commitPartition(ctx context.Context, out *partitionOutput) error {
	if out.highWater.IsZero() {
		if err := p.store.CommitPartition(ctx, store.PartitionCommit{
			Source:            out.batch.Source,
			Partition:         out.batch.Partition,
			ExpectedHighWater: out.expected,
			HighWater:         out.expected,
		}); err != nil {
			return err
		}
		zap.L().Debug("pipeline: partition has no new records, checkpoint reconfirmed",
			zap.String("source", out.batch.Source),
			zap.String("partition", out.batch.Partition),
		)
		return nil
	}

	err := p.store.CommitPartition(ctx, store.PartitionCommit{
		Source:            out.batch.Source,
		Partition:         out.batch.Partition,
		Records:           out.canonical,
		Superseded:        out.audit,
		Quarantined:       out.quarantined,
		ExpectedHighWater: out.expected,
		HighWater:         out.highWater,
	})
	if err != nil {
		return err
	}
	out.summary.Committed = true
	return nil
}

func (p *Pipeline) maxConcurrency() int {
	if n := p.cfg.Pipeline.MaxConcurrentPartitions; n > 0 {
		return n
	}
	return 1
}

func (s *PartitionSummary) countStatus(status model.QualityStatus) {
	switch status {
	case model.StatusWarned:
		s.Warned++
	default:
		s.Accepted++
	}
}

// quarantineID derives a stable identifier from the raw record content and
// reason, so re-running the same window never duplicates quarantine rows.
func quarantineID(raw model.RawRecord, reason model.ReasonCode) string {
	payload, _ := json.Marshal(raw)
	h := sha256.Sum256(append(payload, []byte(reason)...))
	return hex.EncodeToString(h[:])
}
