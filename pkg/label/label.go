package label

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/ai"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"

	"golang.org/x/sync/errgroup"
)

// PlaceholderLabel is applied when a never-labeled cluster cannot be named.
const PlaceholderLabel = "Unlabeled position"

type Params struct {
	DriftThreshold float64
	MinNewMembers  int
	Concurrency    int
}

// Synthesizer names position clusters and keeps their labels current.
type Synthesizer struct {
	claims    store.ClaimStore
	positions store.PositionStore
	labels    store.LabelStore
	labeler   ai.Labeler
	embedder  ai.Embedder
	params    Params

	Now func() time.Time
}

func New(
	claims store.ClaimStore,
	positions store.PositionStore,
	labels store.LabelStore,
	labeler ai.Labeler,
	embedder ai.Embedder,
	params Params,
) *Synthesizer {
	if params.Concurrency < 1 {
		params.Concurrency = 1
	}
	if params.MinNewMembers < 1 {
		params.MinNewMembers = 1
	}
	return &Synthesizer{
		claims:    claims,
		positions: positions,
		labels:    labels,
		labeler:   labeler,
		embedder:  embedder,
		params:    params,
		Now:       time.Now,
	}
}

type synthesis struct {
	label     ai.LabelResult
	embedding []float32
	labelErr  error
	embedErr  error
}

// Run labels up to opts.Limit due clusters. Cached labels for an identical
// member set are reused without an oracle call.
func (s *Synthesizer) Run(ctx context.Context, opts common.BatchOptions) *common.RunResult {
	res := common.NewRunResult("labels", opts)
	defer res.Finish()

	clusters, err := s.positions.ListPositionClusters(ctx)
	if err != nil {
		res.Fail("", fmt.Errorf("failed to list position clusters: %w", err))
		return res
	}

	claims, err := s.loadClaims(ctx, clusters)
	if err != nil {
		res.Fail("", err)
		return res
	}
	embeddings := make(map[int64][]float32, len(claims))
	for id, c := range claims {
		embeddings[id] = c.Embedding
	}

	sel := Select(clusters, embeddings, s.params.DriftThreshold, s.params.MinNewMembers)
	due := sel.Due
	if opts.Limit > 0 && len(due) > opts.Limit {
		res.Skipped += len(due) - opts.Limit
		due = due[:opts.Limit]
	}

	fingerprints := make([]string, len(due))
	for i, c := range due {
		fingerprints[i] = c.Cluster.Fingerprint
	}
	cached, err := s.labels.GetLabelCacheEntries(ctx, fingerprints)
	if err != nil {
		res.Fail("", fmt.Errorf("failed to read label cache: %w", err))
		return res
	}

	now := s.Now()
	updates := make([]store.LabelUpdate, 0, len(due)+len(sel.Confirmed))
	for _, c := range sel.Confirmed {
		updates = append(updates, confirm(c, now))
	}
	res.AddEffect("labels_confirmed", len(sel.Confirmed))

	misses := make([]Candidate, 0, len(due))
	for _, c := range due {
		if entry, ok := cached[c.Cluster.Fingerprint]; ok && entry.Label != "" {
			updates = append(updates, fromCache(c, entry, now))
			res.AddEffect("labels_from_cache", 1)
			res.Processed++
			continue
		}
		misses = append(misses, c)
	}

	if opts.DryRun {
		res.AddEffect("labels_to_generate", len(misses))
		res.Processed += len(misses)
		logger.Info("[Label] Dry run", "due", len(due), "cached", len(due)-len(misses), "confirmed", len(sel.Confirmed))
		return res
	}

	results := s.synthesize(ctx, misses, claims)

	entries := make([]common.LabelCacheEntry, 0, len(misses))
	labeled := 0
	for i, c := range misses {
		r := results[i]
		res.OracleCalls++
		if r.labelErr == nil {
			res.OracleCalls++
		}

		if r.labelErr != nil {
			res.Failed++
			logger.Warn("[Label] Label oracle failed", "cluster_id", c.Cluster.ID, "trigger", c.Trigger, "err", r.labelErr)
			if c.Trigger == TriggerNew {
				updates = append(updates, placeholder(c, now))
				res.AddEffect("labels_placeholder", 1)
			}
			continue
		}
		updates = append(updates, generated(c, r, now))
		res.Processed++
		labeled++
		if r.embedErr != nil {
			// cache entries always carry an embedding
			logger.Warn("[Label] Label embedding failed, not caching label", "cluster_id", c.Cluster.ID, "err", r.embedErr)
			res.AddEffect("labels_uncached", 1)
			continue
		}
		entries = append(entries, common.LabelCacheEntry{
			Fingerprint: c.Cluster.Fingerprint,
			Label:       r.label.Label,
			Summary:     r.label.Summary,
			Embedding:   r.embedding,
			CreatedAt:   now,
		})
	}
	res.AddEffect("labels_generated", labeled)

	if err := s.labels.UpdateClusterLabels(ctx, updates); err != nil {
		res.Fail("labels", fmt.Errorf("failed to update cluster labels: %w", err))
		return res
	}
	if err := s.labels.UpsertLabelCacheEntries(ctx, entries); err != nil {
		res.Fail("label_cache", fmt.Errorf("failed to write label cache: %w", err))
		return res
	}

	logger.Info("[Label] Finished batch",
		"processed", res.Processed,
		"failed", res.Failed,
		"confirmed", len(sel.Confirmed),
		"oracle_calls", res.OracleCalls,
	)
	return res
}

func (s *Synthesizer) loadClaims(ctx context.Context, clusters []common.PositionCluster) (map[int64]common.Claim, error) {
	ids := make([]int64, 0)
	for _, c := range clusters {
		ids = append(ids, c.MemberIDs()...)
	}
	ids = store.Dedupe(ids)

	out := make(map[int64]common.Claim, len(ids))
	err := store.ChunkRange(len(ids), 1000, func(start, end int) error {
		claims, err := s.claims.GetClaims(ctx, ids[start:end])
		if err != nil {
			return fmt.Errorf("failed to load member claims: %w", err)
		}
		for _, c := range claims {
			out[c.ID] = c
		}
		return nil
	})
	return out, err
}

// synthesize asks the oracle for a label per candidate, core claims first,
// and embeds each produced label.
func (s *Synthesizer) synthesize(ctx context.Context, cands []Candidate, claims map[int64]common.Claim) []synthesis {
	results := make([]synthesis, len(cands))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.params.Concurrency)
	for i, c := range cands {
		g.Go(func() error {
			texts := make([]string, 0, len(c.Cluster.Members))
			for _, id := range c.Cluster.CoreFirstIDs() {
				if cl, ok := claims[id]; ok && cl.Text != "" {
					texts = append(texts, cl.Text)
				}
			}

			var r synthesis
			r.label, r.labelErr = s.labeler.Label(gctx, texts)
			if r.labelErr == nil {
				r.embedding, r.embedErr = s.embedder.Embed(gctx, r.label.Label)
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func confirm(c Candidate, now time.Time) store.LabelUpdate {
	p := c.Cluster
	return store.LabelUpdate{
		ClusterID:         p.ID,
		Label:             p.Label,
		Summary:           p.Summary,
		Embedding:         p.LabelEmbedding,
		Source:            p.LabelSource,
		LabelFingerprint:  p.LabelFingerprint,
		LabeledAt:         p.LabeledAt,
		CheckedAt:         now,
		MembersSinceCheck: 0,
		Drift:             c.Drift,
	}
}

func fromCache(c Candidate, e common.LabelCacheEntry, now time.Time) store.LabelUpdate {
	return store.LabelUpdate{
		ClusterID:         c.Cluster.ID,
		Label:             e.Label,
		Summary:           e.Summary,
		Embedding:         e.Embedding,
		Source:            common.LabelSourceCache,
		LabelFingerprint:  c.Cluster.Fingerprint,
		LabeledAt:         &now,
		CheckedAt:         now,
		MembersSinceCheck: 0,
		Drift:             Drift(e.Embedding, c.Centroid),
	}
}

func generated(c Candidate, r synthesis, now time.Time) store.LabelUpdate {
	return store.LabelUpdate{
		ClusterID:         c.Cluster.ID,
		Label:             r.label.Label,
		Summary:           r.label.Summary,
		Embedding:         r.embedding,
		Source:            common.LabelSourceOracle,
		LabelFingerprint:  c.Cluster.Fingerprint,
		LabeledAt:         &now,
		CheckedAt:         now,
		MembersSinceCheck: 0,
		Drift:             Drift(r.embedding, c.Centroid),
	}
}

// placeholder keeps downstream steps free of empty labels. The fallback
// source keeps the cluster due on the next run.
func placeholder(c Candidate, now time.Time) store.LabelUpdate {
	return store.LabelUpdate{
		ClusterID:         c.Cluster.ID,
		Label:             PlaceholderLabel,
		Summary:           fmt.Sprintf("A position held by %d claims.", len(c.Cluster.Members)),
		Source:            common.LabelSourceFallback,
		CheckedAt:         now,
		MembersSinceCheck: c.Cluster.MembersSinceCheck,
		Drift:             1,
	}
}
