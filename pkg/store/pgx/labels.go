package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/stancemap/backend/internal/util"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const getLabelCacheSQL = `
SELECT fingerprint, label, summary, embedding, created_at
FROM label_cache
WHERE fingerprint = ANY($1::text[]);
`

const upsertLabelCacheSQL = `
INSERT INTO label_cache (fingerprint, label, summary, embedding, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (fingerprint) DO UPDATE
SET label      = EXCLUDED.label,
    summary    = EXCLUDED.summary,
    embedding  = EXCLUDED.embedding,
    created_at = EXCLUDED.created_at;
`

const updateClusterLabelSQL = `
UPDATE position_clusters
SET label               = $2,
    summary             = $3,
    label_embedding     = $4,
    label_source        = $5,
    label_fingerprint   = $6,
    labeled_at          = $7,
    label_checked_at    = $8,
    members_since_check = $9,
    drift               = $10
WHERE id = $1;
`

func (s *Storage) GetLabelCacheEntries(ctx context.Context, fingerprints []string) (map[string]common.LabelCacheEntry, error) {
	out := make(map[string]common.LabelCacheEntry, len(fingerprints))
	if len(fingerprints) == 0 {
		return out, nil
	}
	rows, err := s.conn.Query(ctx, getLabelCacheSQL, fingerprints)
	if err != nil {
		return nil, fmt.Errorf("failed to query label cache: %w", err)
	}
	entries, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.LabelCacheEntry, error) {
		var e common.LabelCacheEntry
		var emb *pgvector.Vector
		err := row.Scan(&e.Fingerprint, &e.Label, &e.Summary, &emb, &e.CreatedAt)
		e.Embedding = vectorSlice(emb)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan label cache: %w", err)
	}
	for _, e := range entries {
		out[e.Fingerprint] = e
	}
	return out, nil
}

func (s *Storage) UpsertLabelCacheEntries(ctx context.Context, entries []common.LabelCacheEntry) error {
	return store.ChunkRange(len(entries), chunkSize, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, e := range entries[start:end] {
			batch.Queue(upsertLabelCacheSQL, e.Fingerprint, util.SanitizeText(e.Label), util.SanitizeText(e.Summary), vectorArg(e.Embedding), e.CreatedAt)
		}
		if err := s.conn.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to upsert label cache: %w", err)
		}
		return nil
	})
}

// UpdateClusterLabels applies every update in one transaction.
func (s *Storage) UpdateClusterLabels(ctx context.Context, updates []store.LabelUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgxv5.Batch{}
	for _, u := range updates {
		batch.Queue(updateClusterLabelSQL,
			u.ClusterID, util.SanitizeText(u.Label), util.SanitizeText(u.Summary), vectorArg(u.Embedding), string(u.Source),
			u.LabelFingerprint, u.LabeledAt, u.CheckedAt, u.MembersSinceCheck, u.Drift,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to update cluster labels: %w", err)
	}
	return tx.Commit(ctx)
}
