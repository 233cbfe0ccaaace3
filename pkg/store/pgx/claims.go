package pgx

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const getClaimsSQL = `
SELECT id, text, embedding, last_classified_at, needs_reclassification, created_at
FROM claims
WHERE id = ANY($1::bigint[])
ORDER BY id;
`

// Cosine distance keeps the HNSW index usable; the floor is applied on
// the similarity derived from it.
const nearestNeighborsSQL = `
WITH target AS (
    SELECT embedding FROM claims WHERE id = $1
)
SELECT c.id, 1 - (c.embedding <=> t.embedding) AS similarity
FROM claims c, target t
WHERE c.id <> $1
  AND c.embedding IS NOT NULL
  AND t.embedding IS NOT NULL
  AND 1 - (c.embedding <=> t.embedding) >= $3
ORDER BY c.embedding <=> t.embedding, c.id
LIMIT $2;
`

const listNeverClassifiedSQL = `
SELECT id FROM claims
WHERE last_classified_at IS NULL
ORDER BY id
LIMIT $1;
`

const listFlaggedSQL = `
SELECT id FROM claims
WHERE needs_reclassification AND last_classified_at IS NOT NULL
ORDER BY last_classified_at, id
LIMIT $1;
`

const listStaleSQL = `
SELECT id FROM claims
WHERE NOT needs_reclassification
  AND last_classified_at IS NOT NULL
  AND last_classified_at < $1
ORDER BY last_classified_at, id
LIMIT $2;
`

const markClassifiedSQL = `
UPDATE claims
SET last_classified_at = $2, needs_reclassification = FALSE
WHERE id = ANY($1::bigint[]);
`

const flagClaimsSQL = `
UPDATE claims
SET needs_reclassification = TRUE
WHERE id = ANY($1::bigint[]);
`

func (s *Storage) GetClaims(ctx context.Context, ids []int64) ([]common.Claim, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, getClaimsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Claim, error) {
		var c common.Claim
		var emb *pgvector.Vector
		err := row.Scan(&c.ID, &c.Text, &emb, &c.LastClassifiedAt, &c.NeedsReclassification, &c.CreatedAt)
		c.Embedding = vectorSlice(emb)
		return c, err
	})
}

func (s *Storage) NearestNeighbors(ctx context.Context, claimID int64, k int, minSimilarity float64) ([]common.Neighbor, error) {
	rows, err := s.conn.Query(ctx, nearestNeighborsSQL, claimID, k, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbours of claim %d: %w", claimID, err)
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Neighbor, error) {
		var n common.Neighbor
		err := row.Scan(&n.ClaimID, &n.Similarity)
		return n, err
	})
}

func (s *Storage) listIDs(ctx context.Context, sql string, args ...any) ([]int64, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, pgxv5.RowTo[int64])
}

func (s *Storage) ListNeverClassified(ctx context.Context, limit int) ([]int64, error) {
	ids, err := s.listIDs(ctx, listNeverClassifiedSQL, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list unclassified claims: %w", err)
	}
	return ids, nil
}

func (s *Storage) ListFlagged(ctx context.Context, limit int) ([]int64, error) {
	ids, err := s.listIDs(ctx, listFlaggedSQL, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list flagged claims: %w", err)
	}
	return ids, nil
}

func (s *Storage) ListStale(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	ids, err := s.listIDs(ctx, listStaleSQL, before, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale claims: %w", err)
	}
	return ids, nil
}

func (s *Storage) MarkClassified(ctx context.Context, ids []int64, at time.Time) error {
	return store.ChunkRange(len(ids), chunkSize, func(start, end int) error {
		if _, err := s.conn.Exec(ctx, markClassifiedSQL, ids[start:end], at); err != nil {
			return fmt.Errorf("failed to mark claims classified: %w", err)
		}
		return nil
	})
}

func (s *Storage) FlagForReclassification(ctx context.Context, ids []int64) error {
	return store.ChunkRange(len(ids), chunkSize, func(start, end int) error {
		if _, err := s.conn.Exec(ctx, flagClaimsSQL, ids[start:end]); err != nil {
			return fmt.Errorf("failed to flag claims: %w", err)
		}
		return nil
	})
}
