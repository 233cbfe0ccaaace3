package pgx

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const getRelationshipsSQL = `
SELECT e.claim_a, e.claim_b, e.relationship, e.similarity, e.classified_at
FROM relationship_edges e
JOIN unnest($1::bigint[], $2::bigint[]) AS k(a, b)
  ON e.claim_a = k.a AND e.claim_b = k.b;
`

// Conflicting keys keep one row: the latest write wins.
const upsertRelationshipsSQL = `
INSERT INTO relationship_edges (claim_a, claim_b, relationship, similarity, classified_at)
SELECT * FROM unnest($1::bigint[], $2::bigint[], $3::text[], $4::float8[], $5::timestamptz[])
ON CONFLICT (claim_a, claim_b) DO UPDATE
SET relationship  = EXCLUDED.relationship,
    similarity    = EXCLUDED.similarity,
    classified_at = EXCLUDED.classified_at;
`

const listRelationshipsSQL = `
SELECT claim_a, claim_b, relationship, similarity, classified_at
FROM relationship_edges
WHERE cardinality($1::text[]) = 0 OR relationship = ANY($1::text[])
ORDER BY claim_a, claim_b;
`

func scanEdge(row pgxv5.CollectableRow) (common.RelationshipEdge, error) {
	var e common.RelationshipEdge
	var rel string
	err := row.Scan(&e.ClaimA, &e.ClaimB, &rel, &e.Similarity, &e.ClassifiedAt)
	e.Relationship = common.Relationship(rel)
	return e, err
}

func (s *Storage) GetRelationships(ctx context.Context, keys []common.PairKey) (map[common.PairKey]common.RelationshipEdge, error) {
	out := make(map[common.PairKey]common.RelationshipEdge, len(keys))
	err := store.ChunkRange(len(keys), chunkSize, func(start, end int) error {
		as := make([]int64, 0, end-start)
		bs := make([]int64, 0, end-start)
		for _, k := range keys[start:end] {
			k = common.NewPairKey(k.A, k.B)
			as = append(as, k.A)
			bs = append(bs, k.B)
		}

		rows, err := s.conn.Query(ctx, getRelationshipsSQL, as, bs)
		if err != nil {
			return fmt.Errorf("failed to query relationship edges: %w", err)
		}
		edges, err := pgxv5.CollectRows(rows, scanEdge)
		if err != nil {
			return fmt.Errorf("failed to scan relationship edges: %w", err)
		}
		for _, e := range edges {
			out[e.Key()] = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Storage) UpsertRelationships(ctx context.Context, edges []common.RelationshipEdge) error {
	if len(edges) == 0 {
		return nil
	}
	edges = lastPerKey(edges)
	logger.Debug("[Store][UpsertRelationships] Upserting edges", "edges", len(edges))

	return store.ChunkRange(len(edges), chunkSize, func(start, end int) error {
		n := end - start
		as := make([]int64, 0, n)
		bs := make([]int64, 0, n)
		rels := make([]string, 0, n)
		sims := make([]float64, 0, n)
		ats := make([]time.Time, 0, n)
		for _, e := range edges[start:end] {
			k := e.Key()
			as = append(as, k.A)
			bs = append(bs, k.B)
			rels = append(rels, string(e.Relationship))
			sims = append(sims, e.Similarity)
			ats = append(ats, e.ClassifiedAt)
		}
		if _, err := s.conn.Exec(ctx, upsertRelationshipsSQL, as, bs, rels, sims, ats); err != nil {
			return fmt.Errorf("failed to upsert relationship edges: %w", err)
		}
		return nil
	})
}

func (s *Storage) ListRelationships(ctx context.Context, rels ...common.Relationship) ([]common.RelationshipEdge, error) {
	names := make([]string, len(rels))
	for i, r := range rels {
		names[i] = string(r)
	}
	rows, err := s.conn.Query(ctx, listRelationshipsSQL, names)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationship edges: %w", err)
	}
	edges, err := pgxv5.CollectRows(rows, scanEdge)
	if err != nil {
		return nil, fmt.Errorf("failed to scan relationship edges: %w", err)
	}
	return edges, nil
}

// lastPerKey drops all but the last edge of each pair, since one INSERT
// cannot update the same row twice.
func lastPerKey(edges []common.RelationshipEdge) []common.RelationshipEdge {
	index := make(map[common.PairKey]int, len(edges))
	out := make([]common.RelationshipEdge, 0, len(edges))
	for _, e := range edges {
		if i, ok := index[e.Key()]; ok {
			out[i] = e
			continue
		}
		index[e.Key()] = len(out)
		out = append(out, e)
	}
	return out
}
