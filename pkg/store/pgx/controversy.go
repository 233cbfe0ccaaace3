package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/stancemap/backend/internal/util"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const listControversiesSQL = `
SELECT c.id, c.question, c.score, c.created_at,
       a.position_id, a.stance, a.position_fingerprint,
       b.position_id, b.stance, b.position_fingerprint
FROM controversy_clusters c
JOIN controversy_sides a ON a.controversy_id = c.id AND a.side = 'A'
JOIN controversy_sides b ON b.controversy_id = c.id AND b.side = 'B'
ORDER BY c.id;
`

const insertPairScoresSQL = `
INSERT INTO position_pair_scores (
    position_a, position_b, contradictory_count, competing_count, supporting_count, controversy_score
)
SELECT * FROM unnest($1::text[], $2::text[], $3::int[], $4::int[], $5::int[], $6::float8[]);
`

const insertControversySQL = `
INSERT INTO controversy_clusters (id, question, score, created_at)
VALUES ($1, $2, $3, $4);
`

const insertControversySideSQL = `
INSERT INTO controversy_sides (controversy_id, side, position_id, stance, position_fingerprint)
VALUES ($1, $2, $3, $4, $5);
`

func (s *Storage) ListControversyClusters(ctx context.Context) ([]common.ControversyCluster, error) {
	rows, err := s.conn.Query(ctx, listControversiesSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list controversies: %w", err)
	}
	out, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.ControversyCluster, error) {
		var c common.ControversyCluster
		a, b := &c.Sides[0], &c.Sides[1]
		err := row.Scan(
			&c.ID, &c.Question, &c.Score, &c.CreatedAt,
			&a.PositionID, &a.Stance, &a.Fingerprint,
			&b.PositionID, &b.Stance, &b.Fingerprint,
		)
		a.Side, b.Side = common.SideA, common.SideB
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan controversies: %w", err)
	}
	return out, nil
}

// ReplacePositionPairScores deletes every score and inserts the new set.
func (s *Storage) ReplacePositionPairScores(ctx context.Context, scores []common.PositionPairScore) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM position_pair_scores;`); err != nil {
		return fmt.Errorf("failed to clear pair scores: %w", err)
	}

	err = store.ChunkRange(len(scores), chunkSize, func(start, end int) error {
		n := end - start
		as := make([]string, 0, n)
		bs := make([]string, 0, n)
		contra := make([]int32, 0, n)
		competing := make([]int32, 0, n)
		supporting := make([]int32, 0, n)
		score := make([]float64, 0, n)
		for _, p := range scores[start:end] {
			k := p.Key()
			as = append(as, k.A)
			bs = append(bs, k.B)
			contra = append(contra, int32(p.ContradictoryCount))
			competing = append(competing, int32(p.CompetingCount))
			supporting = append(supporting, int32(p.SupportingCount))
			score = append(score, p.ControversyScore)
		}
		_, err := tx.Exec(ctx, insertPairScoresSQL, as, bs, contra, competing, supporting, score)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert pair scores: %w", err)
	}
	return tx.Commit(ctx)
}

// ReplaceControversyClusters deletes every controversy and its sides and
// inserts the new set.
func (s *Storage) ReplaceControversyClusters(ctx context.Context, clusters []common.ControversyCluster) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM controversy_clusters;`); err != nil {
		return fmt.Errorf("failed to clear controversies: %w", err)
	}

	batch := &pgxv5.Batch{}
	for _, c := range clusters {
		batch.Queue(insertControversySQL, c.ID, util.SanitizeText(c.Question), c.Score, c.CreatedAt)
		for _, side := range c.Sides {
			batch.Queue(insertControversySideSQL, c.ID, string(side.Side), side.PositionID, util.SanitizeText(side.Stance), side.Fingerprint)
		}
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert controversies: %w", err)
		}
	}
	return tx.Commit(ctx)
}
