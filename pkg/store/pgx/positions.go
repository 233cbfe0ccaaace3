package pgx

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const listPositionClustersSQL = `
SELECT id, status, membership_fingerprint, label, summary, label_embedding,
       label_source, label_fingerprint, labeled_at, label_checked_at,
       members_since_check, drift, created_at, retired_at
FROM position_clusters
WHERE status = 'active'
ORDER BY id;
`

const listPositionMembersSQL = `
SELECT m.cluster_id, m.claim_id, m.role, m.rank, m.similarity
FROM position_cluster_members m
JOIN position_clusters c ON c.id = m.cluster_id
WHERE c.status = 'active'
ORDER BY m.cluster_id, m.rank;
`

const upsertPositionClusterSQL = `
INSERT INTO position_clusters (
    id, status, membership_fingerprint, label, summary, label_embedding,
    label_source, label_fingerprint, labeled_at, label_checked_at,
    members_since_check, drift, created_at, retired_at
)
VALUES ($1, 'active', $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULL)
ON CONFLICT (id) DO UPDATE
SET status                 = 'active',
    membership_fingerprint = EXCLUDED.membership_fingerprint,
    label                  = EXCLUDED.label,
    summary                = EXCLUDED.summary,
    label_embedding        = EXCLUDED.label_embedding,
    label_source           = EXCLUDED.label_source,
    label_fingerprint      = EXCLUDED.label_fingerprint,
    labeled_at             = EXCLUDED.labeled_at,
    label_checked_at       = EXCLUDED.label_checked_at,
    members_since_check    = EXCLUDED.members_since_check,
    drift                  = EXCLUDED.drift,
    retired_at             = NULL;
`

const deletePositionMembersSQL = `DELETE FROM position_cluster_members;`

const insertPositionMembersSQL = `
INSERT INTO position_cluster_members (cluster_id, claim_id, role, rank, similarity)
SELECT * FROM unnest($1::text[], $2::bigint[], $3::text[], $4::int[], $5::float8[]);
`

const retirePositionClustersSQL = `
UPDATE position_clusters
SET status = 'retired', retired_at = now()
WHERE status = 'active' AND NOT (id = ANY($1::text[]));
`

const prunePositionClustersSQL = `
DELETE FROM position_clusters
WHERE status = 'retired' AND retired_at < $1;
`

func (s *Storage) ListPositionClusters(ctx context.Context) ([]common.PositionCluster, error) {
	rows, err := s.conn.Query(ctx, listPositionClustersSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list position clusters: %w", err)
	}
	clusters, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.PositionCluster, error) {
		var c common.PositionCluster
		var status, source string
		var emb *pgvector.Vector
		err := row.Scan(
			&c.ID, &status, &c.Fingerprint, &c.Label, &c.Summary, &emb,
			&source, &c.LabelFingerprint, &c.LabeledAt, &c.LabelCheckedAt,
			&c.MembersSinceCheck, &c.Drift, &c.CreatedAt, &c.RetiredAt,
		)
		c.Status = common.ClusterStatus(status)
		c.LabelSource = common.LabelSource(source)
		c.LabelEmbedding = vectorSlice(emb)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan position clusters: %w", err)
	}

	rows, err = s.conn.Query(ctx, listPositionMembersSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list position members: %w", err)
	}
	type memberRow struct {
		clusterID string
		member    common.ClusterMember
	}
	members, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (memberRow, error) {
		var m memberRow
		var role string
		err := row.Scan(&m.clusterID, &m.member.ClaimID, &role, &m.member.Rank, &m.member.Similarity)
		m.member.Role = common.ClusterRole(role)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan position members: %w", err)
	}

	index := make(map[string]int, len(clusters))
	for i, c := range clusters {
		index[c.ID] = i
	}
	for _, m := range members {
		if i, ok := index[m.clusterID]; ok {
			clusters[i].Members = append(clusters[i].Members, m.member)
		}
	}
	return clusters, nil
}

// ReplacePositionClusters swaps the active cluster set in one transaction.
// Clusters missing from the new set are retired with their memberships
// removed; retired clusters older than retiredBefore are deleted.
func (s *Storage) ReplacePositionClusters(ctx context.Context, clusters []common.PositionCluster, retiredBefore time.Time) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgxv5.Batch{}
	ids := make([]string, 0, len(clusters))
	for _, c := range clusters {
		ids = append(ids, c.ID)
		batch.Queue(upsertPositionClusterSQL,
			c.ID, c.Fingerprint, c.Label, c.Summary, vectorArg(c.LabelEmbedding),
			string(c.LabelSource), c.LabelFingerprint, c.LabeledAt, c.LabelCheckedAt,
			c.MembersSinceCheck, c.Drift, c.CreatedAt,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to upsert position clusters: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, deletePositionMembersSQL); err != nil {
		return fmt.Errorf("failed to clear position members: %w", err)
	}

	var (
		clusterIDs []string
		claimIDs   []int64
		roles      []string
		ranks      []int32
		sims       []float64
	)
	for _, c := range clusters {
		for _, m := range c.Members {
			clusterIDs = append(clusterIDs, c.ID)
			claimIDs = append(claimIDs, m.ClaimID)
			roles = append(roles, string(m.Role))
			ranks = append(ranks, int32(m.Rank))
			sims = append(sims, m.Similarity)
		}
	}
	err = store.ChunkRange(len(claimIDs), chunkSize, func(start, end int) error {
		_, err := tx.Exec(ctx, insertPositionMembersSQL,
			clusterIDs[start:end], claimIDs[start:end], roles[start:end], ranks[start:end], sims[start:end])
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert position members: %w", err)
	}

	retired, err := tx.Exec(ctx, retirePositionClustersSQL, ids)
	if err != nil {
		return fmt.Errorf("failed to retire position clusters: %w", err)
	}
	pruned, err := tx.Exec(ctx, prunePositionClustersSQL, retiredBefore)
	if err != nil {
		return fmt.Errorf("failed to prune retired clusters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	logger.Debug("[Store][ReplacePositionClusters] Replaced clusters",
		"clusters", len(clusters),
		"members", len(claimIDs),
		"retired", retired.RowsAffected(),
		"pruned", pruned.RowsAffected(),
	)
	return nil
}
