package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/internal/util"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const listViewpointsSQL = `
SELECT id, controversy_id, position_id, side, title, summary, question, position_fingerprint, updated_at
FROM viewpoints
ORDER BY id;
`

const upsertViewpointSQL = `
INSERT INTO viewpoints (
    id, controversy_id, position_id, side, title, summary, question, position_fingerprint, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE
SET side                 = EXCLUDED.side,
    title                = EXCLUDED.title,
    summary              = EXCLUDED.summary,
    question             = EXCLUDED.question,
    position_fingerprint = EXCLUDED.position_fingerprint,
    updated_at           = EXCLUDED.updated_at;
`

const deleteViewpointsExceptSQL = `
DELETE FROM viewpoints
WHERE NOT (id = ANY($1::text[]));
`

const saveGraphSQL = `
INSERT INTO viewpoint_graphs (viewpoint_id, graph, generated_at)
VALUES ($1, $2, $3)
ON CONFLICT (viewpoint_id) DO UPDATE
SET graph        = EXCLUDED.graph,
    generated_at = EXCLUDED.generated_at;
`

const listGraphTimesSQL = `
SELECT viewpoint_id, generated_at FROM viewpoint_graphs;
`

const getGraphSQL = `
SELECT graph FROM viewpoint_graphs WHERE viewpoint_id = $1;
`

func (s *Storage) ListViewpoints(ctx context.Context) ([]common.Viewpoint, error) {
	rows, err := s.conn.Query(ctx, listViewpointsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list viewpoints: %w", err)
	}
	out, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Viewpoint, error) {
		var v common.Viewpoint
		var side string
		err := row.Scan(&v.ID, &v.ControversyID, &v.PositionID, &side, &v.Title, &v.Summary, &v.Question, &v.Fingerprint, &v.UpdatedAt)
		v.Side = common.SideName(side)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan viewpoints: %w", err)
	}
	return out, nil
}

func (s *Storage) UpsertViewpoints(ctx context.Context, viewpoints []common.Viewpoint) error {
	return store.ChunkRange(len(viewpoints), chunkSize, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, v := range viewpoints[start:end] {
			batch.Queue(upsertViewpointSQL, viewpointArgs(v)...)
		}
		if err := s.conn.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to upsert viewpoints: %w", err)
		}
		return nil
	})
}

// viewpointArgs orders the upsertViewpointSQL parameters. Every free-text
// column is sanitized.
func viewpointArgs(v common.Viewpoint) []any {
	return []any{
		v.ID, v.ControversyID, v.PositionID, string(v.Side),
		util.SanitizeText(v.Title), util.SanitizeText(v.Summary), util.SanitizeText(v.Question),
		v.Fingerprint, v.UpdatedAt,
	}
}

// DeleteViewpointsExcept removes every viewpoint not in keep. Their graphs
// go with them through the foreign key.
func (s *Storage) DeleteViewpointsExcept(ctx context.Context, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	tag, err := s.conn.Exec(ctx, deleteViewpointsExceptSQL, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to delete viewpoints: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Storage) SaveViewpointGraph(ctx context.Context, graph common.ViewpointGraph) error {
	data, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}
	if _, err := s.conn.Exec(ctx, saveGraphSQL, graph.ViewpointID, data, graph.GeneratedAt); err != nil {
		return fmt.Errorf("failed to save graph of %s: %w", graph.ViewpointID, err)
	}
	return nil
}

func (s *Storage) GetViewpointGraph(ctx context.Context, viewpointID string) (*common.ViewpointGraph, error) {
	var data []byte
	err := s.conn.QueryRow(ctx, getGraphSQL, viewpointID).Scan(&data)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load graph of %s: %w", viewpointID, err)
	}
	var g common.ViewpointGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
	}
	return &g, nil
}

func (s *Storage) ListGraphTimes(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.conn.Query(ctx, listGraphTimesSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list graph times: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("failed to scan graph time: %w", err)
		}
		out[id] = at
	}
	return out, rows.Err()
}
