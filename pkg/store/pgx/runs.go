package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

const recordRunSQL = `
INSERT INTO job_runs (step, dry_run, failed, result, started_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6);
`

const lastRunSQL = `
SELECT result FROM job_runs
WHERE step = $1
ORDER BY started_at DESC, id DESC
LIMIT 1;
`

func (s *Storage) RecordRun(ctx context.Context, result common.RunResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal run result: %w", err)
	}
	_, err = s.conn.Exec(ctx, recordRunSQL,
		result.Step, result.DryRun, result.Error != "", data, result.StartedAt, result.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

func (s *Storage) LastRun(ctx context.Context, step string) (*common.RunResult, error) {
	var data []byte
	err := s.conn.QueryRow(ctx, lastRunSQL, step).Scan(&data)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last run: %w", err)
	}
	var res common.RunResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run result: %w", err)
	}
	return &res, nil
}
