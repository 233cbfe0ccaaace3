package pgx

import (
	"context"

	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
	SendBatch(ctx context.Context, b *pgxv5.Batch) pgxv5.BatchResults
}

// Storage implements store.Storage on PostgreSQL with pgvector. The pool
// must have the pgvector types registered.
type Storage struct {
	conn pgxIConn
}

var _ store.Storage = (*Storage)(nil)

const chunkSize = 1000

// NewStorage wraps an existing pool or transaction.
func NewStorage(conn pgxIConn) *Storage {
	return &Storage{conn: conn}
}

func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func vectorSlice(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}

// limitArg maps a non-positive limit to SQL NULL, which means no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
