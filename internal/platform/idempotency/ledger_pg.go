package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthcore/healthcore/internal/platform/db"
)

type LedgerPG struct {
	pool *pgxpool.Pool
}

// NewLedgerPG returns a Ledger over the idempotency_entry table, whose
// UNIQUE (requester_identity, idempotency_key) constraint arbitrates races.
func NewLedgerPG(pool *pgxpool.Pool) *LedgerPG {
	return &LedgerPG{pool: pool}
}

func (l *LedgerPG) Get(ctx context.Context, identity, key string) (*Entry, error) {
	e := &Entry{}
	err := db.Conn(ctx, l.pool).QueryRow(ctx, `
		SELECT requester_identity, idempotency_key, request_path, status_code, response_body, created_at
		FROM idempotency_entry
		WHERE requester_identity = $1 AND idempotency_key = $2`,
		identity, key,
	).Scan(&e.Identity, &e.Key, &e.Path, &e.StatusCode, &e.Body, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency entry: %w", err)
	}
	return e, nil
}

func (l *LedgerPG) Put(ctx context.Context, e *Entry) error {
	err := db.Conn(ctx, l.pool).QueryRow(ctx, `
		INSERT INTO idempotency_entry (requester_identity, idempotency_key, request_path, status_code, response_body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		e.Identity, e.Key, e.Path, e.StatusCode, e.Body,
	).Scan(&e.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("put idempotency entry: %w", err)
	}
	return nil
}

func (l *LedgerPG) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := db.Conn(ctx, l.pool).Exec(ctx,
		`DELETE FROM idempotency_entry WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune idempotency entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
