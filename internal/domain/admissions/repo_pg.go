package admissions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthcore/healthcore/internal/domain/allocation"
	"github.com/healthcore/healthcore/internal/platform/db"
)

// Schema maps beds and admissions onto their tables.
func Schema() allocation.Schema {
	return allocation.Schema{
		UnitTable:       "bed",
		UnitOwner:       "ward_id",
		UnitLabel:       "bed_number",
		AllocatedColumn: "is_occupied",

		RecordTable:     "admission",
		RecordRequester: "patient_id",
		RecordOwner:     "ward_id",
		RecordUnit:      "bed_id",

		OwnerEligibleSQL: `SELECT active FROM ward WHERE id = $1`,
	}
}

func NewStorePG(pool *pgxpool.Pool) *allocation.StorePG {
	return allocation.NewStorePG(pool, Schema())
}

type wardRepoPG struct {
	pool *pgxpool.Pool
}

func NewWardRepoPG(pool *pgxpool.Pool) WardRepository {
	return &wardRepoPG{pool: pool}
}

const wardCols = `id, name, active, created_at`

func (r *wardRepoPG) Create(ctx context.Context, w *Ward) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO ward (id, name, active) VALUES ($1, $2, $3)
		RETURNING created_at`,
		w.ID, w.Name, w.Active).Scan(&w.CreatedAt)
}

func (r *wardRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Ward, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+wardCols+` FROM ward WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	w, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Ward])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, allocation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ward: %w", err)
	}
	return w, nil
}

func (r *wardRepoPG) List(ctx context.Context, limit, offset int) ([]*Ward, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM ward`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+wardCols+` FROM ward ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	wards, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Ward])
	if err != nil {
		return nil, 0, fmt.Errorf("list wards: %w", err)
	}
	return wards, total, nil
}
