package equipment

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

// Schema maps equipment windows and reservations onto their tables.
func Schema() allocation.Schema {
	return allocation.Schema{
		UnitTable:       "equipment_window",
		UnitOwner:       "equipment_id",
		AllocatedColumn: "is_reserved",
		TimeBounded:     true,

		RecordTable:     "equipment_reservation",
		RecordRequester: "requester_id",
		RecordOwner:     "equipment_id",
		RecordUnit:      "window_id",
		Extras: []allocation.Extra{
			{Attribute: attrDepartment, Column: "department_id", Type: "uuid"},
			{Attribute: attrPurpose, Column: "purpose", Type: "text"},
		},

		OwnerEligibleSQL: `SELECT active AND status NOT IN ('MAINTENANCE', 'LOST') FROM equipment WHERE id = $1`,
	}
}

func NewStorePG(pool *pgxpool.Pool) *allocation.StorePG {
	return allocation.NewStorePG(pool, Schema())
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const equipmentCols = `id, name, status, active, created_at`

func (r *repoPG) Create(ctx context.Context, e *Equipment) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO equipment (id, name, status, active) VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		e.ID, e.Name, e.Status, e.Active).Scan(&e.CreatedAt)
}

func (r *repoPG) one(ctx context.Context, sql string, args ...any) (*Equipment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	e, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Equipment])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, allocation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read equipment: %w", err)
	}
	return e, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Equipment, error) {
	return r.one(ctx, `SELECT `+equipmentCols+` FROM equipment WHERE id = $1`, id)
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Equipment, error) {
	return r.one(ctx, `UPDATE equipment SET status = $2 WHERE id = $1 RETURNING `+equipmentCols, id, status)
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Equipment, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM equipment`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+equipmentCols+` FROM equipment ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Equipment])
	if err != nil {
		return nil, 0, fmt.Errorf("list equipment: %w", err)
	}
	return items, total, nil
}

const incidentCols = `id, equipment_id, severity, description, status, reported_by, created_at, resolved_at`

func (r *repoPG) RecordIncident(ctx context.Context, inc *Incident, status string) (*Equipment, error) {
	if inc.ID == uuid.Nil {
		inc.ID = uuid.New()
	}
	var e *Equipment
	err := db.InTx(ctx, r.pool, func(ctx context.Context) error {
		var err error
		e, err = r.one(ctx, `SELECT `+equipmentCols+` FROM equipment WHERE id = $1 FOR UPDATE`, inc.EquipmentID)
		if err != nil {
			return err
		}
		if err := db.Conn(ctx, r.pool).QueryRow(ctx, `
			INSERT INTO equipment_incident (id, equipment_id, severity, description, status, reported_by)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at`,
			inc.ID, inc.EquipmentID, inc.Severity, inc.Description, inc.Status, inc.ReportedBy).Scan(&inc.CreatedAt); err != nil {
			return fmt.Errorf("insert incident: %w", err)
		}
		if status != "" && status != e.Status {
			e, err = r.UpdateStatus(ctx, inc.EquipmentID, status)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *repoPG) ListIncidents(ctx context.Context, equipmentID uuid.UUID, limit, offset int) ([]*Incident, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM equipment_incident WHERE equipment_id = $1`, equipmentID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+incidentCols+` FROM equipment_incident
		WHERE equipment_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, equipmentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Incident])
	if err != nil {
		return nil, 0, fmt.Errorf("list incidents: %w", err)
	}
	return items, total, nil
}
