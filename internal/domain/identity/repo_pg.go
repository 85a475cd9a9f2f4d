package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthcore/healthcore/internal/platform/db"
)

type directoryPG struct {
	pool *pgxpool.Pool
}

func NewDirectoryPG(pool *pgxpool.Pool) Directory {
	return &directoryPG{pool: pool}
}

// GetRequester resolves only active rows.
func (d *directoryPG) GetRequester(ctx context.Context, role Role, id uuid.UUID) (*Requester, error) {
	var q string
	switch role {
	case RolePatient:
		q = `SELECT id, first_name || ' ' || last_name, active FROM patient WHERE id = $1 AND active`
	case RolePractitioner:
		q = `SELECT id, 'Dr. ' || last_name, active FROM practitioner WHERE id = $1 AND active`
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	r := &Requester{Role: role}
	err := db.Conn(ctx, d.pool).QueryRow(ctx, q, id).Scan(&r.ID, &r.DisplayName, &r.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", role, id, err)
	}
	return r, nil
}

func (d *directoryPG) CreatePatient(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := db.Conn(ctx, d.pool).QueryRow(ctx, `
		INSERT INTO patient (id, mrn, first_name, last_name, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.Active,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}

func (d *directoryPG) CreatePractitioner(ctx context.Context, p *Practitioner) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := db.Conn(ctx, d.pool).QueryRow(ctx, `
		INSERT INTO practitioner (id, first_name, last_name, specialty, scheduling_participant, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		p.ID, p.FirstName, p.LastName, p.Specialty, p.SchedulingParticipant, p.Active,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create practitioner: %w", err)
	}
	return nil
}
