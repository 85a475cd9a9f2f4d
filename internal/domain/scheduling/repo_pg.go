package scheduling

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthcore/healthcore/internal/domain/allocation"
)

// Schema maps slots and appointments onto their tables.
func Schema() allocation.Schema {
	return allocation.Schema{
		UnitTable:       "slot",
		UnitOwner:       "practitioner_id",
		AllocatedColumn: "is_booked",
		TimeBounded:     true,

		RecordTable:     "appointment",
		RecordRequester: "patient_id",
		RecordOwner:     "practitioner_id",
		RecordUnit:      "slot_id",

		OwnerEligibleSQL: `SELECT active FROM practitioner WHERE id = $1`,
		HorizonOwnersSQL: `SELECT id FROM practitioner WHERE active AND scheduling_participant ORDER BY id`,
	}
}

func NewStorePG(pool *pgxpool.Pool) *allocation.StorePG {
	return allocation.NewStorePG(pool, Schema())
}
