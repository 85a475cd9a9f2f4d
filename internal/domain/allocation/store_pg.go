package allocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthcore/healthcore/internal/platform/db"
)

// Schema maps one kind onto its unit and record tables.
type Schema struct {
	UnitTable       string
	UnitOwner       string
	UnitLabel       string // binary kinds only, e.g. bed_number
	AllocatedColumn string
	TimeBounded     bool

	RecordTable     string
	RecordRequester string
	RecordOwner     string
	RecordUnit      string
	// Extras are record columns exposed through Record.Attributes.
	Extras []Extra

	// OwnerEligibleSQL selects one boolean for owner $1.
	OwnerEligibleSQL string
	// HorizonOwnersSQL selects owner ids; empty for kinds without a horizon.
	HorizonOwnersSQL string
}

// Extra is one kind-specific record column.
type Extra struct {
	Attribute string
	Column    string
	Type      string // SQL type the text attribute is cast to
}

// StorePG is the Postgres Store. Every method runs on the transaction bound
// to ctx when there is one.
type StorePG struct {
	pool   *pgxpool.Pool
	schema Schema
}

func NewStorePG(pool *pgxpool.Pool, schema Schema) *StorePG {
	return &StorePG{pool: pool, schema: schema}
}

func (s *StorePG) Units() UnitStore     { return unitsPG{s} }
func (s *StorePG) Records() RecordStore { return recordsPG{s} }

func (s *StorePG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.InTx(ctx, s.pool, fn)
}

func (s *StorePG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

func (sc Schema) unitColumns(prefix string) string {
	cols := []string{"id", sc.UnitOwner}
	if sc.UnitLabel != "" {
		cols = append(cols, sc.UnitLabel)
	}
	if sc.TimeBounded {
		cols = append(cols, "start_time", "end_time")
	}
	cols = append(cols, sc.AllocatedColumn, "is_active", "created_at", "updated_at")
	return qualify(prefix, cols)
}

func (sc Schema) unitDest(u *Unit) []any {
	dest := []any{&u.ID, &u.OwnerID}
	if sc.UnitLabel != "" {
		dest = append(dest, &u.Label)
	}
	if sc.TimeBounded {
		dest = append(dest, &u.StartTime, &u.EndTime)
	}
	return append(dest, &u.Allocated, &u.Active, &u.CreatedAt, &u.UpdatedAt)
}

func (sc Schema) recordColumns(prefix string) string {
	cols := []string{"id", sc.RecordRequester, sc.RecordOwner, sc.RecordUnit, "status", "notes"}
	for _, x := range sc.Extras {
		cols = append(cols, "COALESCE("+prefix+x.Column+"::text, '')")
	}
	cols = append(cols, "created_at", "updated_at", "terminated_at", "updated_by")
	return qualify(prefix, cols)
}

// recordDest returns the scan targets and a finisher that copies the extra
// columns into Attributes.
func (sc Schema) recordDest(r *Record) ([]any, func()) {
	extras := make([]string, len(sc.Extras))
	dest := []any{&r.ID, &r.RequesterID, &r.OwnerID, &r.UnitID, &r.Status, &r.Notes}
	for i := range extras {
		dest = append(dest, &extras[i])
	}
	dest = append(dest, &r.CreatedAt, &r.UpdatedAt, &r.TerminatedAt, &r.UpdatedBy)
	return dest, func() {
		for i, x := range sc.Extras {
			if extras[i] == "" {
				continue
			}
			if r.Attributes == nil {
				r.Attributes = make(map[string]string, len(sc.Extras))
			}
			r.Attributes[x.Attribute] = extras[i]
		}
	}
}

func qualify(prefix string, cols []string) string {
	if prefix == "" {
		return strings.Join(cols, ", ")
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		if strings.Contains(c, "(") {
			out[i] = c
			continue
		}
		out[i] = prefix + c
	}
	return strings.Join(out, ", ")
}

func (s *StorePG) scanUnit(row pgx.Row) (*Unit, error) {
	u := &Unit{}
	if err := row.Scan(s.schema.unitDest(u)...); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *StorePG) scanRecord(row pgx.Row) (*Record, error) {
	r := &Record{}
	dest, finish := s.schema.recordDest(r)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	finish()
	return r, nil
}

type unitsPG struct{ s *StorePG }

func (p unitsPG) FindAvailable(ctx context.Context, c Criteria, now time.Time) (*Unit, error) {
	sc := p.s.schema
	var q string
	args := []any{c.OwnerID}
	if sc.TimeBounded {
		q = fmt.Sprintf(`SELECT %s FROM %s
			WHERE %s = $1 AND is_active AND NOT %s AND start_time > $2
			ORDER BY start_time, id
			LIMIT 1 FOR UPDATE SKIP LOCKED`,
			sc.unitColumns(""), sc.UnitTable, sc.UnitOwner, sc.AllocatedColumn)
		args = append(args, now)
	} else {
		q = fmt.Sprintf(`SELECT %s FROM %s
			WHERE %s = $1 AND is_active AND NOT %s
			ORDER BY %s, id
			LIMIT 1 FOR UPDATE SKIP LOCKED`,
			sc.unitColumns(""), sc.UnitTable, sc.UnitOwner, sc.AllocatedColumn, sc.UnitLabel)
	}

	u, err := p.s.scanUnit(p.s.conn(ctx).QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find available %s: %w", sc.UnitTable, err)
	}
	return u, nil
}

func (p unitsPG) Get(ctx context.Context, id uuid.UUID) (*Unit, error) {
	sc := p.s.schema
	u, err := p.s.scanUnit(p.s.conn(ctx).QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, sc.unitColumns(""), sc.UnitTable), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", sc.UnitTable, err)
	}
	return u, nil
}

// MarkAllocated is a conditional update: zero affected rows means another
// transaction claimed or deactivated the unit first.
func (p unitsPG) MarkAllocated(ctx context.Context, id uuid.UUID) (*Unit, error) {
	sc := p.s.schema
	u, err := p.s.scanUnit(p.s.conn(ctx).QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s SET %s = TRUE, updated_at = NOW()
		WHERE id = $1 AND NOT %s AND is_active
		RETURNING %s`,
		sc.UnitTable, sc.AllocatedColumn, sc.AllocatedColumn, sc.unitColumns("")), id))
	if errors.Is(err, pgx.ErrNoRows) || db.IsExclusionViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("mark %s allocated: %w", sc.UnitTable, err)
	}
	return u, nil
}

func (p unitsPG) Release(ctx context.Context, id uuid.UUID) (*Unit, error) {
	sc := p.s.schema
	u, err := p.s.scanUnit(p.s.conn(ctx).QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s SET %s = FALSE, updated_at = NOW()
		WHERE id = $1 AND NOT EXISTS (
			SELECT 1 FROM %s WHERE %s = $1 AND status = 'active'
		)
		RETURNING %s`,
		sc.UnitTable, sc.AllocatedColumn, sc.RecordTable, sc.RecordUnit, sc.unitColumns("")), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, p.missingOr(ctx, id, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("release %s: %w", sc.UnitTable, err)
	}
	return u, nil
}

// missingOr distinguishes a missing unit from a refused conditional update.
func (p unitsPG) missingOr(ctx context.Context, id uuid.UUID, refused error) error {
	if _, err := p.Get(ctx, id); err != nil {
		return err
	}
	return refused
}

func (p unitsPG) insertSQL(returning bool) string {
	sc := p.s.schema
	var cols, vals, conflict string
	if sc.TimeBounded {
		cols = fmt.Sprintf("id, %s, start_time, end_time, %s, is_active", sc.UnitOwner, sc.AllocatedColumn)
		vals = "$1, $2, $3, $4, $5, $6"
		conflict = fmt.Sprintf("%s, start_time, end_time", sc.UnitOwner)
	} else {
		cols = fmt.Sprintf("id, %s, %s, %s, is_active", sc.UnitOwner, sc.UnitLabel, sc.AllocatedColumn)
		vals = "$1, $2, $3, $4, $5"
		conflict = fmt.Sprintf("%s, %s", sc.UnitOwner, sc.UnitLabel)
	}
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT (%s) DO NOTHING`,
		sc.UnitTable, cols, vals, conflict)
	if returning {
		q += " RETURNING " + sc.unitColumns("")
	}
	return q
}

func (p unitsPG) insertArgs(u *Unit) []any {
	id := u.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	if p.s.schema.TimeBounded {
		return []any{id, u.OwnerID, u.StartTime, u.EndTime, u.Allocated, u.Active}
	}
	return []any{id, u.OwnerID, u.Label, u.Allocated, u.Active}
}

func (p unitsPG) Create(ctx context.Context, u *Unit) (*Unit, bool, error) {
	sc := p.s.schema
	created, err := p.s.scanUnit(p.s.conn(ctx).QueryRow(ctx, p.insertSQL(true), p.insertArgs(u)...))
	switch {
	case err == nil:
		return created, true, nil
	case db.IsForeignKeyViolation(err):
		return nil, false, fmt.Errorf("%w: owner does not exist", ErrNotFound)
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, false, fmt.Errorf("create %s: %w", sc.UnitTable, err)
	}

	// The unit already exists.
	var q string
	var args []any
	if sc.TimeBounded {
		q = fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 AND start_time = $2 AND end_time = $3`,
			sc.unitColumns(""), sc.UnitTable, sc.UnitOwner)
		args = []any{u.OwnerID, u.StartTime, u.EndTime}
	} else {
		q = fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 AND %s = $2`,
			sc.unitColumns(""), sc.UnitTable, sc.UnitOwner, sc.UnitLabel)
		args = []any{u.OwnerID, u.Label}
	}
	existing, err := p.s.scanUnit(p.s.conn(ctx).QueryRow(ctx, q, args...))
	if err != nil {
		return nil, false, fmt.Errorf("get existing %s: %w", sc.UnitTable, err)
	}
	return existing, false, nil
}

func (p unitsPG) EnsureUnits(ctx context.Context, units []*Unit) (int, error) {
	if len(units) == 0 {
		return 0, nil
	}
	q := p.insertSQL(false)
	batch := &pgx.Batch{}
	for _, u := range units {
		batch.Queue(q, p.insertArgs(u)...)
	}

	br := p.s.conn(ctx).SendBatch(ctx, batch)
	defer br.Close()

	created := 0
	for range units {
		tag, err := br.Exec()
		if err != nil {
			return created, fmt.Errorf("ensure %s: %w", p.s.schema.UnitTable, err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

func (p unitsPG) Deactivate(ctx context.Context, id uuid.UUID) (*Unit, error) {
	sc := p.s.schema
	u, err := p.s.scanUnit(p.s.conn(ctx).QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND NOT %s
		RETURNING %s`,
		sc.UnitTable, sc.AllocatedColumn, sc.unitColumns("")), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, p.missingOr(ctx, id, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("deactivate %s: %w", sc.UnitTable, err)
	}
	return u, nil
}

func (p unitsPG) List(ctx context.Context, f UnitFilter) ([]*Unit, int, error) {
	sc := p.s.schema
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.OwnerID != uuid.Nil {
		add(sc.UnitOwner+" = $%d", f.OwnerID)
	}
	if !f.IncludeInactive {
		where = append(where, "is_active")
	}
	if f.AvailableOnly {
		where = append(where, "is_active", "NOT "+sc.AllocatedColumn)
	}
	if sc.TimeBounded {
		if f.From != nil {
			add("start_time >= $%d", *f.From)
		}
		if f.To != nil {
			add("start_time <= $%d", *f.To)
		}
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := p.s.conn(ctx).QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s%s", sc.UnitTable, clause), args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", sc.UnitTable, err)
	}

	order := "start_time, id"
	if !sc.TimeBounded {
		order = sc.UnitLabel + ", id"
	}
	q := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s", sc.unitColumns(""), sc.UnitTable, clause, order)
	q, args = paginate(q, args, f.Limit, f.Offset)

	rows, err := p.s.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", sc.UnitTable, err)
	}
	defer rows.Close()

	var out []*Unit
	for rows.Next() {
		u, err := p.s.scanUnit(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan %s: %w", sc.UnitTable, err)
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

func paginate(q string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return q, args
}

func (p unitsPG) OwnerEligible(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	var ok bool
	err := p.s.conn(ctx).QueryRow(ctx, p.s.schema.OwnerEligibleSQL, ownerID).Scan(&ok)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check owner: %w", err)
	}
	return ok, nil
}

func (p unitsPG) HorizonOwners(ctx context.Context) ([]uuid.UUID, error) {
	if p.s.schema.HorizonOwnersSQL == "" {
		return nil, nil
	}
	rows, err := p.s.conn(ctx).Query(ctx, p.s.schema.HorizonOwnersSQL)
	if err != nil {
		return nil, fmt.Errorf("list horizon owners: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

type recordsPG struct{ s *StorePG }

func (p recordsPG) Create(ctx context.Context, r *Record) error {
	sc := p.s.schema
	cols := []string{"id", sc.RecordRequester, sc.RecordOwner, sc.RecordUnit, "status", "notes", "created_at", "updated_at", "updated_by"}
	vals := []string{"$1", "$2", "$3", "$4", "$5", "$6", "$7", "$8", "$9"}
	args := []any{r.ID, r.RequesterID, r.OwnerID, r.UnitID, r.Status, r.Notes, r.CreatedAt, r.UpdatedAt, r.UpdatedBy}
	for _, x := range sc.Extras {
		args = append(args, r.Attributes[x.Attribute])
		cols = append(cols, x.Column)
		vals = append(vals, fmt.Sprintf("NULLIF($%d, '')::%s", len(args), x.Type))
	}

	_, err := p.s.conn(ctx).Exec(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		sc.RecordTable, strings.Join(cols, ", "), strings.Join(vals, ", ")), args...)
	if db.IsUniqueViolation(err) {
		return ErrConflict
	}
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: referenced row does not exist", ErrInvalidRequest)
	}
	if err != nil {
		return fmt.Errorf("insert %s: %w", sc.RecordTable, err)
	}
	return nil
}

func (p recordsPG) get(ctx context.Context, id uuid.UUID, lock string) (*Record, error) {
	sc := p.s.schema
	r, err := p.s.scanRecord(p.s.conn(ctx).QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = $1%s", sc.recordColumns(""), sc.RecordTable, lock), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", sc.RecordTable, err)
	}
	return r, nil
}

func (p recordsPG) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	return p.get(ctx, id, "")
}

func (p recordsPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Record, error) {
	return p.get(ctx, id, " FOR UPDATE")
}

func (p recordsPG) UpdateStatus(ctx context.Context, r *Record) error {
	sc := p.s.schema
	tag, err := p.s.conn(ctx).Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET status = $2, updated_at = $3, terminated_at = $4, updated_by = $5
		WHERE id = $1`, sc.RecordTable),
		r.ID, r.Status, r.UpdatedAt, r.TerminatedAt, r.UpdatedBy)
	if err != nil {
		return fmt.Errorf("update %s: %w", sc.RecordTable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p recordsPG) CompleteExpired(ctx context.Context, now time.Time, actor string) ([]*Record, error) {
	sc := p.s.schema
	if !sc.TimeBounded {
		return nil, nil
	}
	rows, err := p.s.conn(ctx).Query(ctx, fmt.Sprintf(`
		UPDATE %s r SET status = 'completed', updated_at = $1,
			terminated_at = COALESCE(r.terminated_at, $1), updated_by = $2
		FROM %s u
		WHERE r.%s = u.id AND r.status = 'active' AND u.end_time < $1
		RETURNING %s`,
		sc.RecordTable, sc.UnitTable, sc.RecordUnit, sc.recordColumns("r.")),
		now, actor)
	if err != nil {
		return nil, fmt.Errorf("complete expired %s: %w", sc.RecordTable, err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := p.s.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", sc.RecordTable, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p recordsPG) ListStartingBetween(ctx context.Context, from, to time.Time) ([]*Allocation, error) {
	sc := p.s.schema
	if !sc.TimeBounded {
		return nil, nil
	}
	rows, err := p.s.conn(ctx).Query(ctx, fmt.Sprintf(`
		SELECT %s, %s
		FROM %s r JOIN %s u ON u.id = r.%s
		WHERE r.status = 'active' AND u.start_time BETWEEN $1 AND $2
		ORDER BY u.start_time`,
		sc.recordColumns("r."), sc.unitColumns("u."),
		sc.RecordTable, sc.UnitTable, sc.RecordUnit),
		from, to)
	if err != nil {
		return nil, fmt.Errorf("list upcoming %s: %w", sc.RecordTable, err)
	}
	defer rows.Close()

	var out []*Allocation
	for rows.Next() {
		r, u := &Record{}, &Unit{}
		dest, finish := sc.recordDest(r)
		if err := rows.Scan(append(dest, sc.unitDest(u)...)...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", sc.RecordTable, err)
		}
		finish()
		out = append(out, &Allocation{Record: r, Unit: u})
	}
	return out, rows.Err()
}

func (p recordsPG) List(ctx context.Context, f RecordFilter) ([]*Record, int, error) {
	sc := p.s.schema
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.RequesterID != nil {
		add(sc.RecordRequester+" = $%d", *f.RequesterID)
	}
	if f.OwnerID != nil {
		add(sc.RecordOwner+" = $%d", *f.OwnerID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := p.s.conn(ctx).QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s%s", sc.RecordTable, clause), args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", sc.RecordTable, err)
	}

	q := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY created_at DESC, id", sc.recordColumns(""), sc.RecordTable, clause)
	q, args = paginate(q, args, f.Limit, f.Offset)

	rows, err := p.s.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", sc.RecordTable, err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := p.s.scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan %s: %w", sc.RecordTable, err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}
