package registration

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jbp/intake/internal/platform/db"
)

type storePG struct {
	pool *pgxpool.Pool
}

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

// Read committed is enough: the counter row lock taken by NextSequence
// serializes allocators of the same period.
var txOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

func (s *storePG) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.Classify(db.RunInTx(ctx, s.pool, txOptions, fn))
}

// The counter never falls behind rows already in the table, so a counter row
// lost or reset by hand heals on the next allocation.
const nextSequenceSQL = `
	INSERT INTO patient_sequence AS s (period_year, period_month, last_value)
	VALUES ($1, $2, 1 + COALESCE(
		(SELECT MAX(sequence) FROM patient WHERE period_year = $1 AND period_month = $2), 0))
	ON CONFLICT (period_year, period_month) DO UPDATE
	SET last_value = GREATEST(s.last_value, COALESCE(
			(SELECT MAX(sequence) FROM patient WHERE period_year = $1 AND period_month = $2), 0)) + 1,
		updated_at = NOW()
	RETURNING last_value`

func (s *storePG) NextSequence(ctx context.Context, p Period) (int, error) {
	var seq int
	err := s.conn(ctx).QueryRow(ctx, nextSequenceSQL, int16(p.Year), int16(p.Month)).Scan(&seq)
	if err != nil {
		return 0, db.Classify(fmt.Errorf("next sequence %s: %w", p, err))
	}
	return seq, nil
}

func (s *storePG) InsertPatient(ctx context.Context, row PatientRow) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO patient (
			identifier, period_year, period_month, sequence,
			last_name, first_name, middle_name, birth_date, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		string(row.Identifier), int16(row.Period.Year), int16(row.Period.Month), row.Sequence,
		row.LastName, row.FirstName, row.MiddleName, row.BirthDate, row.CreatedAt)
	if err != nil {
		return db.Classify(fmt.Errorf("insert patient %s: %w", row.Identifier, err))
	}
	return nil
}

const patientCols = `identifier, period_year, period_month, sequence,
	last_name, first_name, middle_name, birth_date, created_at`

func (s *storePG) GetPatient(ctx context.Context, id PatientIdentifier) (*PatientRow, error) {
	row, err := scanPatient(s.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE identifier = $1`, string(id)))
	if err != nil {
		return nil, db.Classify(fmt.Errorf("get patient %s: %w", id, err))
	}
	return row, nil
}

func (s *storePG) ListPatients(ctx context.Context, limit, offset int) ([]PatientRow, int, error) {
	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, db.Classify(fmt.Errorf("count patients: %w", err))
	}

	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patient ORDER BY created_at DESC, identifier DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, db.Classify(fmt.Errorf("list patients: %w", err))
	}
	defer rows.Close()

	var items []PatientRow
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, db.Classify(fmt.Errorf("scan patient: %w", err))
		}
		items = append(items, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.Classify(fmt.Errorf("list patients: %w", err))
	}
	return items, total, nil
}

func (s *storePG) Ping(ctx context.Context) error {
	return db.Classify(s.pool.Ping(ctx))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPatient(r rowScanner) (*PatientRow, error) {
	var (
		p            PatientRow
		id           string
		year, month  int16
		createdAtUTC time.Time
	)
	if err := r.Scan(&id, &year, &month, &p.Sequence,
		&p.LastName, &p.FirstName, &p.MiddleName, &p.BirthDate, &createdAtUTC); err != nil {
		return nil, err
	}
	p.Identifier = PatientIdentifier(id)
	p.Period = Period{Year: int(year), Month: time.Month(month)}
	p.CreatedAt = createdAtUTC.UTC()
	return &p, nil
}
