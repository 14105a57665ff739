package encounter

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/visionai/drscreen/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Every write is a single statement, so repositories use the pool directly.
func (r *repoPG) conn(context.Context) queryable {
	return r.pool
}

const encCols = `id, owner_id, patient_external_id, patient_name, age, gender,
	diabetes_duration, blood_pressure, medications, other_conditions,
	left_image_ref, right_image_ref, left_label, right_label, combined_label,
	report_filename, created_at`

const newestFirst = ` ORDER BY created_at DESC, id`

func (r *repoPG) Create(ctx context.Context, enc *Encounter) error {
	if enc.ID == uuid.Nil {
		enc.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounters (
			id, owner_id, patient_external_id, patient_name, age, gender,
			diabetes_duration, blood_pressure, medications, other_conditions,
			left_image_ref, right_image_ref, left_label, right_label, combined_label,
			report_filename
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at`,
		enc.ID, enc.OwnerID, enc.PatientExternalID, enc.PatientName, enc.Age, enc.Gender,
		enc.DiabetesDuration, enc.BloodPressure, enc.Medications, enc.OtherConditions,
		enc.LeftImageRef, enc.RightImageRef, enc.LeftLabel, enc.RightLabel, enc.CombinedLabel,
		enc.ReportFilename,
	).Scan(&enc.CreatedAt)
	return db.MapError(err, "encounter")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	enc, err := scanEnc(r.conn(ctx).QueryRow(ctx, `SELECT `+encCols+` FROM encounters WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "encounter")
	}
	return enc, nil
}

func (r *repoPG) ExistsByPatient(ctx context.Context, patientExternalID string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM encounters WHERE patient_external_id = $1)`, patientExternalID,
	).Scan(&exists)
	return exists, db.MapError(err, "encounter")
}

func (r *repoPG) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	return r.list(ctx, `owner_id = $1`, ownerID, limit, offset)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientExternalID string, limit, offset int) ([]*Encounter, int, error) {
	return r.list(ctx, `patient_external_id = $1`, patientExternalID, limit, offset)
}

func (r *repoPG) list(ctx context.Context, where string, arg interface{}, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM encounters WHERE `+where, arg).Scan(&total); err != nil {
		return nil, 0, db.MapError(err, "encounter")
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encCols+` FROM encounters WHERE `+where+newestFirst+` LIMIT $2 OFFSET $3`,
		arg, limit, offset)
	if err != nil {
		return nil, 0, db.MapError(err, "encounter")
	}
	defer rows.Close()

	encs, err := collectEncs(rows)
	if err != nil {
		return nil, 0, err
	}
	return encs, total, nil
}

func (r *repoPG) ListAll(ctx context.Context) ([]*Encounter, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+encCols+` FROM encounters ORDER BY created_at, id`)
	if err != nil {
		return nil, db.MapError(err, "encounter")
	}
	defer rows.Close()
	return collectEncs(rows)
}

func scanEnc(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(&e.ID, &e.OwnerID, &e.PatientExternalID, &e.PatientName, &e.Age, &e.Gender,
		&e.DiabetesDuration, &e.BloodPressure, &e.Medications, &e.OtherConditions,
		&e.LeftImageRef, &e.RightImageRef, &e.LeftLabel, &e.RightLabel, &e.CombinedLabel,
		&e.ReportFilename, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEncs(rows pgx.Rows) ([]*Encounter, error) {
	var encs []*Encounter
	for rows.Next() {
		e, err := scanEnc(rows)
		if err != nil {
			return nil, db.MapError(err, "encounter")
		}
		encs = append(encs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, db.MapError(err, "encounter")
	}
	return encs, nil
}
