package account

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(context.Context) queryable {
	return r.pool
}

const accountCols = `id, username, password_hash, role, full_name, contact_number,
	address, age, gender, hospital_name, medical_id, created_at`

func (r *repoPG) Create(ctx context.Context, a *Account) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO accounts (
			id, username, password_hash, role, full_name, contact_number,
			address, age, gender, hospital_name, medical_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		a.ID, a.Username, a.PasswordHash, a.Role, a.FullName, a.ContactNumber,
		a.Address, a.Age, a.Gender, a.HospitalName, a.MedicalID,
	).Scan(&a.CreatedAt)
	return db.MapError(err, "account")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return scanAccount(r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = $1`, id))
}

func (r *repoPG) GetByUsername(ctx context.Context, username string) (*Account, error) {
	return scanAccount(r.conn(ctx).QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE lower(username) = lower($1)`, username))
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.Role, &a.FullName, &a.ContactNumber,
		&a.Address, &a.Age, &a.Gender, &a.HospitalName, &a.MedicalID, &a.CreatedAt)
	if err != nil {
		return nil, db.MapError(err, "account")
	}
	return &a, nil
}
