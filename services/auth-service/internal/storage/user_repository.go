package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/qkeluna/qclickin/libs/db"
)

// User is the full account row. Availability defaults live on the same
// table so the scheduling service can read working hours without a join.
type User struct {
	ID            int64
	Username      string
	Email         string
	PasswordHash  string
	Name          string
	TimeZone      string
	StartOfDay    int
	EndOfDay      int
	BufferMinutes int
	WeekStart     string
}

type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, user *User) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO users
			(username, email, password_hash, name, time_zone, start_of_day, end_of_day, buffer_minutes, week_start)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, user.Username, user.Email, user.PasswordHash, user.Name, user.TimeZone,
		user.StartOfDay, user.EndOfDay, user.BufferMinutes, user.WeekStart).Scan(&user.ID)
}

const userColumns = `id, username, email, password_hash, COALESCE(name, ''),
	time_zone, start_of_day, end_of_day, buffer_minutes, week_start`

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.get(ctx, `WHERE email = $1`, email)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (User, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

func (r *UserRepository) get(ctx context.Context, where string, arg any) (User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users `+where, arg).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.Name,
		&u.TimeZone,
		&u.StartOfDay,
		&u.EndOfDay,
		&u.BufferMinutes,
		&u.WeekStart,
	)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsUniqueViolation catches both duplicate usernames and duplicate emails.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
