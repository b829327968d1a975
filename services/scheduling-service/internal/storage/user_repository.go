package storage

import (
	"context"

	"github.com/qkeluna/qclickin/libs/db"
	"github.com/qkeluna/qclickin/services/scheduling-service/internal/model"
)

type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) GetHostByUsername(ctx context.Context, username string) (model.HostProfile, error) {
	var p model.HostProfile
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, COALESCE(name, ''), COALESCE(bio, ''), COALESCE(avatar, ''), time_zone
		FROM users
		WHERE username = $1
	`, username).Scan(&p.ID, &p.Username, &p.Name, &p.Bio, &p.Avatar, &p.TimeZone)
	if err != nil {
		return model.HostProfile{}, mapError(err)
	}
	return p, nil
}

func (r *UserRepository) GetAvailabilityConfig(ctx context.Context, hostID int64) (model.AvailabilityConfig, error) {
	cfg := model.AvailabilityConfig{HostID: hostID}
	err := r.pool.QueryRow(ctx, `
		SELECT time_zone, start_of_day, end_of_day, buffer_minutes, week_start
		FROM users
		WHERE id = $1
	`, hostID).Scan(&cfg.TimeZone, &cfg.StartOfDayMinutes, &cfg.EndOfDayMinutes, &cfg.BufferMinutes, &cfg.WeekStart)
	if err != nil {
		return model.AvailabilityConfig{}, mapError(err)
	}
	return cfg, nil
}

func (r *UserRepository) UpdateAvailabilityConfig(ctx context.Context, cfg model.AvailabilityConfig) (model.AvailabilityConfig, error) {
	out := model.AvailabilityConfig{HostID: cfg.HostID}
	err := r.pool.QueryRow(ctx, `
		UPDATE users
		SET time_zone = $2,
			start_of_day = $3,
			end_of_day = $4,
			buffer_minutes = $5,
			week_start = $6
		WHERE id = $1
		RETURNING time_zone, start_of_day, end_of_day, buffer_minutes, week_start
	`, cfg.HostID, cfg.TimeZone, cfg.StartOfDayMinutes, cfg.EndOfDayMinutes, cfg.BufferMinutes, cfg.WeekStart).
		Scan(&out.TimeZone, &out.StartOfDayMinutes, &out.EndOfDayMinutes, &out.BufferMinutes, &out.WeekStart)
	if err != nil {
		return model.AvailabilityConfig{}, mapError(err)
	}
	return out, nil
}
