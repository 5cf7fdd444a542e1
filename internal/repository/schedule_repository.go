package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/traits/internal/model"
)

// ScheduleRepository stores schedules and their stops.
type ScheduleRepository struct {
	pool *pgxpool.Pool
}

// NewScheduleRepository creates a new repository backed by the given PG pool.
func NewScheduleRepository(pool *pgxpool.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

// AddSchedule inserts the schedule header and stops in one transaction and
// assigns s.ID.
func (r *ScheduleRepository) AddSchedule(ctx context.Context, s *model.Schedule) error {
	return runInTx(ctx, r.pool, 1, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO schedules (train_key, start_hour, start_minute, valid_from, valid_until)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`, s.TrainKey.String(), s.StartHour, s.StartMinute,
			s.ValidFrom.Time(), s.ValidUntil.Time()).Scan(&s.ID, &s.CreatedAt)
		if err != nil {
			return classify("add schedule", err)
		}

		rows := make([][]any, len(s.Stops))
		for i, st := range s.Stops {
			rows[i] = []any{s.ID, i, st.Station.String(), st.WaitMinutes,
				st.ArrivalOffset, st.DepartureOffset, st.DistanceKm}
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"schedule_stops"},
			[]string{"schedule_id", "position", "station_key", "wait_minutes",
				"arrival_offset", "departure_offset", "distance_km"},
			pgx.CopyFromRows(rows))
		return classify("add schedule: stops", err)
	})
}

func (r *ScheduleRepository) GetSchedule(ctx context.Context, id int64) (*model.Schedule, error) {
	out, err := r.query(ctx, `WHERE s.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, classify("get schedule", pgx.ErrNoRows)
	}
	return &out[0], nil
}

func (r *ScheduleRepository) ListSchedules(ctx context.Context) ([]model.Schedule, error) {
	return r.query(ctx, ``)
}

// query loads schedules with their stops, ordered by id then position.
func (r *ScheduleRepository) query(ctx context.Context, where string, args ...any) ([]model.Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.train_key, s.start_hour, s.start_minute,
		       s.valid_from, s.valid_until, s.created_at,
		       p.station_key, p.wait_minutes, p.arrival_offset,
		       p.departure_offset, p.distance_km
		FROM schedules s
		JOIN schedule_stops p ON p.schedule_id = s.id
		`+where+`
		ORDER BY s.id, p.position
	`, args...)
	if err != nil {
		return nil, classify("load schedules", err)
	}
	defer rows.Close()

	var out []model.Schedule
	for rows.Next() {
		var (
			id                int64
			train, station    string
			hour, minute      int
			from, until, made time.Time
			stop              model.ScheduledStop
		)
		err := rows.Scan(&id, &train, &hour, &minute, &from, &until, &made,
			&station, &stop.WaitMinutes, &stop.ArrivalOffset,
			&stop.DepartureOffset, &stop.DistanceKm)
		if err != nil {
			return nil, classify("load schedules: scan", err)
		}
		if stop.Station, err = scanKey(station); err != nil {
			return nil, err
		}

		if n := len(out); n == 0 || out[n-1].ID != id {
			trainKey, err := scanKey(train)
			if err != nil {
				return nil, err
			}
			out = append(out, model.Schedule{
				ID:          id,
				TrainKey:    trainKey,
				StartHour:   hour,
				StartMinute: minute,
				ValidFrom:   model.DateOf(from),
				ValidUntil:  model.DateOf(until),
				CreatedAt:   made.UTC(),
			})
		}
		last := &out[len(out)-1]
		last.Stops = append(last.Stops, stop)
	}
	return out, classify("load schedules", rows.Err())
}
