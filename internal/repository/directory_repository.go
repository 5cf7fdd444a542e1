package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/traits/internal/model"
)

// DirectoryRepository stores users and trains in PostgreSQL.
type DirectoryRepository struct {
	pool       *pgxpool.Pool
	maxRetries int
}

// NewDirectoryRepository creates a new repository backed by the given PG pool.
func NewDirectoryRepository(pool *pgxpool.Pool, maxRetries int) *DirectoryRepository {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &DirectoryRepository{pool: pool, maxRetries: maxRetries}
}

// ─── Users ──────────────────────────────────────────────────

func (r *DirectoryRepository) AddUser(ctx context.Context, u model.User) error {
	details := u.Details
	if details == nil {
		details = map[string]string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (email, details)
		VALUES ($1, $2)
	`, u.Email, details)
	return classify("add user "+u.Email, err)
}

func (r *DirectoryRepository) UserExists(ctx context.Context, email string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)
	`, email).Scan(&ok)
	if err != nil {
		return false, classify("user exists", err)
	}
	return ok, nil
}

// DeleteUser removes the user with all tickets and reservations, giving the
// seats back to inventory in the same transaction.
func (r *DirectoryRepository) DeleteUser(ctx context.Context, email string) error {
	return runInTx(ctx, r.pool, r.maxRetries, func(tx pgx.Tx) error {
		var found string
		err := tx.QueryRow(ctx, `
			SELECT email FROM users WHERE email = $1 FOR UPDATE
		`, email).Scan(&found)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return classify("delete user: lock", err)
		}

		ids, err := collectIDs(ctx, tx, `SELECT id::text FROM tickets WHERE user_email = $1`, email)
		if err != nil {
			return classify("delete user: tickets", err)
		}
		if err := releaseTickets(ctx, tx, ids); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM users WHERE email = $1`, email); err != nil {
			return classify("delete user", err)
		}
		return nil
	})
}

// ─── Trains ─────────────────────────────────────────────────

const trainColumns = `key, capacity, status, created_at, updated_at`

func scanTrain(row pgx.Row) (*model.Train, error) {
	var (
		t   model.Train
		key string
	)
	if err := row.Scan(&key, &t.Capacity, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	k, err := scanKey(key)
	if err != nil {
		return nil, err
	}
	t.Key = k
	return &t, nil
}

func (r *DirectoryRepository) AddTrain(ctx context.Context, t model.Train) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO trains (key, capacity, status)
		VALUES ($1, $2, $3)
	`, t.Key.String(), t.Capacity, t.Status)
	return classify("add train "+t.Key.Display(), err)
}

func (r *DirectoryRepository) GetTrain(ctx context.Context, key model.Key) (*model.Train, error) {
	t, err := scanTrain(r.pool.QueryRow(ctx,
		`SELECT `+trainColumns+` FROM trains WHERE key = $1`, key.String()))
	if err != nil {
		return nil, classify("get train "+key.Display(), err)
	}
	return t, nil
}

func (r *DirectoryRepository) ListTrains(ctx context.Context) ([]model.Train, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+trainColumns+` FROM trains ORDER BY key`)
	if err != nil {
		return nil, classify("list trains", err)
	}
	defer rows.Close()

	var out []model.Train
	for rows.Next() {
		t, err := scanTrain(rows)
		if err != nil {
			return nil, classify("list trains: scan", err)
		}
		out = append(out, *t)
	}
	return out, classify("list trains", rows.Err())
}

// UpdateTrain locks the train row, so concurrent purchases (which hold the
// row FOR SHARE) cannot reserve past a capacity being lowered.
func (r *DirectoryRepository) UpdateTrain(ctx context.Context, key model.Key, upd model.TrainUpdate) (*model.Train, error) {
	var out *model.Train
	err := runInTx(ctx, r.pool, r.maxRetries, func(tx pgx.Tx) error {
		t, err := scanTrain(tx.QueryRow(ctx,
			`SELECT `+trainColumns+` FROM trains WHERE key = $1 FOR UPDATE`, key.String()))
		if err != nil {
			return classify("update train "+key.Display(), err)
		}

		if upd.Capacity != nil {
			var maxReserved int
			err := tx.QueryRow(ctx, `
				SELECT COALESCE(MAX(seats_reserved), 0)::int
				FROM inventory
				WHERE train_key = $1
			`, key.String()).Scan(&maxReserved)
			if err != nil {
				return classify("update train: inventory", err)
			}
			if maxReserved > *upd.Capacity {
				return fmt.Errorf("update train %s: %d seats reserved exceed capacity %d: %w",
					key.Display(), maxReserved, *upd.Capacity, ErrConflict)
			}
			t.Capacity = *upd.Capacity
		}
		if upd.Status != nil {
			t.Status = *upd.Status
		}

		out, err = scanTrain(tx.QueryRow(ctx, `
			UPDATE trains
			SET capacity = $2, status = $3, updated_at = now()
			WHERE key = $1
			RETURNING `+trainColumns,
			key.String(), t.Capacity, t.Status))
		return classify("update train "+key.Display(), err)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteTrain removes the train, its schedules and inventory, and every
// ticket with a leg on it. Other legs of those tickets give their seats back.
func (r *DirectoryRepository) DeleteTrain(ctx context.Context, key model.Key) error {
	return runInTx(ctx, r.pool, r.maxRetries, func(tx pgx.Tx) error {
		var found string
		err := tx.QueryRow(ctx, `
			SELECT key FROM trains WHERE key = $1 FOR UPDATE
		`, key.String()).Scan(&found)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return classify("delete train: lock", err)
		}

		ids, err := collectIDs(ctx, tx, `
			SELECT DISTINCT ticket_id::text FROM ticket_legs WHERE train_key = $1
		`, key.String())
		if err != nil {
			return classify("delete train: tickets", err)
		}
		if err := releaseTickets(ctx, tx, ids); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tickets WHERE id = ANY($1::uuid[])`, ids); err != nil {
			return classify("delete train: tickets", err)
		}
		// Schedules, inventory and reservations cascade.
		if _, err := tx.Exec(ctx, `DELETE FROM trains WHERE key = $1`, key.String()); err != nil {
			return classify("delete train", err)
		}
		return nil
	})
}

// collectIDs runs a single-column text query.
func collectIDs(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
