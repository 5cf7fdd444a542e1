package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/traits/internal/model"
)

// BookingRepository handles ticket purchase with row-level locking.
type BookingRepository struct {
	pool       *pgxpool.Pool
	maxRetries int
}

// NewBookingRepository creates a new booking repository.
func NewBookingRepository(pool *pgxpool.Pool, maxRetries int) *BookingRepository {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &BookingRepository{pool: pool, maxRetries: maxRetries}
}

type instanceRef struct {
	train string
	date  model.Date
}

type instanceCounters struct {
	capacity int
	sold     int
	reserved int
}

// ─── The Core Transactional Purchase ────────────────────────

// CreateTicket stores the ticket and decides every leg's reservation in a
// single transaction.
//
// Concurrency strategy: PESSIMISTIC LOCKING
//
//	Scenario: two users reserve the last seat of an instance at once.
//
//	  T1: BEGIN → trains FOR SHARE → inventory row FOR UPDATE (LOCKED)
//	  T2: BEGIN → trains FOR SHARE → inventory row FOR UPDATE (BLOCKS)
//	  T1: seats_reserved < capacity → reserve → UPDATE → COMMIT
//	  T2: (unblocked) re-reads the row → full → leg is sold_out → COMMIT
//
// Inventory rows are locked in (train, date) order so two multi-leg
// purchases cannot deadlock each other. The FOR SHARE on trains keeps an
// admin from lowering capacity below what this transaction reserves.
func (r *BookingRepository) CreateTicket(ctx context.Context, t *model.Ticket, reserve bool) error {
	return runInTx(ctx, r.pool, r.maxRetries, func(tx pgx.Tx) error {
		refs, counters, err := lockInstances(ctx, tx, t.Legs)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO tickets (id, user_email, total_price_cents, purchased_at)
			VALUES ($1, $2, $3, $4)
		`, t.ID.String(), t.UserEmail, t.TotalPriceCents, t.PurchasedAt)
		if err != nil {
			return classify("create ticket "+t.ID.String(), err)
		}

		for i := range t.Legs {
			leg := &t.Legs[i]
			ref := refs[i]
			c := counters[ref]
			c.sold++
			leg.SeatReserved = false

			if !reserve {
				leg.Outcome = model.OutcomeNotRequested
			} else if outcome, err := reserveSeat(ctx, tx, t, ref, c); err != nil {
				return err
			} else {
				leg.Outcome = outcome
				leg.SeatReserved = outcome == model.OutcomeReserved
			}

			if err := insertLeg(ctx, tx, t.ID, i, leg); err != nil {
				return err
			}
		}

		for ref, c := range counters {
			_, err := tx.Exec(ctx, `
				UPDATE inventory
				SET tickets_sold = $3, seats_reserved = $4
				WHERE train_key = $1 AND service_date = $2
			`, ref.train, ref.date.Time(), c.sold, c.reserved)
			if err != nil {
				return classify("create ticket: update inventory", err)
			}
		}
		return nil
	})
}

// lockInstances takes the train rows FOR SHARE and the inventory rows of
// every leg FOR UPDATE, creating missing inventory rows on the way.
func lockInstances(ctx context.Context, tx pgx.Tx, legs []model.TicketLeg) ([]instanceRef, map[instanceRef]*instanceCounters, error) {
	refs := make([]instanceRef, len(legs))
	trainSet := make(map[string]bool)
	for i, leg := range legs {
		refs[i] = instanceRef{train: leg.TrainKey.String(), date: leg.ServiceDate}
		trainSet[refs[i].train] = true
	}
	trainKeys := make([]string, 0, len(trainSet))
	for k := range trainSet {
		trainKeys = append(trainKeys, k)
	}
	sort.Strings(trainKeys)

	rows, err := tx.Query(ctx, `
		SELECT key, capacity FROM trains
		WHERE key = ANY($1)
		ORDER BY key
		FOR SHARE
	`, trainKeys)
	if err != nil {
		return nil, nil, classify("create ticket: lock trains", err)
	}
	capacity := make(map[string]int, len(trainKeys))
	for rows.Next() {
		var (
			key string
			c   int
		)
		if err := rows.Scan(&key, &c); err != nil {
			rows.Close()
			return nil, nil, classify("create ticket: scan train", err)
		}
		capacity[key] = c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, classify("create ticket: lock trains", err)
	}
	for _, k := range trainKeys {
		if _, ok := capacity[k]; !ok {
			return nil, nil, fmt.Errorf("create ticket: train %s: %w", k, ErrNotFound)
		}
	}

	ordered := make([]instanceRef, 0, len(refs))
	seen := make(map[instanceRef]bool)
	for _, ref := range refs {
		if !seen[ref] {
			seen[ref] = true
			ordered = append(ordered, ref)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].train != ordered[j].train {
			return ordered[i].train < ordered[j].train
		}
		return ordered[i].date.Before(ordered[j].date)
	})

	counters := make(map[instanceRef]*instanceCounters, len(ordered))
	for _, ref := range ordered {
		_, err := tx.Exec(ctx, `
			INSERT INTO inventory (train_key, service_date)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, ref.train, ref.date.Time())
		if err != nil {
			return nil, nil, classify("create ticket: init inventory", err)
		}
		c := &instanceCounters{capacity: capacity[ref.train]}
		err = tx.QueryRow(ctx, `
			SELECT tickets_sold, seats_reserved
			FROM inventory
			WHERE train_key = $1 AND service_date = $2
			FOR UPDATE
		`, ref.train, ref.date.Time()).Scan(&c.sold, &c.reserved)
		if err != nil {
			return nil, nil, classify("create ticket: lock inventory", err)
		}
		counters[ref] = c
	}
	return refs, counters, nil
}

// reserveSeat takes one seat on the instance unless it is full or the user
// already holds a seat there.
func reserveSeat(ctx context.Context, tx pgx.Tx, t *model.Ticket, ref instanceRef, c *instanceCounters) (model.ReservationOutcome, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO reservations (user_email, train_key, service_date, ticket_id)
		SELECT $1::text, $2::text, $3::date, $4::uuid
		WHERE $5::boolean
		ON CONFLICT DO NOTHING
	`, t.UserEmail, ref.train, ref.date.Time(), t.ID.String(), c.reserved < c.capacity)
	if err != nil {
		return "", classify("create ticket: reserve", err)
	}
	if tag.RowsAffected() == 1 {
		c.reserved++
		return model.OutcomeReserved, nil
	}

	var held bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reservations
			WHERE user_email = $1 AND train_key = $2 AND service_date = $3
		)
	`, t.UserEmail, ref.train, ref.date.Time()).Scan(&held)
	if err != nil {
		return "", classify("create ticket: reservation lookup", err)
	}
	if held {
		return model.OutcomeAlreadyReserved, nil
	}
	return model.OutcomeSoldOut, nil
}

func insertLeg(ctx context.Context, tx pgx.Tx, id uuid.UUID, pos int, leg *model.TicketLeg) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_legs (
			ticket_id, position, train_key, schedule_id, service_date,
			from_key, to_key, from_index, to_index, departure, arrival,
			distance_km, price_cents, seat_reserved, outcome
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, id.String(), pos, leg.TrainKey.String(), leg.ScheduleID, leg.ServiceDate.Time(),
		leg.From.String(), leg.To.String(), leg.FromIndex, leg.ToIndex,
		leg.Departure, leg.Arrival, leg.DistanceKm, leg.PriceCents,
		leg.SeatReserved, leg.Outcome)
	return classify("create ticket: insert leg", err)
}

// releaseTickets gives back the counters held by the given tickets. The
// tickets themselves are left for the caller to delete.
func releaseTickets(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		SELECT 1 FROM inventory i
		WHERE (i.train_key, i.service_date) IN (
			SELECT train_key, service_date FROM ticket_legs WHERE ticket_id = ANY($1::uuid[])
		)
		ORDER BY i.train_key, i.service_date
		FOR UPDATE
	`, ids)
	if err != nil {
		return classify("release: lock inventory", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE inventory i
		SET tickets_sold   = GREATEST(0, i.tickets_sold - d.sold),
		    seats_reserved = GREATEST(0, i.seats_reserved - d.reserved)
		FROM (
			SELECT train_key, service_date,
			       COUNT(*)::int AS sold,
			       (COUNT(*) FILTER (WHERE seat_reserved))::int AS reserved
			FROM ticket_legs
			WHERE ticket_id = ANY($1::uuid[])
			GROUP BY train_key, service_date
		) d
		WHERE i.train_key = d.train_key AND i.service_date = d.service_date
	`, ids)
	return classify("release: update inventory", err)
}

// ─── Cancel & History ───────────────────────────────────────

func (r *BookingRepository) CancelTicket(ctx context.Context, email string, id uuid.UUID) error {
	return runInTx(ctx, r.pool, r.maxRetries, func(tx pgx.Tx) error {
		var owner string
		err := tx.QueryRow(ctx, `
			SELECT user_email FROM tickets WHERE id = $1 FOR UPDATE
		`, id.String()).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && owner != email) {
			return fmt.Errorf("cancel ticket %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return classify("cancel ticket: lock", err)
		}

		ids := []string{id.String()}
		if err := releaseTickets(ctx, tx, ids); err != nil {
			return err
		}
		// Legs and reservations cascade.
		_, err = tx.Exec(ctx, `DELETE FROM tickets WHERE id = $1`, id.String())
		return classify("cancel ticket", err)
	})
}

func (r *BookingRepository) ListTickets(ctx context.Context, email string) ([]model.Ticket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, t.total_price_cents, t.purchased_at,
		       l.train_key, l.schedule_id, l.service_date, l.from_key, l.to_key,
		       l.from_index, l.to_index, l.departure, l.arrival,
		       l.distance_km, l.price_cents, l.seat_reserved, l.outcome
		FROM tickets t
		JOIN ticket_legs l ON l.ticket_id = t.id
		WHERE t.user_email = $1
		ORDER BY t.purchased_at, t.id, l.position
	`, email)
	if err != nil {
		return nil, classify("list tickets", err)
	}
	defer rows.Close()

	var out []model.Ticket
	for rows.Next() {
		var (
			id              uuid.UUID
			total           int64
			purchased       time.Time
			train, from, to string
			serviceDate     time.Time
			leg             model.TicketLeg
		)
		err := rows.Scan(&id, &total, &purchased,
			&train, &leg.ScheduleID, &serviceDate, &from, &to,
			&leg.FromIndex, &leg.ToIndex, &leg.Departure, &leg.Arrival,
			&leg.DistanceKm, &leg.PriceCents, &leg.SeatReserved, &leg.Outcome)
		if err != nil {
			return nil, classify("list tickets: scan", err)
		}
		if leg.TrainKey, err = scanKey(train); err != nil {
			return nil, err
		}
		if leg.From, err = scanKey(from); err != nil {
			return nil, err
		}
		if leg.To, err = scanKey(to); err != nil {
			return nil, err
		}
		leg.ServiceDate = model.DateOf(serviceDate)
		leg.Departure, leg.Arrival = leg.Departure.UTC(), leg.Arrival.UTC()

		if n := len(out); n == 0 || out[n-1].ID != id {
			out = append(out, model.Ticket{
				ID:              id,
				UserEmail:       email,
				TotalPriceCents: total,
				PurchasedAt:     purchased.UTC(),
			})
		}
		last := &out[len(out)-1]
		last.Legs = append(last.Legs, leg)
	}
	return out, classify("list tickets", rows.Err())
}

// Inventory returns the counters of one train instance. Instances nobody
// bought a ticket for yet report zeros.
func (r *BookingRepository) Inventory(ctx context.Context, train model.Key, date model.Date) (*model.Inventory, error) {
	inv := &model.Inventory{TrainKey: train, ServiceDate: date}
	err := r.pool.QueryRow(ctx, `
		SELECT t.capacity,
		       COALESCE(i.tickets_sold, 0),
		       COALESCE(i.seats_reserved, 0)
		FROM trains t
		LEFT JOIN inventory i ON i.train_key = t.key AND i.service_date = $2
		WHERE t.key = $1
	`, train.String(), date.Time()).Scan(&inv.Capacity, &inv.TicketsSold, &inv.SeatsReserved)
	if err != nil {
		return nil, classify("inventory "+train.Display(), err)
	}
	return inv, nil
}
