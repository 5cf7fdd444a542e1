package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/shiva/traits/internal/model"
)

// ─── Storage contracts ──────────────────────────────────────
//
// Implementations live in internal/repository (PostgreSQL / Redis) and
// internal/repository/memory. They report failures with the sentinels in
// internal/repository; the services translate those into the error taxonomy.

// TopologyStore persists the station graph.
type TopologyStore interface {
	AddStation(ctx context.Context, st model.Station) error
	GetStation(ctx context.Context, key model.Key) (*model.Station, error)
	StationExists(ctx context.Context, key model.Key) (bool, error)
	AddConnection(ctx context.Context, c model.Connection) error
	TravelTime(ctx context.Context, from, to model.Key) (int, bool, error)
	Neighbors(ctx context.Context, from model.Key) ([]model.Connection, error)
}

// DirectoryStore persists users and trains.
//
// DeleteUser and DeleteTrain are no-ops for unknown keys. Both cascade to
// tickets and reservations atomically. UpdateTrain fails with
// repository.ErrConflict when the new capacity is below the seats already
// reserved on any instance of the train.
type DirectoryStore interface {
	AddUser(ctx context.Context, u model.User) error
	UserExists(ctx context.Context, email string) (bool, error)
	DeleteUser(ctx context.Context, email string) error

	AddTrain(ctx context.Context, t model.Train) error
	GetTrain(ctx context.Context, key model.Key) (*model.Train, error)
	ListTrains(ctx context.Context) ([]model.Train, error)
	UpdateTrain(ctx context.Context, key model.Key, upd model.TrainUpdate) (*model.Train, error)
	DeleteTrain(ctx context.Context, key model.Key) error
}

// ScheduleStore persists schedules. AddSchedule assigns s.ID.
type ScheduleStore interface {
	AddSchedule(ctx context.Context, s *model.Schedule) error
	GetSchedule(ctx context.Context, id int64) (*model.Schedule, error)
	ListSchedules(ctx context.Context) ([]model.Schedule, error)
}

// TicketStore persists tickets, reservations and per-instance inventory.
//
// CreateTicket stores t and fills in the reservation outcome of every leg in
// one atomic step: tickets_sold grows for every leg, and when reserve is set
// a seat is taken unless the instance is full or the user already holds a
// seat on that train and date.
type TicketStore interface {
	CreateTicket(ctx context.Context, t *model.Ticket, reserve bool) error
	ListTickets(ctx context.Context, email string) ([]model.Ticket, error)
	CancelTicket(ctx context.Context, email string, id uuid.UUID) error
	Inventory(ctx context.Context, train model.Key, date model.Date) (*model.Inventory, error)
}

// SearchCache stores ranked search results by normalized query key.
//
// Entries belong to a generation. Invalidate starts a new one, so an entry
// written with a generation read before the change is never returned again.
// A negative generation means the cache is unavailable; Get misses and Set
// does nothing.
type SearchCache interface {
	Generation(ctx context.Context) int64
	Get(ctx context.Context, gen int64, key string) ([]model.Itinerary, bool)
	Set(ctx context.Context, gen int64, key string, its []model.Itinerary)
	Invalidate(ctx context.Context)
}

// EventPublisher receives ticket lifecycle events after commit.
type EventPublisher interface {
	TicketPurchased(ctx context.Context, t *model.Ticket) error
	TicketCancelled(ctx context.Context, email string, id uuid.UUID) error
}
