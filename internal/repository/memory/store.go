// Package memory implements the storage contracts in process.
//
// Two locks split the state: catalogMu guards users, trains and schedules,
// ledgerMu guards tickets, reservations and inventory. Searches only take
// catalogMu for reading, so bookings never block them. Writers that touch
// both sides always lock catalogMu before ledgerMu.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shiva/traits/internal/model"
	"github.com/shiva/traits/internal/repository"
)

type instanceKey struct {
	train string
	date  model.Date
}

type reservationKey struct {
	email string
	train string
	date  model.Date
}

type counters struct {
	sold     int
	reserved int
}

// Store keeps users, trains, schedules and the booking ledger in memory.
type Store struct {
	catalogMu      sync.RWMutex
	users          map[string]model.User
	trains         map[string]model.Train
	schedules      map[int64]*model.Schedule
	nextScheduleID int64

	ledgerMu     sync.Mutex
	tickets      map[uuid.UUID]*model.Ticket
	userTickets  map[string][]uuid.UUID
	reservations map[reservationKey]uuid.UUID
	inventory    map[instanceKey]*counters

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:        make(map[string]model.User),
		trains:       make(map[string]model.Train),
		schedules:    make(map[int64]*model.Schedule),
		tickets:      make(map[uuid.UUID]*model.Ticket),
		userTickets:  make(map[string][]uuid.UUID),
		reservations: make(map[reservationKey]uuid.UUID),
		inventory:    make(map[instanceKey]*counters),
		now:          time.Now,
	}
}

// ─── Users ──────────────────────────────────────────────────

func (s *Store) AddUser(_ context.Context, u model.User) error {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()

	if _, ok := s.users[u.Email]; ok {
		return fmt.Errorf("add user %s: %w", u.Email, repository.ErrDuplicate)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	u.Details = copyDetails(u.Details)
	s.users[u.Email] = u
	return nil
}

func (s *Store) UserExists(_ context.Context, email string) (bool, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	_, ok := s.users[email]
	return ok, nil
}

func (s *Store) DeleteUser(_ context.Context, email string) error {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	if _, ok := s.users[email]; !ok {
		return nil
	}
	for _, id := range s.userTickets[email] {
		if t, ok := s.tickets[id]; ok {
			s.releaseLocked(t)
			delete(s.tickets, id)
		}
	}
	delete(s.userTickets, email)
	delete(s.users, email)
	return nil
}

// ─── Trains ─────────────────────────────────────────────────

func (s *Store) AddTrain(_ context.Context, t model.Train) error {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()

	k := t.Key.String()
	if _, ok := s.trains[k]; ok {
		return fmt.Errorf("add train %s: %w", t.Key.Display(), repository.ErrDuplicate)
	}
	now := s.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	s.trains[k] = t
	return nil
}

func (s *Store) GetTrain(_ context.Context, key model.Key) (*model.Train, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()

	t, ok := s.trains[key.String()]
	if !ok {
		return nil, fmt.Errorf("get train %s: %w", key.Display(), repository.ErrNotFound)
	}
	return &t, nil
}

func (s *Store) ListTrains(_ context.Context) ([]model.Train, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()

	out := make([]model.Train, 0, len(s.trains))
	for _, t := range s.trains {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out, nil
}

func (s *Store) UpdateTrain(_ context.Context, key model.Key, upd model.TrainUpdate) (*model.Train, error) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	k := key.String()
	t, ok := s.trains[k]
	if !ok {
		return nil, fmt.Errorf("update train %s: %w", key.Display(), repository.ErrNotFound)
	}
	if upd.Capacity != nil {
		for ik, c := range s.inventory {
			if ik.train == k && c.reserved > *upd.Capacity {
				return nil, fmt.Errorf("update train %s: %d seats reserved on %s exceed capacity %d: %w",
					key.Display(), c.reserved, ik.date, *upd.Capacity, repository.ErrConflict)
			}
		}
		t.Capacity = *upd.Capacity
	}
	if upd.Status != nil {
		t.Status = *upd.Status
	}
	t.UpdatedAt = s.now().UTC()
	s.trains[k] = t
	return &t, nil
}

func (s *Store) DeleteTrain(_ context.Context, key model.Key) error {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	k := key.String()
	if _, ok := s.trains[k]; !ok {
		return nil
	}

	for id, sch := range s.schedules {
		if sch.TrainKey == key {
			delete(s.schedules, id)
		}
	}

	for id, t := range s.tickets {
		if !ticketUsesTrain(t, key) {
			continue
		}
		s.releaseLocked(t)
		delete(s.tickets, id)
		s.userTickets[t.UserEmail] = removeID(s.userTickets[t.UserEmail], id)
	}

	for ik := range s.inventory {
		if ik.train == k {
			delete(s.inventory, ik)
		}
	}
	delete(s.trains, k)
	return nil
}

// ─── Schedules ──────────────────────────────────────────────

func (s *Store) AddSchedule(_ context.Context, sch *model.Schedule) error {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()

	if _, ok := s.trains[sch.TrainKey.String()]; !ok {
		return fmt.Errorf("add schedule: train %s: %w", sch.TrainKey.Display(), repository.ErrNotFound)
	}
	s.nextScheduleID++
	sch.ID = s.nextScheduleID
	if sch.CreatedAt.IsZero() {
		sch.CreatedAt = s.now().UTC()
	}
	stored := *sch
	stored.Stops = append([]model.ScheduledStop(nil), sch.Stops...)
	s.schedules[sch.ID] = &stored
	return nil
}

func (s *Store) GetSchedule(_ context.Context, id int64) (*model.Schedule, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()

	sch, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("get schedule %d: %w", id, repository.ErrNotFound)
	}
	out := *sch
	return &out, nil
}

func (s *Store) ListSchedules(_ context.Context) ([]model.Schedule, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()

	out := make([]model.Schedule, 0, len(s.schedules))
	for _, sch := range s.schedules {
		out = append(out, *sch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ─── Tickets ────────────────────────────────────────────────

func (s *Store) CreateTicket(_ context.Context, t *model.Ticket, reserve bool) error {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()

	if _, ok := s.users[t.UserEmail]; !ok {
		return fmt.Errorf("create ticket: user %s: %w", t.UserEmail, repository.ErrNotFound)
	}
	capacity := make([]int, len(t.Legs))
	for i, leg := range t.Legs {
		train, ok := s.trains[leg.TrainKey.String()]
		if !ok {
			return fmt.Errorf("create ticket: train %s: %w", leg.TrainKey.Display(), repository.ErrNotFound)
		}
		capacity[i] = train.Capacity
	}

	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	if _, ok := s.tickets[t.ID]; ok {
		return fmt.Errorf("create ticket %s: %w", t.ID, repository.ErrDuplicate)
	}

	for i := range t.Legs {
		leg := &t.Legs[i]
		ik := instanceKey{train: leg.TrainKey.String(), date: leg.ServiceDate}
		c := s.inventory[ik]
		if c == nil {
			c = &counters{}
			s.inventory[ik] = c
		}
		c.sold++

		leg.SeatReserved = false
		switch {
		case !reserve:
			leg.Outcome = model.OutcomeNotRequested
		default:
			rk := reservationKey{email: t.UserEmail, train: ik.train, date: ik.date}
			if _, held := s.reservations[rk]; held {
				leg.Outcome = model.OutcomeAlreadyReserved
			} else if c.reserved >= capacity[i] {
				leg.Outcome = model.OutcomeSoldOut
			} else {
				c.reserved++
				s.reservations[rk] = t.ID
				leg.SeatReserved = true
				leg.Outcome = model.OutcomeReserved
			}
		}
	}

	stored := *t
	stored.Legs = append([]model.TicketLeg(nil), t.Legs...)
	s.tickets[t.ID] = &stored
	s.userTickets[t.UserEmail] = append(s.userTickets[t.UserEmail], t.ID)
	return nil
}

func (s *Store) ListTickets(_ context.Context, email string) ([]model.Ticket, error) {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	ids := s.userTickets[email]
	out := make([]model.Ticket, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.tickets[id]; ok {
			cp := *t
			cp.Legs = append([]model.TicketLeg(nil), t.Legs...)
			out = append(out, cp)
		}
	}
	return out, nil
}

func (s *Store) CancelTicket(_ context.Context, email string, id uuid.UUID) error {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	t, ok := s.tickets[id]
	if !ok || t.UserEmail != email {
		return fmt.Errorf("cancel ticket %s: %w", id, repository.ErrNotFound)
	}
	s.releaseLocked(t)
	delete(s.tickets, id)
	s.userTickets[email] = removeID(s.userTickets[email], id)
	return nil
}

func (s *Store) Inventory(_ context.Context, train model.Key, date model.Date) (*model.Inventory, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()

	t, ok := s.trains[train.String()]
	if !ok {
		return nil, fmt.Errorf("inventory: train %s: %w", train.Display(), repository.ErrNotFound)
	}

	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	inv := &model.Inventory{TrainKey: train, ServiceDate: date, Capacity: t.Capacity}
	if c := s.inventory[instanceKey{train: train.String(), date: date}]; c != nil {
		inv.TicketsSold = c.sold
		inv.SeatsReserved = c.reserved
	}
	return inv, nil
}

// ─── Helpers ────────────────────────────────────────────────

// releaseLocked gives back the counters held by t. Caller holds ledgerMu.
func (s *Store) releaseLocked(t *model.Ticket) {
	for _, leg := range t.Legs {
		ik := instanceKey{train: leg.TrainKey.String(), date: leg.ServiceDate}
		c := s.inventory[ik]
		if c == nil {
			continue
		}
		if c.sold > 0 {
			c.sold--
		}
		if !leg.SeatReserved {
			continue
		}
		if c.reserved > 0 {
			c.reserved--
		}
		rk := reservationKey{email: t.UserEmail, train: ik.train, date: ik.date}
		if s.reservations[rk] == t.ID {
			delete(s.reservations, rk)
		}
	}
}

func ticketUsesTrain(t *model.Ticket, key model.Key) bool {
	for _, leg := range t.Legs {
		if leg.TrainKey == key {
			return true
		}
	}
	return false
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func copyDetails(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
