package service

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/shiva/traits/internal/model"
)

// DefaultBookingTimeout is the maximum duration for a complete purchase
// transaction, including lock wait time.
const DefaultBookingTimeout = 5 * time.Second

// ─── BookingService ─────────────────────────────────────────

// BookingService issues tickets and reserves seats.
//
// Concurrency model:
//   - The ticket store takes the inventory rows of every leg under a row lock
//     (SELECT ... FOR UPDATE in PostgreSQL, a mutex in memory) and performs
//     the check-and-increment of seats_reserved inside that lock.
//   - Purchases on the same (train, date) serialize; everything else runs in
//     parallel, including searches.
//   - Each purchase runs under its own deadline so a stuck lock surfaces as a
//     Conflict instead of hanging the caller.
type BookingService struct {
	tickets   TicketStore
	directory DirectoryStore
	catalog   *CatalogService
	pricer    Pricer
	events    EventPublisher
	timeout   time.Duration
	now       func() time.Time
}

// NewBookingService creates a booking service. events may be nil.
func NewBookingService(
	tickets TicketStore,
	directory DirectoryStore,
	catalog *CatalogService,
	pricer Pricer,
	events EventPublisher,
	timeout time.Duration,
	now func() time.Time,
) *BookingService {
	if timeout <= 0 {
		timeout = DefaultBookingTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &BookingService{
		tickets:   tickets,
		directory: directory,
		catalog:   catalog,
		pricer:    pricer,
		events:    events,
		timeout:   timeout,
		now:       now,
	}
}

// BuyTicket issues a ticket for itinerary. The ticket is always issued when
// the input is valid; with reserveSeats each leg additionally tries to take
// a seat and records its own outcome.
//
// Leg times and prices are recomputed from the catalog, so callers may pass
// back a search result as-is.
func (s *BookingService) BuyTicket(
	ctx context.Context,
	email string,
	itinerary *model.Itinerary,
	reserveSeats bool,
) (*model.Ticket, error) {
	const op = "buy ticket"
	email = NormalizeEmail(email)

	ok, err := s.directory.UserExists(ctx, email)
	if err != nil {
		return nil, classifyError(op, err)
	}
	if !ok {
		return nil, notFound(op, "user %s does not exist", email)
	}
	if itinerary == nil || len(itinerary.Legs) == 0 {
		return nil, invalid(op, "itinerary has no legs")
	}

	legs, err := s.resolveLegs(ctx, itinerary.Legs)
	if err != nil {
		return nil, err
	}

	ticket := &model.Ticket{
		ID:          uuid.New(),
		UserEmail:   email,
		PurchasedAt: s.now().UTC(),
		Legs:        make([]model.TicketLeg, len(legs)),
	}
	for i, leg := range legs {
		ticket.Legs[i] = model.TicketLeg{Leg: leg}
		ticket.TotalPriceCents += leg.PriceCents
	}

	log.Printf("[booking] Issuing ticket %s for %s: %d legs, %s → %s, reserve=%t",
		ticket.ID, email, len(legs), ticket.From().Display(), ticket.To().Display(), reserveSeats)

	txCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.tickets.CreateTicket(txCtx, ticket, reserveSeats); err != nil {
		return nil, classifyError(op, err)
	}

	reserved := 0
	for _, l := range ticket.Legs {
		if l.SeatReserved {
			reserved++
		}
	}
	log.Printf("[booking] ✓ Ticket %s issued, %d/%d seats reserved, total %d cents",
		ticket.ID, reserved, len(ticket.Legs), ticket.TotalPriceCents)

	if s.events != nil {
		if err := s.events.TicketPurchased(ctx, ticket); err != nil {
			log.Printf("[booking] WARNING: ticket.purchased event for %s not published: %v", ticket.ID, err)
		}
	}
	return ticket, nil
}

// resolveLegs checks every leg against its schedule and train, and rebuilds
// it from the catalog.
func (s *BookingService) resolveLegs(ctx context.Context, in []model.Leg) ([]model.Leg, error) {
	const op = "buy ticket"

	out := make([]model.Leg, len(in))
	for i, leg := range in {
		sch, err := s.catalog.Schedule(ctx, leg.ScheduleID)
		if err != nil {
			return nil, err
		}
		if sch.TrainKey != leg.TrainKey {
			return nil, invalid(op, "leg %d: schedule %d belongs to train %s, not %s",
				i, sch.ID, sch.TrainKey.Display(), leg.TrainKey.Display())
		}
		train, err := s.directory.GetTrain(ctx, sch.TrainKey)
		if err != nil {
			return nil, classifyError(op, err)
		}
		if !train.Status.Runs() {
			return nil, invalid(op, "leg %d: train %s is %s", i, train.Key.Display(), train.Status)
		}
		if !sch.RunsOn(leg.ServiceDate) {
			return nil, invalid(op, "leg %d: schedule %d does not run on %s", i, sch.ID, leg.ServiceDate)
		}
		if leg.FromIndex < 0 || leg.ToIndex >= len(sch.Stops) || leg.FromIndex >= leg.ToIndex {
			return nil, invalid(op, "leg %d: bad stop range %d..%d", i, leg.FromIndex, leg.ToIndex)
		}
		if sch.Stops[leg.FromIndex].Station != leg.From || sch.Stops[leg.ToIndex].Station != leg.To {
			return nil, invalid(op, "leg %d: stations %s → %s do not match the schedule stops",
				i, leg.From.Display(), leg.To.Display())
		}

		inst := model.NewInstance(sch, leg.ServiceDate)
		out[i] = model.Leg{
			TrainKey:    sch.TrainKey,
			ScheduleID:  sch.ID,
			ServiceDate: leg.ServiceDate,
			From:        leg.From,
			To:          leg.To,
			FromIndex:   leg.FromIndex,
			ToIndex:     leg.ToIndex,
			Departure:   inst.Departure(leg.FromIndex),
			Arrival:     inst.Arrival(leg.ToIndex),
			DistanceKm:  sch.Stops[leg.ToIndex].DistanceKm - sch.Stops[leg.FromIndex].DistanceKm,
		}
		out[i].PriceCents = s.pricer.LegPrice(out[i])

		if i == 0 {
			continue
		}
		prev := out[i-1]
		if prev.To != out[i].From {
			return nil, invalid(op, "legs %d and %d are not contiguous: %s ≠ %s",
				i-1, i, prev.To.Display(), out[i].From.Display())
		}
		if prev.Arrival.After(out[i].Departure) {
			return nil, invalid(op, "leg %d departs at %s before leg %d arrives at %s",
				i, out[i].Departure.Format(time.RFC3339), i-1, prev.Arrival.Format(time.RFC3339))
		}
	}
	return out, nil
}

// GetPurchaseHistory returns the user's tickets, latest trip first.
// Unknown users have an empty history.
func (s *BookingService) GetPurchaseHistory(ctx context.Context, email string) ([]model.Ticket, error) {
	email = NormalizeEmail(email)
	tickets, err := s.tickets.ListTickets(ctx, email)
	if err != nil {
		return nil, classifyError("purchase history", err)
	}
	if tickets == nil {
		tickets = []model.Ticket{}
	}
	sort.SliceStable(tickets, func(i, j int) bool {
		a, b := tickets[i].DepartsAt(), tickets[j].DepartsAt()
		if !a.Equal(b) {
			return a.After(b)
		}
		return tickets[i].PurchasedAt.After(tickets[j].PurchasedAt)
	})
	return tickets, nil
}

// CancelTicket deletes one of the user's tickets and gives back its seats.
func (s *BookingService) CancelTicket(ctx context.Context, email string, id uuid.UUID) error {
	const op = "cancel ticket"
	email = NormalizeEmail(email)

	txCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.tickets.CancelTicket(txCtx, email, id); err != nil {
		err = classifyError(op, err)
		if errors.Is(err, ErrNotFound) {
			return notFound(op, "user %s has no ticket %s", email, id)
		}
		return err
	}
	log.Printf("[booking] Cancelled ticket %s for %s", id, email)

	if s.events != nil {
		if err := s.events.TicketCancelled(ctx, email, id); err != nil {
			log.Printf("[booking] WARNING: ticket.cancelled event for %s not published: %v", id, err)
		}
	}
	return nil
}

// Inventory returns the counters of one train instance.
func (s *BookingService) Inventory(ctx context.Context, train model.Key, date model.Date) (*model.Inventory, error) {
	const op = "inventory"
	inv, err := s.tickets.Inventory(ctx, train, date)
	if err != nil {
		err = classifyError(op, err)
		if errors.Is(err, ErrNotFound) {
			return nil, notFound(op, "train %s does not exist", train.Display())
		}
		return nil, err
	}
	return inv, nil
}
