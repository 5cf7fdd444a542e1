package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shiva/traits/internal/model"
)

type recordingPublisher struct {
	mu        sync.Mutex
	purchased []uuid.UUID
	cancelled []uuid.UUID
}

func (p *recordingPublisher) TicketPurchased(_ context.Context, t *model.Ticket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purchased = append(p.purchased, t.ID)
	return nil
}

func (p *recordingPublisher) TicketCancelled(_ context.Context, _ string, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, id)
	return nil
}

func searchOne(t *testing.T, e *Engine, from, to model.Key, y, m, d int) model.Itinerary {
	t.Helper()
	its, err := e.SearchConnections(context.Background(), dayQuery(from, to, y, m, d))
	must(t, err)
	if len(its) == 0 {
		t.Fatalf("no itinerary %s → %s on %d-%d-%d", from.Display(), to.Display(), y, m, d)
	}
	return its[0]
}

func TestBuyTicket_Validation(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	seedDirect(t, e)
	ctx := context.Background()
	it := searchOne(t, e, model.IntKey(1), model.StringKey("2"), 2024, 5, 1)

	_, err := e.BuyTicket(ctx, "nobody@example.com", &it, true)
	wantKind(t, "BuyTicket(unknown user)", err, KindNotFound)

	must(t, e.AddUser(ctx, "ada@example.com", nil))
	_, err = e.BuyTicket(ctx, "ada@example.com", nil, true)
	wantKind(t, "BuyTicket(nil itinerary)", err, KindInvalidArgument)
	_, err = e.BuyTicket(ctx, "ada@example.com", &model.Itinerary{}, true)
	wantKind(t, "BuyTicket(empty itinerary)", err, KindInvalidArgument)

	bad := it
	bad.Legs = []model.Leg{it.Legs[0]}
	bad.Legs[0].ScheduleID = 999
	_, err = e.BuyTicket(ctx, "ada@example.com", &bad, true)
	wantKind(t, "BuyTicket(unknown schedule)", err, KindNotFound)

	bad.Legs = []model.Leg{it.Legs[0]}
	bad.Legs[0].ServiceDate = mustDate(t, 2025, 1, 1)
	_, err = e.BuyTicket(ctx, "ada@example.com", &bad, true)
	wantKind(t, "BuyTicket(date outside validity)", err, KindInvalidArgument)

	bad.Legs = []model.Leg{it.Legs[0], it.Legs[0]}
	_, err = e.BuyTicket(ctx, "ada@example.com", &bad, true)
	wantKind(t, "BuyTicket(non-contiguous)", err, KindInvalidArgument)
}

func TestBuyTicket_ReserveAndHistory(t *testing.T) {
	pub := &recordingPublisher{}
	e, _ := newTestEngine(t, Options{Events: pub})
	seedTransfer(t, e)
	ctx := context.Background()
	must(t, e.AddUser(ctx, "ada@example.com", nil))

	early := searchOne(t, e, model.StringKey("A"), model.StringKey("C"), 2024, 4, 2)
	late := searchOne(t, e, model.StringKey("A"), model.StringKey("C"), 2024, 4, 9)

	first, err := e.BuyTicket(ctx, "ada@example.com", &early, true)
	must(t, err)
	if len(first.Legs) != 2 {
		t.Fatalf("ticket legs = %d, want 2", len(first.Legs))
	}
	for i, l := range first.Legs {
		if !l.SeatReserved || l.Outcome != model.OutcomeReserved {
			t.Errorf("leg %d reserved = %v (%s), want reserved", i, l.SeatReserved, l.Outcome)
		}
	}
	if first.TotalPriceCents != early.EstimatedPriceCents {
		t.Errorf("TotalPriceCents = %d, want %d", first.TotalPriceCents, early.EstimatedPriceCents)
	}

	second, err := e.BuyTicket(ctx, "ada@example.com", &late, false)
	must(t, err)
	if second.Legs[0].Outcome != model.OutcomeNotRequested {
		t.Errorf("unreserved leg outcome = %s, want %s", second.Legs[0].Outcome, model.OutcomeNotRequested)
	}

	history, err := e.GetPurchaseHistory(ctx, "ADA@example.com")
	must(t, err)
	if len(history) != 2 {
		t.Fatalf("GetPurchaseHistory = %d tickets, want 2", len(history))
	}
	if history[0].ID != second.ID || history[1].ID != first.ID {
		t.Errorf("history not ordered by latest trip first")
	}
	if history[0].From() != model.StringKey("A") || history[0].To() != model.StringKey("C") {
		t.Errorf("history route = %s → %s, want A → C", history[0].From().Display(), history[0].To().Display())
	}
	if len(pub.purchased) != 2 {
		t.Errorf("published %d ticket.purchased events, want 2", len(pub.purchased))
	}
}

func TestBuyTicket_SecondReservationRejected(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	seedDirect(t, e)
	ctx := context.Background()
	must(t, e.AddUser(ctx, "ada@example.com", nil))
	it := searchOne(t, e, model.IntKey(1), model.StringKey("2"), 2024, 5, 1)

	_, err := e.BuyTicket(ctx, "ada@example.com", &it, true)
	must(t, err)
	again, err := e.BuyTicket(ctx, "ada@example.com", &it, true)
	must(t, err)
	if again.Legs[0].SeatReserved || again.Legs[0].Outcome != model.OutcomeAlreadyReserved {
		t.Errorf("second reservation = %v (%s), want already_reserved", again.Legs[0].SeatReserved, again.Legs[0].Outcome)
	}

	inv, err := e.GetInventory(ctx, model.StringKey("T"), it.Legs[0].ServiceDate)
	must(t, err)
	if inv.SeatsReserved != 1 || inv.TicketsSold != 2 {
		t.Errorf("inventory = reserved %d sold %d, want 1 and 2", inv.SeatsReserved, inv.TicketsSold)
	}
}

func TestBuyTicket_BrokenTrainRejected(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	seedDirect(t, e)
	ctx := context.Background()
	must(t, e.AddUser(ctx, "ada@example.com", nil))
	it := searchOne(t, e, model.IntKey(1), model.StringKey("2"), 2024, 5, 1)

	must(t, e.CancelTrain(ctx, model.StringKey("T")))
	_, err := e.BuyTicket(ctx, "ada@example.com", &it, true)
	wantKind(t, "BuyTicket(broken train)", err, KindInvalidArgument)

	date := mustDate(t, 2024, time.May, 1)
	if inv, err := store.Inventory(ctx, model.StringKey("T"), date); err == nil && inv.SeatsReserved != 0 {
		t.Errorf("seats reserved on a broken train = %d, want 0", inv.SeatsReserved)
	}
	history, err := e.GetPurchaseHistory(ctx, "ada@example.com")
	must(t, err)
	if len(history) != 0 {
		t.Errorf("history after rejected purchase = %d tickets, want 0", len(history))
	}

	must(t, e.ResumeTrain(ctx, model.StringKey("T")))
	if _, err := e.BuyTicket(ctx, "ada@example.com", &it, true); err != nil {
		t.Errorf("BuyTicket after ResumeTrain error = %v", err)
	}
}

func TestBuyTicket_ConcurrentReservationsNeverOverbook(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	seedDirect(t, e)
	ctx := context.Background()

	const capacity, buyers = 3, 20
	c := capacity
	must(t, e.UpdateTrainDetails(ctx, model.StringKey("T"), model.TrainUpdate{Capacity: &c}))
	it := searchOne(t, e, model.IntKey(1), model.StringKey("2"), 2024, 5, 1)

	for i := 0; i < buyers; i++ {
		must(t, e.AddUser(ctx, fmt.Sprintf("rider%d@example.com", i), nil))
	}

	var mu sync.Mutex
	reserved, unreserved := 0, 0
	var g errgroup.Group
	for i := 0; i < buyers; i++ {
		email := fmt.Sprintf("rider%d@example.com", i)
		g.Go(func() error {
			local := it
			ticket, err := e.BuyTicket(ctx, email, &local, true)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if ticket.Legs[0].SeatReserved {
				reserved++
			} else {
				unreserved++
			}
			return nil
		})
	}
	must(t, g.Wait())

	if reserved != capacity || unreserved != buyers-capacity {
		t.Errorf("reserved/unreserved = %d/%d, want %d/%d", reserved, unreserved, capacity, buyers-capacity)
	}
	inv, err := e.GetInventory(ctx, model.StringKey("T"), it.Legs[0].ServiceDate)
	must(t, err)
	if inv.SeatsReserved != capacity || inv.TicketsSold != buyers {
		t.Errorf("inventory = reserved %d sold %d, want %d and %d", inv.SeatsReserved, inv.TicketsSold, capacity, buyers)
	}

	one := 1
	wantKind(t, "UpdateTrainDetails(capacity below reserved)",
		e.UpdateTrainDetails(ctx, model.StringKey("T"), model.TrainUpdate{Capacity: &one}), KindConflict)
}

func TestCancelTicket(t *testing.T) {
	pub := &recordingPublisher{}
	e, _ := newTestEngine(t, Options{Events: pub})
	seedDirect(t, e)
	ctx := context.Background()
	must(t, e.AddUser(ctx, "ada@example.com", nil))
	must(t, e.AddUser(ctx, "bob@example.com", nil))
	it := searchOne(t, e, model.IntKey(1), model.StringKey("2"), 2024, 5, 1)

	ticket, err := e.BuyTicket(ctx, "ada@example.com", &it, true)
	must(t, err)

	wantKind(t, "CancelTicket(other user)", e.CancelTicket(ctx, "bob@example.com", ticket.ID), KindNotFound)
	must(t, e.CancelTicket(ctx, "ada@example.com", ticket.ID))
	wantKind(t, "CancelTicket(twice)", e.CancelTicket(ctx, "ada@example.com", ticket.ID), KindNotFound)

	inv, err := e.GetInventory(ctx, model.StringKey("T"), it.Legs[0].ServiceDate)
	must(t, err)
	if inv.SeatsReserved != 0 || inv.TicketsSold != 0 {
		t.Errorf("inventory after cancel = reserved %d sold %d, want 0/0", inv.SeatsReserved, inv.TicketsSold)
	}
	if len(pub.cancelled) != 1 {
		t.Errorf("published %d ticket.cancelled events, want 1", len(pub.cancelled))
	}
}

func TestDeleteUser_EmptiesHistory(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	seedDirect(t, e)
	ctx := context.Background()
	must(t, e.AddUser(ctx, "ada@example.com", nil))
	it := searchOne(t, e, model.IntKey(1), model.StringKey("2"), 2024, 5, 1)
	_, err := e.BuyTicket(ctx, "ada@example.com", &it, true)
	must(t, err)

	must(t, e.DeleteUser(ctx, "ada@example.com"))
	history, err := e.GetPurchaseHistory(ctx, "ada@example.com")
	must(t, err)
	if len(history) != 0 {
		t.Errorf("GetPurchaseHistory after DeleteUser = %d tickets, want 0", len(history))
	}
	inv, err := e.GetInventory(ctx, model.StringKey("T"), it.Legs[0].ServiceDate)
	must(t, err)
	if inv.SeatsReserved != 0 {
		t.Errorf("SeatsReserved after DeleteUser = %d, want 0", inv.SeatsReserved)
	}
}

func TestGetPurchaseHistory_UnknownUser(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	history, err := e.GetPurchaseHistory(context.Background(), "ghost@example.com")
	must(t, err)
	if history == nil || len(history) != 0 {
		t.Errorf("GetPurchaseHistory(unknown) = %v, want empty list", history)
	}
}
