package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shiva/traits/internal/model"
	"github.com/shiva/traits/internal/repository"
)

func seedStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s := NewStore()
	if err := s.AddUser(ctx, model.User{Email: "a@example.com"}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := s.AddUser(ctx, model.User{Email: "b@example.com"}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	for _, k := range []model.Key{model.IntKey(1), model.IntKey(2)} {
		if err := s.AddTrain(ctx, model.Train{Key: k, Capacity: 1, Status: model.TrainOperational}); err != nil {
			t.Fatalf("AddTrain: %v", err)
		}
	}
	return s
}

func ticketFor(email string, trains ...model.Key) *model.Ticket {
	d, _ := model.NewDate(2024, time.June, 1)
	t := &model.Ticket{ID: uuid.New(), UserEmail: email}
	for _, k := range trains {
		t.Legs = append(t.Legs, model.TicketLeg{Leg: model.Leg{TrainKey: k, ServiceDate: d}})
	}
	return t
}

func TestCreateTicket_Outcomes(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)

	first := ticketFor("a@example.com", model.IntKey(1))
	if err := s.CreateTicket(ctx, first, true); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if got := first.Legs[0].Outcome; got != model.OutcomeReserved {
		t.Errorf("first outcome = %s, want %s", got, model.OutcomeReserved)
	}

	again := ticketFor("a@example.com", model.IntKey(1))
	if err := s.CreateTicket(ctx, again, true); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if got := again.Legs[0].Outcome; got != model.OutcomeAlreadyReserved {
		t.Errorf("repeat outcome = %s, want %s", got, model.OutcomeAlreadyReserved)
	}

	other := ticketFor("b@example.com", model.IntKey(1))
	if err := s.CreateTicket(ctx, other, true); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if got := other.Legs[0].Outcome; got != model.OutcomeSoldOut {
		t.Errorf("full outcome = %s, want %s", got, model.OutcomeSoldOut)
	}

	inv, err := s.Inventory(ctx, model.IntKey(1), first.Legs[0].ServiceDate)
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	if inv.TicketsSold != 3 || inv.SeatsReserved != 1 {
		t.Errorf("Inventory = sold %d reserved %d, want sold 3 reserved 1", inv.TicketsSold, inv.SeatsReserved)
	}
}

func TestUpdateTrain_CapacityBelowReserved(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)
	two := 2
	if _, err := s.UpdateTrain(ctx, model.IntKey(1), model.TrainUpdate{Capacity: &two}); err != nil {
		t.Fatalf("UpdateTrain: %v", err)
	}
	for _, email := range []string{"a@example.com", "b@example.com"} {
		if err := s.CreateTicket(ctx, ticketFor(email, model.IntKey(1)), true); err != nil {
			t.Fatalf("CreateTicket: %v", err)
		}
	}
	one := 1
	_, err := s.UpdateTrain(ctx, model.IntKey(1), model.TrainUpdate{Capacity: &one})
	if !errors.Is(err, repository.ErrConflict) {
		t.Errorf("UpdateTrain(capacity below reserved) error = %v, want ErrConflict", err)
	}
}

func TestDeleteTrain_ReleasesWholeTicket(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)
	tk := ticketFor("a@example.com", model.IntKey(1), model.IntKey(2))
	if err := s.CreateTicket(ctx, tk, true); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	if err := s.DeleteTrain(ctx, model.IntKey(1)); err != nil {
		t.Fatalf("DeleteTrain: %v", err)
	}

	tickets, _ := s.ListTickets(ctx, "a@example.com")
	if len(tickets) != 0 {
		t.Errorf("ListTickets after DeleteTrain = %d tickets, want 0", len(tickets))
	}
	inv, err := s.Inventory(ctx, model.IntKey(2), tk.Legs[1].ServiceDate)
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	if inv.SeatsReserved != 0 || inv.TicketsSold != 0 {
		t.Errorf("train 2 inventory = sold %d reserved %d, want 0/0", inv.TicketsSold, inv.SeatsReserved)
	}
	if _, err := s.GetTrain(ctx, model.IntKey(1)); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("GetTrain(deleted) error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteTrain(ctx, model.IntKey(99)); err != nil {
		t.Errorf("DeleteTrain(unknown) error = %v, want nil", err)
	}
}

func TestDeleteUser_FreesSeat(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)
	if err := s.CreateTicket(ctx, ticketFor("a@example.com", model.IntKey(1)), true); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if err := s.DeleteUser(ctx, "a@example.com"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	next := ticketFor("b@example.com", model.IntKey(1))
	if err := s.CreateTicket(ctx, next, true); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if got := next.Legs[0].Outcome; got != model.OutcomeReserved {
		t.Errorf("outcome after DeleteUser = %s, want %s", got, model.OutcomeReserved)
	}
}
