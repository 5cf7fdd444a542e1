// Package queue publishes ticket lifecycle events to RabbitMQ.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/shiva/traits/internal/model"
)

// Event types carried in TicketEvent.Type.
const (
	EventTicketPurchased = "ticket.purchased"
	EventTicketCancelled = "ticket.cancelled"
)

// EventLeg is the wire form of one ticket leg.
type EventLeg struct {
	Train        string    `json:"train"`
	ServiceDate  string    `json:"service_date"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Departure    time.Time `json:"departure"`
	Arrival      time.Time `json:"arrival"`
	SeatReserved bool      `json:"seat_reserved"`
	Outcome      string    `json:"outcome"`
}

// TicketEvent is the message body published for every ticket change.
type TicketEvent struct {
	Type            string     `json:"type"`
	TicketID        uuid.UUID  `json:"ticket_id"`
	UserEmail       string     `json:"user_email"`
	TotalPriceCents int64      `json:"total_price_cents,omitempty"`
	Legs            []EventLeg `json:"legs,omitempty"`
	OccurredAt      time.Time  `json:"occurred_at"`
}

// NewPurchasedEvent builds the ticket.purchased message for t.
func NewPurchasedEvent(t *model.Ticket, at time.Time) TicketEvent {
	ev := TicketEvent{
		Type:            EventTicketPurchased,
		TicketID:        t.ID,
		UserEmail:       t.UserEmail,
		TotalPriceCents: t.TotalPriceCents,
		OccurredAt:      at.UTC(),
		Legs:            make([]EventLeg, len(t.Legs)),
	}
	for i, l := range t.Legs {
		ev.Legs[i] = EventLeg{
			Train:        l.TrainKey.Display(),
			ServiceDate:  l.ServiceDate.String(),
			From:         l.From.Display(),
			To:           l.To.Display(),
			Departure:    l.Departure,
			Arrival:      l.Arrival,
			SeatReserved: l.SeatReserved,
			Outcome:      string(l.Outcome),
		}
	}
	return ev
}

// NewCancelledEvent builds the ticket.cancelled message.
func NewCancelledEvent(email string, id uuid.UUID, at time.Time) TicketEvent {
	return TicketEvent{
		Type:       EventTicketCancelled,
		TicketID:   id,
		UserEmail:  email,
		OccurredAt: at.UTC(),
	}
}
