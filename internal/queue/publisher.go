package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shiva/traits/internal/model"
)

// DefaultTicketQueue is the durable queue ticket events are routed to.
const DefaultTicketQueue = "tickets.events"

// Publisher sends ticket events to a durable RabbitMQ queue over one
// long-lived connection. A dropped connection is redialed on the next publish.
type Publisher struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher dials the broker and declares the queue.
func NewPublisher(url, queue string) (*Publisher, error) {
	if queue == "" {
		queue = DefaultTicketQueue
	}
	p := &Publisher{url: url, queue: queue}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connectLocked() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := p.openChannel(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	p.conn, p.ch = conn, ch
	return nil
}

// openChannel opens a channel on conn and declares the ticket queue on it.
func (p *Publisher) openChannel(conn *amqp.Connection) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: channel open: %w", err)
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(
		p.queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq: queue declare: %w", err)
	}
	return ch, nil
}

// closable is the part of *amqp.Connection and *amqp.Channel that
// ensureLocked looks at.
type closable interface {
	IsClosed() bool
}

// repair reports what must be rebuilt before the next publish. A closed
// connection takes its channels with it.
func repair(conn, ch closable) (redial, reopen bool) {
	switch {
	case conn == nil || conn.IsClosed():
		return true, true
	case ch == nil || ch.IsClosed():
		return false, true
	}
	return false, false
}

// ensureLocked redials a lost connection or reopens a channel the broker
// closed on its own (e.g. after a channel-level exception).
func (p *Publisher) ensureLocked() error {
	var conn, ch closable
	if p.conn != nil {
		conn = p.conn
	}
	if p.ch != nil {
		ch = p.ch
	}
	redial, reopen := repair(conn, ch)
	switch {
	case redial:
		log.Printf("[queue] Connection lost, redialing broker")
		return p.connectLocked()
	case reopen:
		log.Printf("[queue] Channel closed, reopening")
		next, err := p.openChannel(p.conn)
		if err != nil {
			return err
		}
		p.ch = next
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, ev TicketEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal %s: %w", ev.Type, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLocked(); err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		MessageId:    ev.TicketID.String() + ":" + ev.Type,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		msg,
	); err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *Publisher) TicketPurchased(ctx context.Context, t *model.Ticket) error {
	return p.publish(ctx, NewPurchasedEvent(t, time.Now()))
}

func (p *Publisher) TicketCancelled(ctx context.Context, email string, id uuid.UUID) error {
	return p.publish(ctx, NewCancelledEvent(email, id, time.Now()))
}

// Close shuts down the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// LogPublisher writes events to the log instead of a broker. It is used
// when no AMQP_URL is configured.
type LogPublisher struct{}

func (LogPublisher) TicketPurchased(_ context.Context, t *model.Ticket) error {
	log.Printf("[queue] %s %s (%s, %d legs)", EventTicketPurchased, t.ID, t.UserEmail, len(t.Legs))
	return nil
}

func (LogPublisher) TicketCancelled(_ context.Context, email string, id uuid.UUID) error {
	log.Printf("[queue] %s %s (%s)", EventTicketCancelled, id, email)
	return nil
}
