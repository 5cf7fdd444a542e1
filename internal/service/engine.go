package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shiva/traits/internal/model"
)

// ─── Capability interfaces ──────────────────────────────────

// Traits is the user-facing surface: reads plus ticket purchase.
type Traits interface {
	SearchConnections(ctx context.Context, q SearchQuery) ([]model.Itinerary, error)
	GetTrainCurrentStatus(ctx context.Context, key model.Key) (*model.TrainStatus, error)
	GetPurchaseHistory(ctx context.Context, email string) ([]model.Ticket, error)
	BuyTicket(ctx context.Context, email string, itinerary *model.Itinerary, reserveSeats bool) (*model.Ticket, error)
	CancelTicket(ctx context.Context, email string, id uuid.UUID) error
}

// AdminTraits is the administrative surface.
type AdminTraits interface {
	AddUser(ctx context.Context, email string, details map[string]string) error
	DeleteUser(ctx context.Context, email string) error
	AddTrain(ctx context.Context, key model.Key, capacity int, status model.TrainStatus) error
	UpdateTrainDetails(ctx context.Context, key model.Key, upd model.TrainUpdate) error
	DeleteTrain(ctx context.Context, key model.Key) error
	CancelTrain(ctx context.Context, key model.Key) error
	ResumeTrain(ctx context.Context, key model.Key) error
	AddTrainStation(ctx context.Context, st model.Station) error
	ConnectTrainStations(ctx context.Context, from, to model.Key, travelMinutes int) error
	IsConnected(ctx context.Context, from, to model.Key) (int, bool, error)
	AddSchedule(ctx context.Context, req ScheduleRequest) (*model.Schedule, error)
	GetAllSchedules(ctx context.Context) ([]model.Schedule, error)
	GetInventory(ctx context.Context, train model.Key, date model.Date) (*model.Inventory, error)
}

var (
	_ Traits      = (*Engine)(nil)
	_ AdminTraits = (*Engine)(nil)
)

// ─── Engine ─────────────────────────────────────────────────

// Stores bundles the storage adapters the engine runs on.
type Stores struct {
	Topology  TopologyStore
	Directory DirectoryStore
	Schedules ScheduleStore
	Tickets   TicketStore
}

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	Search         SearchConfig
	Pricer         Pricer
	Cache          SearchCache
	Events         EventPublisher
	BookingTimeout time.Duration
	Now            func() time.Time
}

// Engine implements both capability interfaces over one set of stores.
type Engine struct {
	topology  *TopologyService
	catalog   *CatalogService
	directory *DirectoryService
	search    *SearchService
	booking   *BookingService
}

// NewEngine wires the services together.
func NewEngine(stores Stores, opts Options) *Engine {
	if opts.Pricer == nil {
		opts.Pricer = NewFarePricer(DefaultFareConfig())
	}
	if opts.Search == (SearchConfig{}) {
		opts.Search = DefaultSearchConfig()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	topology := NewTopologyService(stores.Topology)
	catalog := NewCatalogService(stores.Schedules, stores.Directory, stores.Topology)
	return &Engine{
		topology:  topology,
		catalog:   catalog,
		directory: NewDirectoryService(stores.Directory),
		search: NewSearchService(topology, stores.Schedules, stores.Directory,
			opts.Pricer, opts.Cache, opts.Search, opts.Now),
		booking: NewBookingService(stores.Tickets, stores.Directory, catalog,
			opts.Pricer, opts.Events, opts.BookingTimeout, opts.Now),
	}
}

// ─── Traits ─────────────────────────────────────────────────

func (e *Engine) SearchConnections(ctx context.Context, q SearchQuery) ([]model.Itinerary, error) {
	return e.search.Search(ctx, q)
}

func (e *Engine) GetTrainCurrentStatus(ctx context.Context, key model.Key) (*model.TrainStatus, error) {
	return e.directory.TrainStatus(ctx, key)
}

func (e *Engine) GetPurchaseHistory(ctx context.Context, email string) ([]model.Ticket, error) {
	return e.booking.GetPurchaseHistory(ctx, email)
}

func (e *Engine) BuyTicket(ctx context.Context, email string, itinerary *model.Itinerary, reserveSeats bool) (*model.Ticket, error) {
	return e.booking.BuyTicket(ctx, email, itinerary, reserveSeats)
}

func (e *Engine) CancelTicket(ctx context.Context, email string, id uuid.UUID) error {
	return e.booking.CancelTicket(ctx, email, id)
}

// ─── AdminTraits ────────────────────────────────────────────

func (e *Engine) AddUser(ctx context.Context, email string, details map[string]string) error {
	return e.directory.AddUser(ctx, email, details)
}

func (e *Engine) DeleteUser(ctx context.Context, email string) error {
	return e.directory.DeleteUser(ctx, email)
}

func (e *Engine) AddTrain(ctx context.Context, key model.Key, capacity int, status model.TrainStatus) error {
	return e.directory.AddTrain(ctx, key, capacity, status)
}

func (e *Engine) UpdateTrainDetails(ctx context.Context, key model.Key, upd model.TrainUpdate) error {
	if err := e.directory.UpdateTrainDetails(ctx, key, upd); err != nil {
		return err
	}
	if upd.Status != nil {
		e.search.Invalidate(ctx)
	}
	return nil
}

func (e *Engine) DeleteTrain(ctx context.Context, key model.Key) error {
	if err := e.directory.DeleteTrain(ctx, key); err != nil {
		return err
	}
	e.search.Invalidate(ctx)
	return nil
}

// CancelTrain marks the train BROKEN; its instances disappear from searches.
func (e *Engine) CancelTrain(ctx context.Context, key model.Key) error {
	if err := e.directory.SetTrainStatus(ctx, key, model.TrainBroken); err != nil {
		return err
	}
	e.search.Invalidate(ctx)
	return nil
}

// ResumeTrain puts a train back into OPERATIONAL service.
func (e *Engine) ResumeTrain(ctx context.Context, key model.Key) error {
	if err := e.directory.SetTrainStatus(ctx, key, model.TrainOperational); err != nil {
		return err
	}
	e.search.Invalidate(ctx)
	return nil
}

func (e *Engine) AddTrainStation(ctx context.Context, st model.Station) error {
	return e.topology.AddStation(ctx, st)
}

func (e *Engine) ConnectTrainStations(ctx context.Context, from, to model.Key, travelMinutes int) error {
	return e.topology.Connect(ctx, from, to, travelMinutes)
}

func (e *Engine) IsConnected(ctx context.Context, from, to model.Key) (int, bool, error) {
	return e.topology.TravelTime(ctx, from, to)
}

func (e *Engine) AddSchedule(ctx context.Context, req ScheduleRequest) (*model.Schedule, error) {
	sch, err := e.catalog.AddSchedule(ctx, req)
	if err != nil {
		return nil, err
	}
	e.search.Invalidate(ctx)
	return sch, nil
}

func (e *Engine) GetAllSchedules(ctx context.Context) ([]model.Schedule, error) {
	return e.catalog.ListSchedules(ctx)
}

func (e *Engine) GetInventory(ctx context.Context, train model.Key, date model.Date) (*model.Inventory, error) {
	return e.booking.Inventory(ctx, train, date)
}
