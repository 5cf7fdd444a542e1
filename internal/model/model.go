// Package model contains domain models for the train network.
// The relational parts map to the PostgreSQL schema in internal/repository/schema.sql.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ─── Enums ──────────────────────────────────────────────────

type TrainStatus string

const (
	TrainOperational TrainStatus = "OPERATIONAL"
	TrainDelayed     TrainStatus = "DELAYED"
	TrainBroken      TrainStatus = "BROKEN"
)

// Valid reports whether s is one of the known statuses.
func (s TrainStatus) Valid() bool {
	switch s {
	case TrainOperational, TrainDelayed, TrainBroken:
		return true
	}
	return false
}

// Runs reports whether instances of a train with this status carry passengers.
func (s TrainStatus) Runs() bool { return s != TrainBroken }

// SortCriterion selects the itinerary ranking metric.
type SortCriterion string

const (
	SortOverallTravelTime SortCriterion = "ott"
	SortChanges           SortCriterion = "nc"
	SortWaitingTime       SortCriterion = "wt"
	SortEstimatedPrice    SortCriterion = "ep"
)

func (c SortCriterion) Valid() bool {
	switch c {
	case SortOverallTravelTime, SortChanges, SortWaitingTime, SortEstimatedPrice:
		return true
	}
	return false
}

// ReservationOutcome is the per-leg result of a seat reservation attempt.
type ReservationOutcome string

const (
	OutcomeReserved        ReservationOutcome = "reserved"
	OutcomeNotRequested    ReservationOutcome = "not_requested"
	OutcomeSoldOut         ReservationOutcome = "sold_out"
	OutcomeAlreadyReserved ReservationOutcome = "already_reserved"
)

// ─── Location ───────────────────────────────────────────────

// Location represents a WGS-84 geographic point (EPSG:4326).
type Location struct {
	Lat float64 `json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" yaml:"lon" validate:"gte=-180,lte=180"`
}

// ─── Topology ───────────────────────────────────────────────

// Station is a vertex of the network graph.
type Station struct {
	Key      Key               `json:"key"`
	Details  map[string]string `json:"details,omitempty"`
	Location *Location         `json:"location,omitempty"`
}

// Connection is a directed edge with a travel time in minutes.
type Connection struct {
	From          Key `json:"from"`
	To            Key `json:"to"`
	TravelMinutes int `json:"travel_minutes"`
}

// ─── Directory ──────────────────────────────────────────────

// User maps to the `users` table.
type User struct {
	Email     string            `json:"email"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Train maps to the `trains` table.
type Train struct {
	Key       Key         `json:"key"`
	Capacity  int         `json:"capacity"`
	Status    TrainStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// TrainUpdate carries the optional fields of an admin train update.
// Nil fields are left untouched.
type TrainUpdate struct {
	Capacity *int
	Status   *TrainStatus
}

// ─── Schedules ──────────────────────────────────────────────

// StopSpec is an input stop: a station and the dwell time there.
type StopSpec struct {
	Station     Key `json:"station" yaml:"station" validate:"required"`
	WaitMinutes int `json:"wait_minutes" yaml:"wait" validate:"gte=0"`
}

// ScheduledStop is a stop with its offsets from the schedule's daily start.
type ScheduledStop struct {
	Station         Key     `json:"station"`
	WaitMinutes     int     `json:"wait_minutes"`
	ArrivalOffset   int     `json:"arrival_offset"`
	DepartureOffset int     `json:"departure_offset"`
	DistanceKm      float64 `json:"distance_km"`
}

// Schedule maps to the `schedules` and `schedule_stops` tables.
type Schedule struct {
	ID          int64           `json:"id"`
	TrainKey    Key             `json:"train_key"`
	StartHour   int             `json:"start_hour"`
	StartMinute int             `json:"start_minute"`
	Stops       []ScheduledStop `json:"stops"`
	ValidFrom   Date            `json:"valid_from"`
	ValidUntil  Date            `json:"valid_until"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RunsOn reports whether the schedule produces an instance on d.
func (s *Schedule) RunsOn(d Date) bool { return d.Within(s.ValidFrom, s.ValidUntil) }

// SpanMinutes is the time from the daily start to the last arrival.
func (s *Schedule) SpanMinutes() int {
	if len(s.Stops) == 0 {
		return 0
	}
	return s.StartHour*60 + s.StartMinute + s.Stops[len(s.Stops)-1].ArrivalOffset
}

// Instance is a concrete run of a schedule on one service date.
type Instance struct {
	Schedule    *Schedule
	ServiceDate Date
	Start       time.Time
}

// NewInstance anchors a schedule to a service date.
func NewInstance(s *Schedule, d Date) Instance {
	return Instance{Schedule: s, ServiceDate: d, Start: d.At(s.StartHour, s.StartMinute)}
}

// Arrival returns the arrival time at stop i.
func (in Instance) Arrival(i int) time.Time {
	return in.Start.Add(time.Duration(in.Schedule.Stops[i].ArrivalOffset) * time.Minute)
}

// Departure returns the departure time from stop i.
func (in Instance) Departure(i int) time.Time {
	return in.Start.Add(time.Duration(in.Schedule.Stops[i].DepartureOffset) * time.Minute)
}

// Station returns the station of stop i.
func (in Instance) Station(i int) Key { return in.Schedule.Stops[i].Station }

// ─── Itineraries ────────────────────────────────────────────

// Leg is a contiguous ride on one train instance.
type Leg struct {
	TrainKey    Key       `json:"train_key"`
	ScheduleID  int64     `json:"schedule_id"`
	ServiceDate Date      `json:"service_date"`
	From        Key       `json:"from"`
	To          Key       `json:"to"`
	FromIndex   int       `json:"from_index"`
	ToIndex     int       `json:"to_index"`
	Departure   time.Time `json:"departure"`
	Arrival     time.Time `json:"arrival"`
	DistanceKm  float64   `json:"distance_km"`
	PriceCents  int64     `json:"price_cents"`
}

// RideMinutes is the time spent on the train.
func (l Leg) RideMinutes() int { return int(l.Arrival.Sub(l.Departure) / time.Minute) }

// Itinerary is an ordered list of legs with derived metrics.
type Itinerary struct {
	Legs                []Leg `json:"legs"`
	OverallTravelTime   int   `json:"overall_travel_time"`
	NumberOfChanges     int   `json:"number_of_changes"`
	WaitingTime         int   `json:"waiting_time"`
	EstimatedPriceCents int64 `json:"estimated_price_cents"`
}

// Departure is the boarding time of the first leg.
func (it *Itinerary) Departure() time.Time { return it.Legs[0].Departure }

// Arrival is the alighting time of the last leg.
func (it *Itinerary) Arrival() time.Time { return it.Legs[len(it.Legs)-1].Arrival }

// ─── Tickets & Inventory ────────────────────────────────────

// TicketLeg maps to the `ticket_legs` table.
type TicketLeg struct {
	Leg
	SeatReserved bool               `json:"seat_reserved"`
	Outcome      ReservationOutcome `json:"outcome"`
}

// Ticket maps to the `tickets` table.
type Ticket struct {
	ID              uuid.UUID   `json:"id"`
	UserEmail       string      `json:"user_email"`
	Legs            []TicketLeg `json:"legs"`
	TotalPriceCents int64       `json:"total_price_cents"`
	PurchasedAt     time.Time   `json:"purchased_at"`
}

// From is the first boarding station.
func (t *Ticket) From() Key { return t.Legs[0].From }

// To is the final alighting station.
func (t *Ticket) To() Key { return t.Legs[len(t.Legs)-1].To }

// DepartsAt is the first boarding time.
func (t *Ticket) DepartsAt() time.Time { return t.Legs[0].Departure }

// Inventory maps to the `inventory` table: counters per train instance.
type Inventory struct {
	TrainKey      Key  `json:"train_key"`
	ServiceDate   Date `json:"service_date"`
	Capacity      int  `json:"capacity"`
	TicketsSold   int  `json:"tickets_sold"`
	SeatsReserved int  `json:"seats_reserved"`
}
