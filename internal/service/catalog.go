package service

import (
	"context"
	"log"

	"github.com/shiva/traits/internal/model"
	"github.com/shiva/traits/pkg/geo"
)

// ScheduleRequest is the input of AddSchedule.
type ScheduleRequest struct {
	TrainKey    model.Key
	StartHour   int
	StartMinute int
	Stops       []model.StopSpec
	ValidFrom   model.Date
	ValidUntil  model.Date
}

// CatalogService validates and stores recurring train schedules.
type CatalogService struct {
	schedules ScheduleStore
	trains    DirectoryStore
	topology  TopologyStore
}

// NewCatalogService creates a schedule catalog.
func NewCatalogService(schedules ScheduleStore, trains DirectoryStore, topology TopologyStore) *CatalogService {
	return &CatalogService{schedules: schedules, trains: trains, topology: topology}
}

// AddSchedule validates req against the directory and the graph, computes
// per-stop offsets and distances, and stores the schedule.
func (s *CatalogService) AddSchedule(ctx context.Context, req ScheduleRequest) (*model.Schedule, error) {
	const op = "add schedule"

	if _, err := s.trains.GetTrain(ctx, req.TrainKey); err != nil {
		if KindOf(classifyError(op, err)) == KindNotFound {
			return nil, notFound(op, "train %s does not exist", req.TrainKey.Display())
		}
		return nil, classifyError(op, err)
	}

	// ── Shape checks ────────────────────────────────────
	if len(req.Stops) < 2 {
		return nil, invalid(op, "a schedule needs at least 2 stops, got %d", len(req.Stops))
	}
	if req.StartHour < 0 || req.StartHour > 23 {
		return nil, invalid(op, "start hour %d out of range 0-23", req.StartHour)
	}
	if req.StartMinute < 0 || req.StartMinute > 59 {
		return nil, invalid(op, "start minute %d out of range 0-59", req.StartMinute)
	}
	for _, d := range []model.Date{req.ValidFrom, req.ValidUntil} {
		if _, ok := model.NewDate(d.Year, d.Month, d.Day); !ok {
			return nil, invalid(op, "%s is not a calendar date", d)
		}
	}
	if req.ValidFrom.After(req.ValidUntil) {
		return nil, invalid(op, "valid_from %s is after valid_until %s", req.ValidFrom, req.ValidUntil)
	}
	for i, st := range req.Stops {
		if st.WaitMinutes < 0 {
			return nil, invalid(op, "stop %d: negative wait time %d", i, st.WaitMinutes)
		}
		if i > 0 && req.Stops[i-1].Station == st.Station {
			return nil, invalid(op, "stops %d and %d are both station %s", i-1, i, st.Station.Display())
		}
	}

	// ── Topology checks and offsets ─────────────────────
	stations := make(map[model.Key]*model.Station, len(req.Stops))
	for _, st := range req.Stops {
		if _, seen := stations[st.Station]; seen {
			continue
		}
		station, err := s.topology.GetStation(ctx, st.Station)
		if err != nil {
			if KindOf(classifyError(op, err)) == KindNotFound {
				return nil, notFound(op, "station %s does not exist", st.Station.Display())
			}
			return nil, classifyError(op, err)
		}
		stations[st.Station] = station
	}

	stops := make([]model.ScheduledStop, len(req.Stops))
	stops[0] = model.ScheduledStop{
		Station:         req.Stops[0].Station,
		WaitMinutes:     req.Stops[0].WaitMinutes,
		DepartureOffset: req.Stops[0].WaitMinutes,
	}
	for i := 1; i < len(req.Stops); i++ {
		prev, cur := req.Stops[i-1].Station, req.Stops[i].Station
		minutes, ok, err := s.topology.TravelTime(ctx, prev, cur)
		if err != nil {
			return nil, classifyError(op, err)
		}
		if !ok {
			return nil, notFound(op, "no connection %s → %s", prev.Display(), cur.Display())
		}
		arrival := stops[i-1].DepartureOffset + minutes
		stops[i] = model.ScheduledStop{
			Station:         cur,
			WaitMinutes:     req.Stops[i].WaitMinutes,
			ArrivalOffset:   arrival,
			DepartureOffset: arrival + req.Stops[i].WaitMinutes,
			DistanceKm:      stops[i-1].DistanceKm + hopDistance(stations[prev], stations[cur]),
		}
	}

	sch := &model.Schedule{
		TrainKey:    req.TrainKey,
		StartHour:   req.StartHour,
		StartMinute: req.StartMinute,
		Stops:       stops,
		ValidFrom:   req.ValidFrom,
		ValidUntil:  req.ValidUntil,
	}
	if err := s.schedules.AddSchedule(ctx, sch); err != nil {
		return nil, classifyError(op, err)
	}

	log.Printf("[catalog] Added schedule #%d for train %s: %d stops, %02d:%02d, %s..%s",
		sch.ID, req.TrainKey.Display(), len(stops), req.StartHour, req.StartMinute, req.ValidFrom, req.ValidUntil)
	return sch, nil
}

// ListSchedules returns every stored schedule ordered by id.
func (s *CatalogService) ListSchedules(ctx context.Context) ([]model.Schedule, error) {
	out, err := s.schedules.ListSchedules(ctx)
	if err != nil {
		return nil, classifyError("list schedules", err)
	}
	return out, nil
}

// Schedule returns one schedule by id.
func (s *CatalogService) Schedule(ctx context.Context, id int64) (*model.Schedule, error) {
	sch, err := s.schedules.GetSchedule(ctx, id)
	if err != nil {
		if KindOf(classifyError("", err)) == KindNotFound {
			return nil, notFound("get schedule", "schedule %d does not exist", id)
		}
		return nil, classifyError("get schedule", err)
	}
	return sch, nil
}

// hopDistance is the straight-line distance between two stations, or 0
// when either has no coordinates.
func hopDistance(a, b *model.Station) float64 {
	if a == nil || b == nil || a.Location == nil || b.Location == nil {
		return 0
	}
	return geo.HaversineKm(*a.Location, *b.Location)
}
