package service

import (
	"context"
	"log"

	"github.com/shiva/traits/internal/model"
)

// TopologyService manages stations and the directed connections between them.
type TopologyService struct {
	store TopologyStore
}

// NewTopologyService creates a topology service over the given graph store.
func NewTopologyService(store TopologyStore) *TopologyService {
	return &TopologyService{store: store}
}

// AddStation registers a station. Keys are unique across the network.
func (s *TopologyService) AddStation(ctx context.Context, st model.Station) error {
	const op = "add station"
	if st.Key.IsZero() {
		return invalid(op, "station key is required")
	}
	if st.Location != nil {
		if err := validate.Struct(st.Location); err != nil {
			return invalid(op, "station %s: bad location: %v", st.Key.Display(), err)
		}
	}
	if err := s.store.AddStation(ctx, st); err != nil {
		if KindOf(classifyError(op, err)) == KindDuplicateKey {
			return duplicate(op, "station %s already exists", st.Key.Display())
		}
		return classifyError(op, err)
	}
	log.Printf("[topology] Added station %s", st.Key.Display())
	return nil
}

// Connect adds the directed connection from → to.
func (s *TopologyService) Connect(ctx context.Context, from, to model.Key, travelMinutes int) error {
	const op = "connect stations"
	if travelMinutes <= 0 {
		return invalid(op, "travel time must be positive, got %d", travelMinutes)
	}
	if from == to {
		return invalid(op, "cannot connect station %s to itself", from.Display())
	}
	for _, k := range []model.Key{from, to} {
		ok, err := s.store.StationExists(ctx, k)
		if err != nil {
			return classifyError(op, err)
		}
		if !ok {
			return notFound(op, "station %s does not exist", k.Display())
		}
	}

	err := s.store.AddConnection(ctx, model.Connection{From: from, To: to, TravelMinutes: travelMinutes})
	if err != nil {
		if KindOf(classifyError(op, err)) == KindDuplicateKey {
			return duplicate(op, "stations %s and %s are already connected", from.Display(), to.Display())
		}
		return classifyError(op, err)
	}
	log.Printf("[topology] Connected %s → %s (%d min)", from.Display(), to.Display(), travelMinutes)
	return nil
}

// TravelTime returns the direct travel time from → to, if connected.
func (s *TopologyService) TravelTime(ctx context.Context, from, to model.Key) (int, bool, error) {
	minutes, ok, err := s.store.TravelTime(ctx, from, to)
	if err != nil {
		return 0, false, classifyError("travel time", err)
	}
	return minutes, ok, nil
}

// IsConnected reports whether a direct connection from → to exists.
func (s *TopologyService) IsConnected(ctx context.Context, from, to model.Key) (bool, error) {
	_, ok, err := s.TravelTime(ctx, from, to)
	return ok, err
}

// Station returns a station by key.
func (s *TopologyService) Station(ctx context.Context, key model.Key) (*model.Station, error) {
	st, err := s.store.GetStation(ctx, key)
	if err != nil {
		if KindOf(classifyError("", err)) == KindNotFound {
			return nil, notFound("get station", "station %s does not exist", key.Display())
		}
		return nil, classifyError("get station", err)
	}
	return st, nil
}

// Reachable runs a breadth-first walk over the connection graph.
func (s *TopologyService) Reachable(ctx context.Context, from, to model.Key) (bool, error) {
	if from == to {
		return true, nil
	}
	seen := map[model.Key]bool{from: true}
	queue := []model.Key{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next, err := s.store.Neighbors(ctx, cur)
		if err != nil {
			return false, classifyError("reachability", err)
		}
		for _, c := range next {
			if c.To == to {
				return true, nil
			}
			if !seen[c.To] {
				seen[c.To] = true
				queue = append(queue, c.To)
			}
		}
	}
	return false, nil
}
