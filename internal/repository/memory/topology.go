package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shiva/traits/internal/model"
	"github.com/shiva/traits/internal/repository"
)

// Topology keeps the station graph as an adjacency map.
type Topology struct {
	mu       sync.RWMutex
	stations map[string]model.Station
	edges    map[string]map[string]model.Connection
}

// NewTopology creates an empty graph.
func NewTopology() *Topology {
	return &Topology{
		stations: make(map[string]model.Station),
		edges:    make(map[string]map[string]model.Connection),
	}
}

func (g *Topology) AddStation(_ context.Context, st model.Station) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := st.Key.String()
	if _, ok := g.stations[k]; ok {
		return fmt.Errorf("add station %s: %w", st.Key.Display(), repository.ErrDuplicate)
	}
	st.Details = copyDetails(st.Details)
	if st.Location != nil {
		loc := *st.Location
		st.Location = &loc
	}
	g.stations[k] = st
	return nil
}

func (g *Topology) GetStation(_ context.Context, key model.Key) (*model.Station, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	st, ok := g.stations[key.String()]
	if !ok {
		return nil, fmt.Errorf("get station %s: %w", key.Display(), repository.ErrNotFound)
	}
	return &st, nil
}

func (g *Topology) StationExists(_ context.Context, key model.Key) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.stations[key.String()]
	return ok, nil
}

func (g *Topology) AddConnection(_ context.Context, c model.Connection) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	from, to := c.From.String(), c.To.String()
	out := g.edges[from]
	if out == nil {
		out = make(map[string]model.Connection)
		g.edges[from] = out
	}
	if _, ok := out[to]; ok {
		return fmt.Errorf("connect %s → %s: %w", c.From.Display(), c.To.Display(), repository.ErrDuplicate)
	}
	out[to] = c
	return nil
}

func (g *Topology) TravelTime(_ context.Context, from, to model.Key) (int, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c, ok := g.edges[from.String()][to.String()]
	if !ok {
		return 0, false, nil
	}
	return c.TravelMinutes, true, nil
}

func (g *Topology) Neighbors(_ context.Context, from model.Key) ([]model.Connection, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]model.Connection, 0, len(g.edges[from.String()]))
	for _, c := range g.edges[from.String()] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].To.Less(out[j].To) })
	return out, nil
}
