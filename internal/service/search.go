package service

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shiva/traits/internal/model"
)

// ─── Search Configuration ───────────────────────────────────

// SearchConfig bounds the itinerary search.
type SearchConfig struct {
	MaxChanges     int // Transfers allowed per itinerary.
	HorizonDays    int // Days searched from now when no date is given.
	MaxServiceDays int // Service days materialized per expansion step.
	MaxResults     int // Itineraries collected before ranking.
	MaxLabels      int // Partial itineraries expanded before giving up.
}

// DefaultSearchConfig returns the bounds used when nothing is configured.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MaxChanges:     5,
		HorizonDays:    30,
		MaxServiceDays: 62,
		MaxResults:     500,
		MaxLabels:      50000,
	}
}

// SearchQuery describes one connection search. Nil date/time fields are
// unconstrained; Month needs Year, Day needs Month, and Hour/Minute need a
// full date.
type SearchQuery struct {
	Origin      model.Key
	Destination model.Key
	Year        *int
	Month       *int
	Day         *int
	Hour        *int
	Minute      *int
	IsDeparture bool
	SortBy      model.SortCriterion
	Ascending   bool
	Limit       int
}

// window is the inclusive range the constrained endpoint must fall into:
// the first departure when searching by departure, the last arrival otherwise.
// When floor is set no leg may depart before it.
type window struct {
	from, to time.Time
	floor    time.Time
}

// ─── SearchService ──────────────────────────────────────────

// SearchService enumerates and ranks itineraries over schedule instances.
//
// Searches only read the catalog and never touch booking state, so they run
// in parallel with purchases. Identical concurrent queries share one run.
type SearchService struct {
	topology  *TopologyService
	schedules ScheduleStore
	trains    DirectoryStore
	pricer    Pricer
	cache     SearchCache
	config    SearchConfig
	now       func() time.Time
	group     singleflight.Group
	epoch     atomic.Int64
}

// NewSearchService creates a search service. cache may be nil.
func NewSearchService(
	topology *TopologyService,
	schedules ScheduleStore,
	trains DirectoryStore,
	pricer Pricer,
	cache SearchCache,
	config SearchConfig,
	now func() time.Time,
) *SearchService {
	if now == nil {
		now = time.Now
	}
	return &SearchService{
		topology:  topology,
		schedules: schedules,
		trains:    trains,
		pricer:    pricer,
		cache:     cache,
		config:    config,
		now:       now,
	}
}

// Search validates q and returns at most q.Limit ranked itineraries.
// An unreachable destination yields an empty list, not an error.
func (s *SearchService) Search(ctx context.Context, q SearchQuery) ([]model.Itinerary, error) {
	const op = "search connections"

	if q.Origin == q.Destination {
		return nil, invalid(op, "origin and destination are both %s", q.Origin.Display())
	}
	if q.Limit <= 0 {
		return nil, invalid(op, "limit must be positive, got %d", q.Limit)
	}
	if !q.SortBy.Valid() {
		return nil, invalid(op, "unknown sort criterion %q", q.SortBy)
	}
	now := s.now().UTC().Truncate(time.Minute)
	win, err := s.window(q, now)
	if err != nil {
		return nil, err
	}
	for _, k := range []model.Key{q.Origin, q.Destination} {
		if _, err := s.topology.Station(ctx, k); err != nil {
			return nil, err
		}
	}

	// Both generations are read before the catalog. A result computed from
	// a catalog that changed meanwhile is stored under the old generation,
	// where no later lookup finds it.
	key := cacheKey(q, win)
	epoch := s.epoch.Load()
	var gen int64
	if s.cache != nil {
		gen = s.cache.Generation(ctx)
		if its, ok := s.cache.Get(ctx, gen, key); ok {
			return cloneItineraries(its), nil
		}
	}

	flight := fmt.Sprintf("%s|%d|%d", key, epoch, gen)
	v, err, shared := s.group.Do(flight, func() (interface{}, error) {
		its, err := s.run(ctx, q, win)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.Set(ctx, gen, key, cloneItineraries(its))
		}
		return its, nil
	})
	if err != nil {
		return nil, err
	}
	its := v.([]model.Itinerary)
	if shared {
		its = cloneItineraries(its)
	}
	return its, nil
}

// Invalidate drops cached results after a schedule or train change.
func (s *SearchService) Invalidate(ctx context.Context) {
	s.epoch.Add(1)
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}

func (s *SearchService) run(ctx context.Context, q SearchQuery, win window) ([]model.Itinerary, error) {
	start := time.Now()

	reachable, err := s.topology.Reachable(ctx, q.Origin, q.Destination)
	if err != nil {
		return nil, err
	}
	if !reachable {
		log.Printf("[search] %s → %s: no path in the network", q.Origin.Display(), q.Destination.Display())
		return []model.Itinerary{}, nil
	}

	tt, err := s.loadTimetable(ctx)
	if err != nil {
		return nil, err
	}

	// The window is walked in steps of MaxServiceDays service days, from the
	// start when searching by departure and from the end otherwise, until the
	// result or label budget runs out.
	var (
		found     [][]model.Leg
		instances int
		expanded  int
	)
	if win, ok := tt.clip(win); ok {
		for _, part := range win.split(s.config.MaxServiceDays, !q.IsDeparture) {
			net := tt.network(part)
			e := &enumerator{
				net:         net,
				origin:      q.Origin,
				destination: q.Destination,
				win:         part,
				maxChanges:  s.config.MaxChanges,
				maxResults:  remaining(s.config.MaxResults, len(found)),
				maxLabels:   remaining(s.config.MaxLabels, expanded),
			}
			if q.IsDeparture {
				e.forward()
			} else {
				e.backward()
			}
			for _, refs := range e.results {
				found = append(found, net.legs(refs))
			}
			instances += len(net.instances)
			expanded += e.expanded
			if exhausted(s.config.MaxResults, len(found)) || exhausted(s.config.MaxLabels, expanded) {
				break
			}
		}
	}

	its := make([]model.Itinerary, 0, len(found))
	for _, legs := range found {
		its = append(its, buildItinerary(legs, s.pricer))
	}
	rankItineraries(its, q.SortBy, q.Ascending)
	if len(its) > q.Limit {
		its = its[:q.Limit]
	}

	log.Printf("[search] %s → %s: %d instances, %d labels, %d itineraries (%s)",
		q.Origin.Display(), q.Destination.Display(), instances, expanded, len(found),
		time.Since(start).Round(time.Microsecond))
	return its, nil
}

// remaining returns what is left of a budget; 0 means unbounded.
func remaining(budget, used int) int {
	if budget <= 0 {
		return 0
	}
	return budget - used
}

func exhausted(budget, used int) bool {
	return budget > 0 && used >= budget
}

// ─── Time window ────────────────────────────────────────────

func (s *SearchService) window(q SearchQuery, now time.Time) (window, error) {
	const op = "search connections"

	if q.Month != nil && q.Year == nil {
		return window{}, invalid(op, "month given without year")
	}
	if q.Day != nil && q.Month == nil {
		return window{}, invalid(op, "day given without month")
	}
	if (q.Hour != nil || q.Minute != nil) && q.Day == nil {
		return window{}, invalid(op, "time of day needs a full date")
	}
	if q.Minute != nil && q.Hour == nil {
		return window{}, invalid(op, "minute given without hour")
	}
	if q.Month != nil && (*q.Month < 1 || *q.Month > 12) {
		return window{}, invalid(op, "month %d out of range 1-12", *q.Month)
	}
	if q.Hour != nil && (*q.Hour < 0 || *q.Hour > 23) {
		return window{}, invalid(op, "hour %d out of range 0-23", *q.Hour)
	}
	if q.Minute != nil && (*q.Minute < 0 || *q.Minute > 59) {
		return window{}, invalid(op, "minute %d out of range 0-59", *q.Minute)
	}

	if q.Year == nil {
		last := model.DateOf(now).AddDays(s.config.HorizonDays - 1)
		return window{from: now, to: endOfDay(last), floor: now}, nil
	}

	var lo, hi model.Date
	switch {
	case q.Day != nil:
		d, ok := model.NewDate(*q.Year, time.Month(*q.Month), *q.Day)
		if !ok {
			return window{}, invalid(op, "%04d-%02d-%02d is not a calendar date", *q.Year, *q.Month, *q.Day)
		}
		lo, hi = d, d
	case q.Month != nil:
		lo, _ = model.NewDate(*q.Year, time.Month(*q.Month), 1)
		hi = model.DateOf(lo.Time().AddDate(0, 1, -1))
	default:
		var ok bool
		if lo, ok = model.NewDate(*q.Year, time.January, 1); !ok {
			return window{}, invalid(op, "year %d out of range", *q.Year)
		}
		hi, _ = model.NewDate(*q.Year, time.December, 31)
	}

	if q.Hour != nil {
		minute := 0
		if q.Minute != nil {
			minute = *q.Minute
		}
		t := lo.At(*q.Hour, minute)
		if q.IsDeparture {
			return window{from: t, to: endOfDay(lo)}, nil
		}
		return window{from: lo.Time(), to: t}, nil
	}
	return window{from: lo.Time(), to: endOfDay(hi)}, nil
}

func endOfDay(d model.Date) time.Time {
	return d.AddDays(1).Time().Add(-time.Minute)
}

// split cuts w into consecutive pieces of at most days service days, latest
// first when reverse is set. days <= 0 keeps w whole.
func (w window) split(days int, reverse bool) []window {
	if days <= 0 {
		return []window{w}
	}
	var parts []window
	last := model.DateOf(w.to)
	for d := model.DateOf(w.from); !d.After(last); d = d.AddDays(days) {
		p := window{from: d.Time(), to: endOfDay(d.AddDays(days - 1)), floor: w.floor}
		if p.from.Before(w.from) {
			p.from = w.from
		}
		if p.to.After(w.to) {
			p.to = w.to
		}
		parts = append(parts, p)
	}
	if reverse {
		for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
			parts[i], parts[j] = parts[j], parts[i]
		}
	}
	return parts
}

// cacheKey normalizes the query and its resolved window into a string.
func cacheKey(q SearchQuery, win window) string {
	mode := "arr"
	if q.IsDeparture {
		mode = "dep"
	}
	order := "desc"
	if q.Ascending {
		order = "asc"
	}
	return strings.Join([]string{
		q.Origin.String(), q.Destination.String(),
		win.from.Format(time.RFC3339), win.to.Format(time.RFC3339),
		mode, string(q.SortBy), order, fmt.Sprint(q.Limit),
	}, "|")
}

// ─── Time-expanded network ──────────────────────────────────

type visit struct {
	inst int
	stop int
}

type network struct {
	instances  []model.Instance
	departures map[model.Key][]visit // sorted by departure time
	arrivals   map[model.Key][]visit // sorted by arrival time
}

// timetable is the set of running schedules a search expands.
type timetable struct {
	schedules []*model.Schedule
	spanDays  int
}

func (s *SearchService) loadTimetable(ctx context.Context) (*timetable, error) {
	schedules, err := s.schedules.ListSchedules(ctx)
	if err != nil {
		return nil, classifyError("search connections", err)
	}
	trains, err := s.trains.ListTrains(ctx)
	if err != nil {
		return nil, classifyError("search connections", err)
	}
	running := make(map[model.Key]bool, len(trains))
	for _, t := range trains {
		running[t.Key] = t.Status.Runs()
	}

	tt := &timetable{}
	for i := range schedules {
		sch := &schedules[i]
		if !running[sch.TrainKey] {
			continue
		}
		tt.schedules = append(tt.schedules, sch)
		if d := sch.SpanMinutes() / (24 * 60); d > tt.spanDays {
			tt.spanDays = d
		}
	}
	return tt, nil
}

// clip narrows win to the times the timetable can serve. It reports false
// when nothing runs inside win.
func (c *timetable) clip(win window) (window, bool) {
	if len(c.schedules) == 0 {
		return win, false
	}
	from, until := c.schedules[0].ValidFrom, c.schedules[0].ValidUntil
	span := 0
	for _, sch := range c.schedules {
		if sch.ValidFrom.Before(from) {
			from = sch.ValidFrom
		}
		if sch.ValidUntil.After(until) {
			until = sch.ValidUntil
		}
		if m := sch.SpanMinutes(); m > span {
			span = m
		}
	}
	if lo := from.Time(); win.from.Before(lo) {
		win.from = lo
	}
	if hi := endOfDay(until).Add(time.Duration(span) * time.Minute); win.to.After(hi) {
		win.to = hi
	}
	return win, !win.from.After(win.to)
}

// network materializes every instance whose service date can touch win.
func (c *timetable) network(win window) *network {
	first := model.DateOf(win.from).AddDays(-c.spanDays - 1)
	last := model.DateOf(win.to).AddDays(c.spanDays + 1)

	net := &network{
		departures: make(map[model.Key][]visit),
		arrivals:   make(map[model.Key][]visit),
	}
	for _, sch := range c.schedules {
		lo, hi := first, last
		if sch.ValidFrom.After(lo) {
			lo = sch.ValidFrom
		}
		if sch.ValidUntil.Before(hi) {
			hi = sch.ValidUntil
		}
		for d := lo; !d.After(hi); d = d.AddDays(1) {
			idx := len(net.instances)
			net.instances = append(net.instances, model.NewInstance(sch, d))
			for stop, st := range sch.Stops {
				v := visit{inst: idx, stop: stop}
				if stop < len(sch.Stops)-1 {
					net.departures[st.Station] = append(net.departures[st.Station], v)
				}
				if stop > 0 {
					net.arrivals[st.Station] = append(net.arrivals[st.Station], v)
				}
			}
		}
	}

	for _, vs := range net.departures {
		sort.SliceStable(vs, func(i, j int) bool { return net.departure(vs[i]).Before(net.departure(vs[j])) })
	}
	for _, vs := range net.arrivals {
		sort.SliceStable(vs, func(i, j int) bool { return net.arrival(vs[i]).Before(net.arrival(vs[j])) })
	}
	return net
}

func (n *network) departure(v visit) time.Time { return n.instances[v.inst].Departure(v.stop) }
func (n *network) arrival(v visit) time.Time   { return n.instances[v.inst].Arrival(v.stop) }

// legRef is one ride on an instance from stop index `from` to stop index `to`.
type legRef struct {
	inst, from, to int
}

func (n *network) legs(refs []legRef) []model.Leg {
	out := make([]model.Leg, len(refs))
	for i, r := range refs {
		in := n.instances[r.inst]
		stops := in.Schedule.Stops
		out[i] = model.Leg{
			TrainKey:    in.Schedule.TrainKey,
			ScheduleID:  in.Schedule.ID,
			ServiceDate: in.ServiceDate,
			From:        stops[r.from].Station,
			To:          stops[r.to].Station,
			FromIndex:   r.from,
			ToIndex:     r.to,
			Departure:   in.Departure(r.from),
			Arrival:     in.Arrival(r.to),
			DistanceKm:  stops[r.to].DistanceKm - stops[r.from].DistanceKm,
		}
	}
	return out
}

// ─── Label expansion ────────────────────────────────────────

// label is a partial itinerary ending (forward) or starting (backward) at station.
type label struct {
	station model.Key
	at      time.Time
	legs    []legRef
	visited []model.Key
	seq     int
}

type labelQueue struct {
	items    []*label
	earliest bool
}

func (q labelQueue) Len() int { return len(q.items) }
func (q labelQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if !a.at.Equal(b.at) {
		if q.earliest {
			return a.at.Before(b.at)
		}
		return a.at.After(b.at)
	}
	if len(a.legs) != len(b.legs) {
		return len(a.legs) < len(b.legs)
	}
	return a.seq < b.seq
}
func (q labelQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *labelQueue) Push(x interface{}) { q.items = append(q.items, x.(*label)) }

func (q *labelQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	item := old[n-1]
	q.items = old[:n-1]
	return item
}

type enumerator struct {
	net         *network
	origin      model.Key
	destination model.Key
	win         window
	maxChanges  int
	maxResults  int
	maxLabels   int

	queue    labelQueue
	seq      int
	expanded int
	results  [][]legRef
}

func (e *enumerator) push(l *label) {
	e.seq++
	l.seq = e.seq
	heap.Push(&e.queue, l)
}

func (e *enumerator) done() bool {
	return (e.maxResults > 0 && len(e.results) >= e.maxResults) ||
		(e.maxLabels > 0 && e.expanded >= e.maxLabels)
}

// forward expands from the origin in order of arrival time. The first leg
// must depart inside the window; later legs board no earlier than the
// previous leg arrives.
func (e *enumerator) forward() {
	e.queue = labelQueue{earliest: true}
	e.push(&label{station: e.origin, at: e.win.from, visited: []model.Key{e.origin}})

	for e.queue.Len() > 0 && !e.done() {
		l := heap.Pop(&e.queue).(*label)
		e.expanded++
		first := len(l.legs) == 0

		visits := e.net.departures[l.station]
		start := sort.Search(len(visits), func(i int) bool { return !e.net.departure(visits[i]).Before(l.at) })
		boarded := make(map[[2]int64]bool)

		for _, v := range visits[start:] {
			if e.done() {
				return
			}
			if first && e.net.departure(v).After(e.win.to) {
				break
			}
			if usesInstance(l.legs, v.inst) {
				continue
			}
			if !first {
				// Only the next run of each schedule is worth changing to.
				id := [2]int64{e.net.instances[v.inst].Schedule.ID, int64(v.stop)}
				if boarded[id] {
					continue
				}
				boarded[id] = true
			}

			stops := e.net.instances[v.inst].Schedule.Stops
			for j := v.stop + 1; j < len(stops); j++ {
				st := stops[j].Station
				if containsKey(l.visited, st) {
					continue
				}
				ref := legRef{inst: v.inst, from: v.stop, to: j}
				if st == e.destination {
					e.results = append(e.results, appendRef(l.legs, ref))
					break
				}
				if len(l.legs) < e.maxChanges {
					e.push(&label{
						station: st,
						at:      e.net.arrival(visit{inst: v.inst, stop: j}),
						legs:    appendRef(l.legs, ref),
						visited: appendKey(l.visited, st),
					})
				}
			}
		}
	}
}

// backward mirrors forward from the destination in order of latest
// departure. The last leg must arrive inside the window and no leg may
// depart before the window floor.
func (e *enumerator) backward() {
	e.queue = labelQueue{earliest: false}
	e.push(&label{station: e.destination, at: e.win.to, visited: []model.Key{e.destination}})

	for e.queue.Len() > 0 && !e.done() {
		l := heap.Pop(&e.queue).(*label)
		e.expanded++
		last := len(l.legs) == 0

		visits := e.net.arrivals[l.station]
		end := sort.Search(len(visits), func(i int) bool { return e.net.arrival(visits[i]).After(l.at) })
		alighted := make(map[[2]int64]bool)

		for k := end - 1; k >= 0; k-- {
			if e.done() {
				return
			}
			v := visits[k]
			if last && e.net.arrival(v).Before(e.win.from) {
				break
			}
			if usesInstance(l.legs, v.inst) {
				continue
			}
			if !last {
				// Only the latest run of each schedule is worth changing from.
				id := [2]int64{e.net.instances[v.inst].Schedule.ID, int64(v.stop)}
				if alighted[id] {
					continue
				}
				alighted[id] = true
			}

			stops := e.net.instances[v.inst].Schedule.Stops
			for i := v.stop - 1; i >= 0; i-- {
				if !e.win.floor.IsZero() && e.net.departure(visit{inst: v.inst, stop: i}).Before(e.win.floor) {
					break
				}
				st := stops[i].Station
				if containsKey(l.visited, st) {
					continue
				}
				ref := legRef{inst: v.inst, from: i, to: v.stop}
				if st == e.origin {
					e.results = append(e.results, prependRef(ref, l.legs))
					break
				}
				if len(l.legs) < e.maxChanges {
					e.push(&label{
						station: st,
						at:      e.net.departure(visit{inst: v.inst, stop: i}),
						legs:    prependRef(ref, l.legs),
						visited: appendKey(l.visited, st),
					})
				}
			}
		}
	}
}

func usesInstance(refs []legRef, inst int) bool {
	for _, r := range refs {
		if r.inst == inst {
			return true
		}
	}
	return false
}

func containsKey(keys []model.Key, k model.Key) bool {
	for _, v := range keys {
		if v == k {
			return true
		}
	}
	return false
}

func appendRef(refs []legRef, r legRef) []legRef {
	out := make([]legRef, len(refs), len(refs)+1)
	copy(out, refs)
	return append(out, r)
}

func prependRef(r legRef, refs []legRef) []legRef {
	out := make([]legRef, 0, len(refs)+1)
	out = append(out, r)
	return append(out, refs...)
}

func appendKey(keys []model.Key, k model.Key) []model.Key {
	out := make([]model.Key, len(keys), len(keys)+1)
	copy(out, keys)
	return append(out, k)
}

func cloneItineraries(its []model.Itinerary) []model.Itinerary {
	out := make([]model.Itinerary, len(its))
	for i, it := range its {
		out[i] = it
		out[i].Legs = append([]model.Leg(nil), it.Legs...)
	}
	return out
}
