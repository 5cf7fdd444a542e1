package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/shiva/traits/internal/model"
	"github.com/shiva/traits/internal/repository"
)

func dayQuery(from, to model.Key, y, m, d int) SearchQuery {
	return SearchQuery{
		Origin: from, Destination: to,
		Year: intp(y), Month: intp(m), Day: intp(d),
		IsDeparture: true,
		SortBy:      model.SortOverallTravelTime,
		Ascending:   true,
		Limit:       10,
	}
}

func TestSearch_DirectScenario(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	seedDirect(t, e)

	its, err := e.SearchConnections(context.Background(), dayQuery(model.IntKey(1), model.StringKey("2"), 2024, 6, 15))
	must(t, err)
	if len(its) != 1 {
		t.Fatalf("SearchConnections = %d itineraries, want 1", len(its))
	}
	it := its[0]
	if it.OverallTravelTime != 20 {
		t.Errorf("OverallTravelTime = %d, want 20", it.OverallTravelTime)
	}
	if it.NumberOfChanges != 0 {
		t.Errorf("NumberOfChanges = %d, want 0", it.NumberOfChanges)
	}
	want := time.Date(2024, time.June, 15, 8, 5, 0, 0, time.UTC)
	if !it.Departure().Equal(want) {
		t.Errorf("Departure = %s, want %s", it.Departure(), want)
	}
	if it.EstimatedPriceCents <= 0 {
		t.Errorf("EstimatedPriceCents = %d, want > 0", it.EstimatedPriceCents)
	}
}

func TestSearch_OutsideValidity(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	seedDirect(t, e)

	its, err := e.SearchConnections(context.Background(), dayQuery(model.IntKey(1), model.StringKey("2"), 2025, 6, 15))
	must(t, err)
	if len(its) != 0 {
		t.Errorf("SearchConnections(2025) = %d itineraries, want 0", len(its))
	}
}

func TestSearch_NoDateUsesHorizon(t *testing.T) {
	e, _ := newTestEngine(t, Options{Search: SearchConfig{
		MaxChanges: 5, HorizonDays: 7, MaxServiceDays: 62, MaxResults: 500, MaxLabels: 50000,
	}})
	seedDirect(t, e)

	its, err := e.SearchConnections(context.Background(), SearchQuery{
		Origin: model.IntKey(1), Destination: model.StringKey("2"),
		IsDeparture: true, SortBy: model.SortOverallTravelTime, Ascending: true, Limit: 100,
	})
	must(t, err)
	if len(its) != 7 {
		t.Fatalf("SearchConnections(no date) = %d itineraries, want 7", len(its))
	}
	for i := 1; i < len(its); i++ {
		if !its[i-1].Departure().Before(its[i].Departure()) {
			t.Errorf("ties not broken by earliest departure at %d: %s then %s",
				i, its[i-1].Departure(), its[i].Departure())
		}
	}
	if got := its[0].Departure(); !got.Equal(time.Date(2024, time.March, 1, 8, 5, 0, 0, time.UTC)) {
		t.Errorf("first departure = %s, want 2024-03-01 08:05", got)
	}
}

func TestSearch_Errors(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	seedDirect(t, e)
	ctx := context.Background()

	q := dayQuery(model.IntKey(1), model.IntKey(1), 2024, 6, 15)
	_, err := e.SearchConnections(ctx, q)
	wantKind(t, "search(A, A)", err, KindInvalidArgument)

	q = dayQuery(model.IntKey(1), model.IntKey(99), 2024, 6, 15)
	_, err = e.SearchConnections(ctx, q)
	wantKind(t, "search(missing station)", err, KindNotFound)

	q = dayQuery(model.IntKey(1), model.StringKey("2"), 2024, 6, 15)
	q.Limit = 0
	_, err = e.SearchConnections(ctx, q)
	wantKind(t, "search(limit 0)", err, KindInvalidArgument)

	q = dayQuery(model.IntKey(1), model.StringKey("2"), 2023, 2, 29)
	_, err = e.SearchConnections(ctx, q)
	wantKind(t, "search(2023-02-29)", err, KindInvalidArgument)

	q = dayQuery(model.IntKey(1), model.StringKey("2"), 2024, 6, 15)
	q.SortBy = "speed"
	_, err = e.SearchConnections(ctx, q)
	wantKind(t, "search(unknown sort)", err, KindInvalidArgument)

	q = SearchQuery{Origin: model.IntKey(1), Destination: model.StringKey("2"), Day: intp(3),
		SortBy: model.SortChanges, Limit: 1}
	_, err = e.SearchConnections(ctx, q)
	wantKind(t, "search(day without month)", err, KindInvalidArgument)
}

func TestSearch_UnreachableIsEmpty(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	seedDirect(t, e)

	its, err := e.SearchConnections(context.Background(), dayQuery(model.StringKey("2"), model.IntKey(1), 2024, 6, 15))
	if err != nil {
		t.Fatalf("SearchConnections(reverse) error = %v, want nil", err)
	}
	if its == nil || len(its) != 0 {
		t.Errorf("SearchConnections(reverse) = %v, want empty non-nil list", its)
	}
}

func TestSearch_EmptyNetwork(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()
	must(t, e.AddTrainStation(ctx, model.Station{Key: model.IntKey(1)}))
	must(t, e.AddTrainStation(ctx, model.Station{Key: model.IntKey(2)}))

	its, err := e.SearchConnections(ctx, dayQuery(model.IntKey(1), model.IntKey(2), 2024, 1, 1))
	must(t, err)
	if len(its) != 0 {
		t.Errorf("SearchConnections(no schedules) = %d itineraries, want 0", len(its))
	}
}

func TestSearch_TransferRanking(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	seedTransfer(t, e)
	ctx := context.Background()
	a, c := model.StringKey("A"), model.StringKey("C")

	tests := []struct {
		sort      model.SortCriterion
		ascending bool
		wantFirst int // number of changes of the first result
	}{
		{model.SortOverallTravelTime, true, 1},
		{model.SortOverallTravelTime, false, 0},
		{model.SortChanges, true, 0},
		{model.SortChanges, false, 1},
		{model.SortWaitingTime, true, 0},
		{model.SortWaitingTime, false, 1},
		{model.SortEstimatedPrice, true, 1},
	}
	for _, tt := range tests {
		q := dayQuery(a, c, 2024, 4, 2)
		q.SortBy, q.Ascending = tt.sort, tt.ascending
		its, err := e.SearchConnections(ctx, q)
		must(t, err)
		if len(its) != 2 {
			t.Fatalf("SearchConnections(%s) = %d itineraries, want 2", tt.sort, len(its))
		}
		if got := its[0].NumberOfChanges; got != tt.wantFirst {
			t.Errorf("SearchConnections(%s, asc=%t) first has %d changes, want %d",
				tt.sort, tt.ascending, got, tt.wantFirst)
		}
	}

	q := dayQuery(a, c, 2024, 4, 2)
	its, err := e.SearchConnections(ctx, q)
	must(t, err)
	transfer := its[0]
	if transfer.OverallTravelTime != 80 || transfer.WaitingTime != 30 {
		t.Errorf("transfer itinerary ott/wt = %d/%d, want 80/30", transfer.OverallTravelTime, transfer.WaitingTime)
	}
	if transfer.Legs[0].To != model.StringKey("B") || transfer.Legs[1].From != model.StringKey("B") {
		t.Errorf("transfer legs do not meet at B: %v", transfer.Legs)
	}
}

func TestSearch_ArrivalMode(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	seedTransfer(t, e)
	ctx := context.Background()

	q := dayQuery(model.StringKey("A"), model.StringKey("C"), 2024, 4, 2)
	q.IsDeparture = false
	q.Hour, q.Minute = intp(10), intp(0)
	its, err := e.SearchConnections(ctx, q)
	must(t, err)
	if len(its) != 2 {
		t.Fatalf("arrive by 10:00 = %d itineraries, want 2", len(its))
	}

	q.Hour, q.Minute = intp(9), intp(30)
	its, err = e.SearchConnections(ctx, q)
	must(t, err)
	if len(its) != 1 {
		t.Fatalf("arrive by 09:30 = %d itineraries, want 1", len(its))
	}
	if its[0].NumberOfChanges != 1 {
		t.Errorf("arrive by 09:30 picked %d changes, want the transfer", its[0].NumberOfChanges)
	}
	if got := its[0].Arrival(); !got.Equal(time.Date(2024, time.April, 2, 9, 20, 0, 0, time.UTC)) {
		t.Errorf("arrival = %s, want 09:20", got)
	}
}

func TestSearch_MaxChangesZero(t *testing.T) {
	e, _ := newTestEngine(t, Options{Search: SearchConfig{
		MaxChanges: 0, HorizonDays: 30, MaxServiceDays: 62, MaxResults: 500, MaxLabels: 50000,
	}})
	seedTransfer(t, e)

	its, err := e.SearchConnections(context.Background(), dayQuery(model.StringKey("A"), model.StringKey("C"), 2024, 4, 2))
	must(t, err)
	if len(its) != 1 || its[0].NumberOfChanges != 0 {
		t.Errorf("SearchConnections(max changes 0) = %d itineraries, want only the direct one", len(its))
	}
}

func TestSearch_LimitTruncates(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	seedTransfer(t, e)

	q := dayQuery(model.StringKey("A"), model.StringKey("C"), 2024, 4, 2)
	q.Limit = 1
	its, err := e.SearchConnections(context.Background(), q)
	must(t, err)
	if len(its) != 1 {
		t.Errorf("SearchConnections(limit 1) = %d itineraries, want 1", len(its))
	}
}

func TestSearch_CancelledTrainSkippedAndCacheInvalidated(t *testing.T) {
	cache := repository.NewLocalSearchCache(64, time.Minute)
	e, _ := newTestEngine(t, Options{Cache: cache})
	seedTransfer(t, e)
	ctx := context.Background()
	q := dayQuery(model.StringKey("A"), model.StringKey("C"), 2024, 4, 2)

	its, err := e.SearchConnections(ctx, q)
	must(t, err)
	if len(its) != 2 {
		t.Fatalf("before cancel = %d itineraries, want 2", len(its))
	}

	must(t, e.CancelTrain(ctx, model.StringKey("Z")))
	its, err = e.SearchConnections(ctx, q)
	must(t, err)
	if len(its) != 1 || its[0].NumberOfChanges != 1 {
		t.Fatalf("after cancelling Z = %d itineraries, want only the transfer", len(its))
	}

	must(t, e.ResumeTrain(ctx, model.StringKey("Z")))
	its, err = e.SearchConnections(ctx, q)
	must(t, err)
	if len(its) != 2 {
		t.Errorf("after resuming Z = %d itineraries, want 2", len(its))
	}
}

func TestSearch_ResultsAreIndependentCopies(t *testing.T) {
	cache := repository.NewLocalSearchCache(64, time.Minute)
	e, _ := newTestEngine(t, Options{Cache: cache})
	seedDirect(t, e)
	ctx := context.Background()
	q := dayQuery(model.IntKey(1), model.StringKey("2"), 2024, 6, 15)

	first, err := e.SearchConnections(ctx, q)
	must(t, err)
	first[0].Legs[0].PriceCents = -1

	second, err := e.SearchConnections(ctx, q)
	must(t, err)
	if second[0].Legs[0].PriceCents == -1 {
		t.Errorf("cached result shares legs with an earlier caller")
	}
}

// seedJune builds 1 → "2" served by train "J" at 08:00 during June 2024 only.
func seedJune(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	must(t, e.AddTrainStation(ctx, model.Station{Key: model.IntKey(1)}))
	must(t, e.AddTrainStation(ctx, model.Station{Key: model.StringKey("2")}))
	must(t, e.ConnectTrainStations(ctx, model.IntKey(1), model.StringKey("2"), 20))
	must(t, e.AddTrain(ctx, model.StringKey("J"), 100, model.TrainOperational))
	_, err := e.AddSchedule(ctx, ScheduleRequest{
		TrainKey:  model.StringKey("J"),
		StartHour: 8,
		Stops: []model.StopSpec{
			{Station: model.IntKey(1)},
			{Station: model.StringKey("2")},
		},
		ValidFrom:  mustDate(t, 2024, time.June, 1),
		ValidUntil: mustDate(t, 2024, time.June, 30),
	})
	must(t, err)
}

func TestSearch_YearFilterCoversWholeYear(t *testing.T) {
	tests := []struct {
		name        string
		serviceDays int
		departure   bool
	}{
		{"departure", 62, true},
		{"arrival", 62, false},
		{"departure in weekly steps", 7, true},
		{"arrival in weekly steps", 7, false},
		{"departure in one step", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t, Options{Search: SearchConfig{
				MaxChanges: 5, HorizonDays: 30, MaxServiceDays: tt.serviceDays, MaxResults: 500, MaxLabels: 50000,
			}})
			seedJune(t, e)

			its, err := e.SearchConnections(context.Background(), SearchQuery{
				Origin: model.IntKey(1), Destination: model.StringKey("2"),
				Year:        intp(2024),
				IsDeparture: tt.departure,
				SortBy:      model.SortOverallTravelTime, Ascending: true, Limit: 100,
			})
			must(t, err)
			if len(its) != 30 {
				t.Fatalf("SearchConnections(year 2024) = %d itineraries, want 30", len(its))
			}
			if got, want := its[0].Departure(), time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC); !got.Equal(want) {
				t.Errorf("first departure = %s, want %s", got, want)
			}
		})
	}
}

func TestSearch_YearFilterStopsAtResultBudget(t *testing.T) {
	e, _ := newTestEngine(t, Options{Search: SearchConfig{
		MaxChanges: 5, HorizonDays: 30, MaxServiceDays: 7, MaxResults: 10, MaxLabels: 50000,
	}})
	seedDirect(t, e)

	its, err := e.SearchConnections(context.Background(), SearchQuery{
		Origin: model.IntKey(1), Destination: model.StringKey("2"),
		Year:        intp(2024),
		IsDeparture: true,
		SortBy:      model.SortOverallTravelTime, Ascending: true, Limit: 100,
	})
	must(t, err)
	if len(its) != 10 {
		t.Fatalf("SearchConnections(year 2024, budget 10) = %d itineraries, want 10", len(its))
	}
	if got, want := its[9].Departure(), time.Date(2024, time.January, 10, 8, 5, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("last departure = %s, want the earliest ten days to be used (%s)", got, want)
	}
}

func TestSearch_ArrivalModeWithoutDateDepartsAfterNow(t *testing.T) {
	// X has already left A at 08:00; only Z (08:10) can still be boarded.
	now := time.Date(2024, time.April, 2, 8, 5, 0, 0, time.UTC)
	e, _ := newTestEngine(t, Options{
		Now: func() time.Time { return now },
		Search: SearchConfig{
			MaxChanges: 5, HorizonDays: 1, MaxServiceDays: 62, MaxResults: 500, MaxLabels: 50000,
		},
	})
	seedTransfer(t, e)

	its, err := e.SearchConnections(context.Background(), SearchQuery{
		Origin: model.StringKey("A"), Destination: model.StringKey("C"),
		IsDeparture: false,
		SortBy:      model.SortOverallTravelTime, Ascending: true, Limit: 10,
	})
	must(t, err)
	for _, it := range its {
		if it.Departure().Before(now) {
			t.Errorf("itinerary departs at %s, before now (%s)", it.Departure(), now)
		}
	}
	if len(its) != 1 || its[0].Legs[0].TrainKey != model.StringKey("Z") {
		t.Fatalf("SearchConnections(arrival, no date) = %d itineraries, want only train Z", len(its))
	}
}

// gatedCache holds the first Set until release is closed.
type gatedCache struct {
	SearchCache
	once    sync.Once
	setting chan struct{}
	release chan struct{}
}

func newGatedCache(inner SearchCache) *gatedCache {
	return &gatedCache{SearchCache: inner, setting: make(chan struct{}), release: make(chan struct{})}
}

func (c *gatedCache) Set(ctx context.Context, gen int64, key string, its []model.Itinerary) {
	c.once.Do(func() { close(c.setting) })
	<-c.release
	c.SearchCache.Set(ctx, gen, key, its)
}

func TestSearch_DeleteDuringSearchIsNotCached(t *testing.T) {
	caches := map[string]func(t *testing.T) SearchCache{
		"local": func(t *testing.T) SearchCache {
			return repository.NewLocalSearchCache(64, time.Minute)
		},
		"redis": func(t *testing.T) SearchCache {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return repository.NewRedisSearchCache(client, time.Minute)
		},
	}
	for name, newCache := range caches {
		t.Run(name, func(t *testing.T) {
			cache := newGatedCache(newCache(t))
			e, _ := newTestEngine(t, Options{Cache: cache})
			seedDirect(t, e)
			ctx := context.Background()
			q := dayQuery(model.IntKey(1), model.StringKey("2"), 2024, 6, 15)

			done := make(chan error, 1)
			go func() {
				its, err := e.SearchConnections(ctx, q)
				if err == nil && len(its) != 1 {
					err = fmt.Errorf("search before delete = %d itineraries, want 1", len(its))
				}
				done <- err
			}()

			<-cache.setting
			must(t, e.DeleteTrain(ctx, model.StringKey("T")))
			close(cache.release)
			must(t, <-done)

			its, err := e.SearchConnections(ctx, q)
			must(t, err)
			if len(its) != 0 {
				t.Errorf("search after DeleteTrain = %d itineraries, want 0", len(its))
			}
		})
	}
}
