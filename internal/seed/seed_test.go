package seed

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shiva/traits/internal/model"
	"github.com/shiva/traits/internal/repository/memory"
	"github.com/shiva/traits/internal/service"
)

const network = `
stations:
  - key: 1
    details: {name: Central}
    location: {lat: 52.52, lon: 13.40}
  - key: "2"
    location: {lat: 52.39, lon: 13.06}
connections:
  - {from: 1, to: "2", minutes: 20}
trains:
  - {key: IC1, capacity: 300}
  - {key: RE7, capacity: 80, status: DELAYED}
schedules:
  - train: IC1
    start: "08:30"
    from: "2024-01-01"
    until: "2024-12-31"
    stops:
      - {station: 1, wait: 5}
      - {station: "2", wait: 10}
users:
  - email: Ada@Example.com
    details: {name: Ada}
`

func newEngine() *service.Engine {
	store := memory.NewStore()
	return service.NewEngine(service.Stores{
		Topology:  memory.NewTopology(),
		Directory: store,
		Schedules: store,
		Tickets:   store,
	}, service.Options{
		Now: func() time.Time { return time.Date(2024, time.March, 1, 6, 0, 0, 0, time.UTC) },
	})
}

func TestParseAndApply(t *testing.T) {
	file, err := Parse(strings.NewReader(network))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := file.Stations[0].Key; got != model.IntKey(1) {
		t.Errorf("stations[0].key = %v, want integer key 1", got)
	}
	if got := file.Stations[1].Key; got != model.StringKey("2") {
		t.Errorf("stations[1].key = %v, want string key \"2\"", got)
	}

	ctx := context.Background()
	e := newEngine()
	sum, err := file.Apply(ctx, e)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	want := Summary{Stations: 2, Connections: 1, Trains: 2, Schedules: 1, Users: 1}
	if sum != want {
		t.Errorf("Apply() = %+v, want %+v", sum, want)
	}

	schedules, err := e.GetAllSchedules(ctx)
	if err != nil || len(schedules) != 1 {
		t.Fatalf("GetAllSchedules() = %d, %v, want 1 schedule", len(schedules), err)
	}
	if s := schedules[0]; s.StartHour != 8 || s.StartMinute != 30 {
		t.Errorf("schedule start = %02d:%02d, want 08:30", s.StartHour, s.StartMinute)
	}
	if d := schedules[0].Stops[1].DistanceKm; d <= 0 {
		t.Errorf("distance to second stop = %v, want > 0", d)
	}

	status, err := e.GetTrainCurrentStatus(ctx, model.StringKey("IC1"))
	if err != nil || status == nil || *status != model.TrainOperational {
		t.Errorf("IC1 status = %v, %v, want OPERATIONAL", status, err)
	}
	status, _ = e.GetTrainCurrentStatus(ctx, model.StringKey("RE7"))
	if status == nil || *status != model.TrainDelayed {
		t.Errorf("RE7 status = %v, want DELAYED", status)
	}

	history, err := e.GetPurchaseHistory(ctx, "ada@example.com")
	if err != nil || history == nil {
		t.Errorf("GetPurchaseHistory() = %v, %v, want empty list", history, err)
	}

	// A second run hits the first duplicate and stops there.
	sum, err = file.Apply(ctx, e)
	if service.KindOf(err) != service.KindDuplicateKey {
		t.Errorf("second Apply() error = %v, want duplicate key", err)
	}
	if sum.Stations != 0 {
		t.Errorf("second Apply() created %d stations, want 0", sum.Stations)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "stations:\n  - {key: 1, colour: red}\n"},
		{"zero capacity", "trains:\n  - {key: T, capacity: 0}\n"},
		{"bad status", "trains:\n  - {key: T, capacity: 5, status: LATE}\n"},
		{"bad email", "users:\n  - email: nope\n"},
		{"zero minutes", "connections:\n  - {from: 1, to: 2, minutes: 0}\n"},
		{"one stop", `schedules:
  - train: T
    start: "08:00"
    from: "2024-01-01"
    until: "2024-01-31"
    stops:
      - {station: 1}
`},
		{"bad start", `schedules:
  - train: T
    start: "8 o'clock"
    from: "2024-01-01"
    until: "2024-01-31"
    stops:
      - {station: 1}
      - {station: 2}
`},
		{"bad date", `schedules:
  - train: T
    start: "08:00"
    from: "2024-02-30"
    until: "2024-03-31"
    stops:
      - {station: 1}
      - {station: 2}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.doc)); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tt.name)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	file, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse(\"\") error = %v", err)
	}
	sum, err := file.Apply(context.Background(), newEngine())
	if err != nil || sum != (Summary{}) {
		t.Errorf("Apply() on empty file = %+v, %v, want nothing", sum, err)
	}
}
