// Package seed loads a train network from a YAML file and applies it through
// the admin interface. It is used to bootstrap an empty deployment.
//
//	stations:
//	  - key: 1
//	    details: {name: Central}
//	    location: {lat: 52.52, lon: 13.40}
//	connections:
//	  - {from: 1, to: "2", minutes: 20}
//	trains:
//	  - {key: IC1, capacity: 300}
//	schedules:
//	  - train: IC1
//	    start: "08:00"
//	    from: "2024-01-01"
//	    until: "2024-12-31"
//	    stops:
//	      - {station: 1, wait: 5}
//	      - {station: "2", wait: 10}
//	users:
//	  - email: ada@example.com
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/shiva/traits/internal/model"
	"github.com/shiva/traits/internal/service"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ─── File format ────────────────────────────────────────────

// File is the root of a seed document.
type File struct {
	Stations    []Station    `yaml:"stations" validate:"dive"`
	Connections []Connection `yaml:"connections" validate:"dive"`
	Trains      []Train      `yaml:"trains" validate:"dive"`
	Schedules   []Schedule   `yaml:"schedules" validate:"dive"`
	Users       []User       `yaml:"users" validate:"dive"`
}

type Station struct {
	Key      model.Key         `yaml:"key" validate:"required"`
	Details  map[string]string `yaml:"details"`
	Location *model.Location   `yaml:"location"`
}

type Connection struct {
	From    model.Key `yaml:"from" validate:"required"`
	To      model.Key `yaml:"to" validate:"required"`
	Minutes int       `yaml:"minutes" validate:"gt=0"`
}

// Train defaults to OPERATIONAL when status is omitted.
type Train struct {
	Key      model.Key         `yaml:"key" validate:"required"`
	Capacity int               `yaml:"capacity" validate:"gt=0"`
	Status   model.TrainStatus `yaml:"status" validate:"omitempty,oneof=OPERATIONAL DELAYED BROKEN"`
}

// Schedule.Start is the daily departure as HH:MM (UTC).
type Schedule struct {
	Train model.Key        `yaml:"train" validate:"required"`
	Start string           `yaml:"start" validate:"required"`
	From  model.Date       `yaml:"from" validate:"required"`
	Until model.Date       `yaml:"until" validate:"required"`
	Stops []model.StopSpec `yaml:"stops" validate:"min=2,dive"`
}

type User struct {
	Email   string            `yaml:"email" validate:"required,email"`
	Details map[string]string `yaml:"details"`
}

// Summary counts what Apply created.
type Summary struct {
	Stations    int
	Connections int
	Trains      int
	Schedules   int
	Users       int
}

// ─── Loading ────────────────────────────────────────────────

// LoadFile reads and validates the seed file at path.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a seed document and validates every section. Unknown
// fields are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("seed: decode: %w", err)
	}
	if err := validate.Struct(&file); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("seed: field %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("seed: %w", err)
	}
	for i, s := range file.Schedules {
		if _, err := time.Parse("15:04", s.Start); err != nil {
			return nil, fmt.Errorf("seed: schedules[%d].start %q is not HH:MM", i, s.Start)
		}
	}
	return &file, nil
}

// ─── Applying ───────────────────────────────────────────────

// Apply creates the file's entities in dependency order: stations,
// connections, trains, schedules, users. It stops at the first error, so a
// duplicate entry fails the whole run after the entities before it.
func (f *File) Apply(ctx context.Context, admin service.AdminTraits) (Summary, error) {
	var sum Summary

	for _, s := range f.Stations {
		st := model.Station{Key: s.Key, Details: s.Details, Location: s.Location}
		if err := admin.AddTrainStation(ctx, st); err != nil {
			return sum, fmt.Errorf("seed: station %s: %w", s.Key.Display(), err)
		}
		sum.Stations++
	}
	for _, c := range f.Connections {
		if err := admin.ConnectTrainStations(ctx, c.From, c.To, c.Minutes); err != nil {
			return sum, fmt.Errorf("seed: connection %s→%s: %w", c.From.Display(), c.To.Display(), err)
		}
		sum.Connections++
	}
	for _, t := range f.Trains {
		status := t.Status
		if status == "" {
			status = model.TrainOperational
		}
		if err := admin.AddTrain(ctx, t.Key, t.Capacity, status); err != nil {
			return sum, fmt.Errorf("seed: train %s: %w", t.Key.Display(), err)
		}
		sum.Trains++
	}
	for i, s := range f.Schedules {
		start, _ := time.Parse("15:04", s.Start)
		_, err := admin.AddSchedule(ctx, service.ScheduleRequest{
			TrainKey:    s.Train,
			StartHour:   start.Hour(),
			StartMinute: start.Minute(),
			Stops:       s.Stops,
			ValidFrom:   s.From,
			ValidUntil:  s.Until,
		})
		if err != nil {
			return sum, fmt.Errorf("seed: schedules[%d] for train %s: %w", i, s.Train.Display(), err)
		}
		sum.Schedules++
	}
	for _, u := range f.Users {
		if err := admin.AddUser(ctx, u.Email, u.Details); err != nil {
			return sum, fmt.Errorf("seed: user %s: %w", u.Email, err)
		}
		sum.Users++
	}

	log.Printf("[seed] Applied %d stations, %d connections, %d trains, %d schedules, %d users",
		sum.Stations, sum.Connections, sum.Trains, sum.Schedules, sum.Users)
	return sum, nil
}
