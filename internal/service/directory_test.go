package service

import (
	"context"
	"testing"

	"github.com/shiva/traits/internal/model"
)

func TestValidEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"ada@example.com", true},
		{"first.last+rail@mail.example.org", true},
		{"no-at-sign.example.com", false},
		{"ada@localhost", false},
		{"ada@example.c", false},
		{"@example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidEmail(tt.email); got != tt.want {
			t.Errorf("ValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
}

func TestAddUser(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	must(t, e.AddUser(ctx, "  Ada@Example.com ", map[string]string{"name": "Ada"}))
	wantKind(t, "AddUser(duplicate)", e.AddUser(ctx, "ada@example.com", nil), KindDuplicateKey)
	wantKind(t, "AddUser(bad email)", e.AddUser(ctx, "not-an-email", nil), KindInvalidArgument)
}

func TestTrainLifecycle(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()
	key := model.IntKey(12)

	status, err := e.GetTrainCurrentStatus(ctx, key)
	must(t, err)
	if status != nil {
		t.Errorf("GetTrainCurrentStatus(unknown) = %v, want nil", *status)
	}

	wantKind(t, "AddTrain(capacity 0)", e.AddTrain(ctx, key, 0, model.TrainOperational), KindInvalidArgument)
	wantKind(t, "AddTrain(bad status)", e.AddTrain(ctx, key, 10, "FLYING"), KindInvalidArgument)
	must(t, e.AddTrain(ctx, key, 10, model.TrainOperational))
	wantKind(t, "AddTrain(duplicate)", e.AddTrain(ctx, key, 20, model.TrainDelayed), KindDuplicateKey)

	// Different variant, different train.
	must(t, e.AddTrain(ctx, model.StringKey("12"), 5, model.TrainDelayed))

	status, err = e.GetTrainCurrentStatus(ctx, key)
	must(t, err)
	if status == nil || *status != model.TrainOperational {
		t.Errorf("GetTrainCurrentStatus = %v, want OPERATIONAL", status)
	}

	delayed := model.TrainDelayed
	must(t, e.UpdateTrainDetails(ctx, key, model.TrainUpdate{Status: &delayed}))
	status, _ = e.GetTrainCurrentStatus(ctx, key)
	if status == nil || *status != model.TrainDelayed {
		t.Errorf("status after update = %v, want DELAYED", status)
	}

	must(t, e.CancelTrain(ctx, key))
	status, _ = e.GetTrainCurrentStatus(ctx, key)
	if status == nil || *status != model.TrainBroken {
		t.Errorf("status after CancelTrain = %v, want BROKEN", status)
	}
	wantKind(t, "CancelTrain(unknown)", e.CancelTrain(ctx, model.IntKey(404)), KindNotFound)
}

func TestUpdateTrainDetails_Idempotent(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	ctx := context.Background()
	key := model.StringKey("ICE")
	must(t, e.AddTrain(ctx, key, 10, model.TrainOperational))
	before, err := store.GetTrain(ctx, key)
	must(t, err)

	must(t, e.UpdateTrainDetails(ctx, key, model.TrainUpdate{}))
	after, err := store.GetTrain(ctx, key)
	must(t, err)
	if *before != *after {
		t.Errorf("UpdateTrainDetails(no fields) changed train: %+v → %+v", before, after)
	}

	zero := 0
	wantKind(t, "UpdateTrainDetails(capacity 0)",
		e.UpdateTrainDetails(ctx, key, model.TrainUpdate{Capacity: &zero}), KindInvalidArgument)

	five := 5
	must(t, e.UpdateTrainDetails(ctx, model.StringKey("ghost"), model.TrainUpdate{Capacity: &five}))
}

func TestDeleteTrain_RemovesSchedules(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()
	seedDirect(t, e)

	before, err := e.GetAllSchedules(ctx)
	must(t, err)

	must(t, e.DeleteTrain(ctx, model.StringKey("T")))
	status, err := e.GetTrainCurrentStatus(ctx, model.StringKey("T"))
	must(t, err)
	if status != nil {
		t.Errorf("GetTrainCurrentStatus(deleted) = %v, want nil", *status)
	}
	after, err := e.GetAllSchedules(ctx)
	must(t, err)
	if len(after) != len(before)-1 {
		t.Errorf("schedules after delete = %d, want %d", len(after), len(before)-1)
	}

	must(t, e.DeleteTrain(ctx, model.StringKey("never-added")))
}
