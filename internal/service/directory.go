package service

import (
	"context"
	"errors"
	"log"

	"github.com/shiva/traits/internal/model"
)

// DirectoryService manages users and trains.
type DirectoryService struct {
	store DirectoryStore
}

// NewDirectoryService creates a directory service.
func NewDirectoryService(store DirectoryStore) *DirectoryService {
	return &DirectoryService{store: store}
}

// ─── Users ──────────────────────────────────────────────────

// AddUser registers a user. The email is trimmed and lower-cased first.
func (s *DirectoryService) AddUser(ctx context.Context, email string, details map[string]string) error {
	const op = "add user"
	email = NormalizeEmail(email)
	if !ValidEmail(email) {
		return invalid(op, "%q is not a valid email address", email)
	}
	if err := s.store.AddUser(ctx, model.User{Email: email, Details: details}); err != nil {
		err = classifyError(op, err)
		if errors.Is(err, ErrDuplicateKey) {
			return duplicate(op, "user %s already exists", email)
		}
		return err
	}
	log.Printf("[directory] Added user %s", email)
	return nil
}

// DeleteUser removes the user with their tickets and reservations.
// Unknown users are ignored.
func (s *DirectoryService) DeleteUser(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if err := s.store.DeleteUser(ctx, email); err != nil {
		return classifyError("delete user", err)
	}
	log.Printf("[directory] Deleted user %s", email)
	return nil
}

// ─── Trains ─────────────────────────────────────────────────

// AddTrain registers a train.
func (s *DirectoryService) AddTrain(ctx context.Context, key model.Key, capacity int, status model.TrainStatus) error {
	const op = "add train"
	if key.IsZero() {
		return invalid(op, "train key is required")
	}
	if capacity <= 0 {
		return invalid(op, "capacity must be positive, got %d", capacity)
	}
	if !status.Valid() {
		return invalid(op, "unknown train status %q", status)
	}
	if err := s.store.AddTrain(ctx, model.Train{Key: key, Capacity: capacity, Status: status}); err != nil {
		err = classifyError(op, err)
		if errors.Is(err, ErrDuplicateKey) {
			return duplicate(op, "train %s already exists", key.Display())
		}
		return err
	}
	log.Printf("[directory] Added train %s (capacity %d, %s)", key.Display(), capacity, status)
	return nil
}

// UpdateTrainDetails applies the non-nil fields of upd. Unknown trains and
// empty updates leave the store untouched.
func (s *DirectoryService) UpdateTrainDetails(ctx context.Context, key model.Key, upd model.TrainUpdate) error {
	const op = "update train"
	if upd.Capacity == nil && upd.Status == nil {
		return nil
	}
	if upd.Capacity != nil && *upd.Capacity <= 0 {
		return invalid(op, "capacity must be positive, got %d", *upd.Capacity)
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return invalid(op, "unknown train status %q", *upd.Status)
	}

	t, err := s.store.UpdateTrain(ctx, key, upd)
	if err != nil {
		err = classifyError(op, err)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	log.Printf("[directory] Updated train %s: capacity %d, %s", key.Display(), t.Capacity, t.Status)
	return nil
}

// SetTrainStatus changes the status of an existing train.
func (s *DirectoryService) SetTrainStatus(ctx context.Context, key model.Key, status model.TrainStatus) error {
	const op = "set train status"
	if _, err := s.store.UpdateTrain(ctx, key, model.TrainUpdate{Status: &status}); err != nil {
		err = classifyError(op, err)
		if errors.Is(err, ErrNotFound) {
			return notFound(op, "train %s does not exist", key.Display())
		}
		return err
	}
	log.Printf("[directory] Train %s is now %s", key.Display(), status)
	return nil
}

// DeleteTrain removes the train, its schedules, and every ticket that rides it.
// Unknown trains are ignored.
func (s *DirectoryService) DeleteTrain(ctx context.Context, key model.Key) error {
	if err := s.store.DeleteTrain(ctx, key); err != nil {
		return classifyError("delete train", err)
	}
	log.Printf("[directory] Deleted train %s", key.Display())
	return nil
}

// TrainStatus returns the status of a train, or nil for unknown trains.
func (s *DirectoryService) TrainStatus(ctx context.Context, key model.Key) (*model.TrainStatus, error) {
	t, err := s.store.GetTrain(ctx, key)
	if err != nil {
		err = classifyError("train status", err)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t.Status, nil
}
