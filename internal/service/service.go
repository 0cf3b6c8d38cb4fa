// Package service implements the caller-facing monitor operations on top of
// the monitor store.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/airwatch/internal/logger"
	"github.com/rewired-gh/airwatch/internal/models"
)

// Store is the monitor store as seen by the service.
type Store interface {
	Create(ctx context.Context, ownerID, locationName string, coords models.Coordinates, seed *models.Reading) (*models.Monitor, error)
	FindActiveByOwnerAndLocation(ctx context.Context, ownerID, locationName string) (*models.Monitor, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Monitor, error)
	Deactivate(ctx context.Context, id, ownerID string) (*models.Monitor, error)
	MarkRead(ctx context.Context, monitorID, ownerID, notificationID string) error
	MarkAllRead(ctx context.Context, ownerID string) error
}

// Service orchestrates monitor lifecycle and notification state.
type Service struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Start returns the owner's active monitor for locationName, creating it
// seeded with initial when none exists. created reports whether this call
// made the monitor. Concurrent starts for the same pair resolve to one
// monitor.
func (s *Service) Start(ctx context.Context, ownerID, locationName string, coords models.Coordinates, initial *models.Reading) (*models.Monitor, bool, error) {
	locationName = strings.TrimSpace(locationName)
	candidate := &models.Monitor{OwnerID: ownerID, LocationName: locationName, Coordinates: coords}
	if err := candidate.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %w", models.ErrInvalid, err)
	}

	existing, err := s.store.FindActiveByOwnerAndLocation(ctx, ownerID, locationName)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		logger.Debug("Monitor already active for owner %s at %s: %s", ownerID, locationName, existing.ID)
		return existing, false, nil
	}

	seed := initial
	if seed != nil && seed.Timestamp.IsZero() {
		stamped := *seed
		stamped.Timestamp = s.now()
		seed = &stamped
	}

	m, err := s.store.Create(ctx, ownerID, locationName, coords, seed)
	if errors.Is(err, models.ErrConflict) {
		// lost a race with a concurrent start; return the winner
		winner, findErr := s.store.FindActiveByOwnerAndLocation(ctx, ownerID, locationName)
		if findErr != nil {
			return nil, false, findErr
		}
		if winner != nil {
			return winner, false, nil
		}
		return nil, false, err
	}
	if err != nil {
		return nil, false, err
	}

	logger.Info("Started monitor %s for owner %s at %s", m.ID, ownerID, locationName)
	return m, true, nil
}

// Stop deactivates the monitor. Stopping a stopped monitor succeeds.
func (s *Service) Stop(ctx context.Context, monitorID, ownerID string) (*models.Monitor, error) {
	m, err := s.store.Deactivate(ctx, monitorID, ownerID)
	if err != nil {
		return nil, err
	}
	logger.Info("Stopped monitor %s for owner %s", monitorID, ownerID)
	return m, nil
}

// List returns all of the owner's monitors, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]*models.Monitor, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

func (s *Service) MarkRead(ctx context.Context, monitorID, ownerID, notificationID string) error {
	return s.store.MarkRead(ctx, monitorID, ownerID, notificationID)
}

// MarkAllRead marks every notification of every owned monitor read,
// stopped monitors included.
func (s *Service) MarkAllRead(ctx context.Context, ownerID string) error {
	return s.store.MarkAllRead(ctx, ownerID)
}
