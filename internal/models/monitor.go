// Package models defines the core domain entities: monitors, readings, and notifications.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means the target monitor or notification does not exist for the caller.
	ErrNotFound = errors.New("not found")
	// ErrConflict means an active monitor already exists for the owner and location.
	ErrConflict = errors.New("conflict")
	// ErrInvalid means the input failed validation.
	ErrInvalid = errors.New("invalid input")
	// ErrStorage means the persistence layer failed.
	ErrStorage = errors.New("storage error")
	// ErrStale means the monitor was checked again after it was read.
	ErrStale = errors.New("stale monitor")
)

// Coordinates locate a monitored place.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks coordinate ranges.
func (c Coordinates) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 {
		return errors.New("latitude must be between -90 and 90")
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return errors.New("longitude must be between -180 and 180")
	}
	return nil
}

// ChangeType is the direction of a detected change.
type ChangeType string

const (
	Increase ChangeType = "increase"
	Decrease ChangeType = "decrease"
)

// Verb returns the past-tense form used in messages.
func (c ChangeType) Verb() string {
	if c == Increase {
		return "increased"
	}
	return "decreased"
}

// Change is one threshold-significant difference between two readings.
type Change struct {
	Metric     Metric
	ChangeType ChangeType
	OldValue   MetricValue
	NewValue   MetricValue
	Message    string
}

// Notification is a persisted Change owned by a monitor.
// Read is the only field mutated after creation.
type Notification struct {
	ID         string      `json:"id"`
	Metric     Metric      `json:"metric"`
	ChangeType ChangeType  `json:"changeType"`
	OldValue   MetricValue `json:"oldValue"`
	NewValue   MetricValue `json:"newValue"`
	Message    string      `json:"message"`
	Read       bool        `json:"read"`
	Timestamp  time.Time   `json:"timestamp"`
}

// NewNotification creates an unread notification for c at time at.
func NewNotification(c Change, at time.Time) Notification {
	return Notification{
		ID:         uuid.New().String(),
		Metric:     c.Metric,
		ChangeType: c.ChangeType,
		OldValue:   c.OldValue,
		NewValue:   c.NewValue,
		Message:    c.Message,
		Timestamp:  at,
	}
}

// Monitor is one owner's watch on one named location.
type Monitor struct {
	ID            string         `json:"id"`
	OwnerID       string         `json:"ownerId"`
	LocationName  string         `json:"locationName"`
	Coordinates   Coordinates    `json:"coordinates"`
	Active        bool           `json:"active"`
	LastReading   *Reading       `json:"lastReading"`
	Notifications []Notification `json:"notifications"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`

	// Version counts recorded checks; guarded writes compare against it.
	Version int64 `json:"-"`
}

// Validate checks the fields a caller supplies when starting a monitor.
func (m *Monitor) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return errors.New("owner ID must not be empty")
	}
	if strings.TrimSpace(m.LocationName) == "" {
		return errors.New("location name must not be empty")
	}
	if err := m.Coordinates.Validate(); err != nil {
		return err
	}
	return nil
}

// UnreadCount returns the number of unread notifications.
func (m *Monitor) UnreadCount() int {
	n := 0
	for _, notif := range m.Notifications {
		if !notif.Read {
			n++
		}
	}
	return n
}

// FlatNotification is a notification projected with its monitor's identity.
type FlatNotification struct {
	ID           string      `json:"id"`
	MonitorID    string      `json:"monitorId"`
	LocationName string      `json:"locationName"`
	Metric       Metric      `json:"metric"`
	ChangeType   ChangeType  `json:"changeType"`
	OldValue     MetricValue `json:"oldValue"`
	NewValue     MetricValue `json:"newValue"`
	Message      string      `json:"message"`
	Read         bool        `json:"read"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Thresholds maps numeric metrics to the minimum absolute delta that counts
// as significant. Immutable once built.
type Thresholds struct {
	values map[Metric]float64
}

// NewThresholds copies values into an immutable table.
func NewThresholds(values map[string]float64) (Thresholds, error) {
	t := Thresholds{values: make(map[Metric]float64, len(values))}
	for name, v := range values {
		if !IsKnownMetric(name) || Metric(name) == MetricPollen {
			return Thresholds{}, fmt.Errorf("unknown numeric metric %q", name)
		}
		if v < 0 {
			return Thresholds{}, fmt.Errorf("threshold for %s must not be negative", name)
		}
		t.values[Metric(name)] = v
	}
	return t, nil
}

// DefaultThresholds returns the stock per-metric thresholds.
func DefaultThresholds() Thresholds {
	t, _ := NewThresholds(DefaultThresholdValues())
	return t
}

// DefaultThresholdValues returns the stock threshold map.
func DefaultThresholdValues() map[string]float64 {
	return map[string]float64{
		string(MetricAQI):         2,
		string(MetricPM25):        1,
		string(MetricPM10):        2,
		string(MetricNO2):         2,
		string(MetricOzone):       1,
		string(MetricTemperature): 1,
		string(MetricHumidity):    2,
		string(MetricWindSpeed):   1,
	}
}

// For returns the threshold for m, or 0 when none is configured.
func (t Thresholds) For(m Metric) float64 {
	return t.values[m]
}
