package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMonitorValidate(t *testing.T) {
	tests := []struct {
		name    string
		monitor Monitor
		wantErr bool
	}{
		{
			name: "valid monitor",
			monitor: Monitor{
				OwnerID:      "user-1",
				LocationName: "Lagos",
				Coordinates:  Coordinates{Latitude: 6.52, Longitude: 3.37},
			},
			wantErr: false,
		},
		{
			name: "empty owner",
			monitor: Monitor{
				LocationName: "Lagos",
				Coordinates:  Coordinates{Latitude: 6.52, Longitude: 3.37},
			},
			wantErr: true,
		},
		{
			name: "blank location name",
			monitor: Monitor{
				OwnerID:      "user-1",
				LocationName: "   ",
				Coordinates:  Coordinates{Latitude: 6.52, Longitude: 3.37},
			},
			wantErr: true,
		},
		{
			name: "latitude out of range",
			monitor: Monitor{
				OwnerID:      "user-1",
				LocationName: "Nowhere",
				Coordinates:  Coordinates{Latitude: 91, Longitude: 0},
			},
			wantErr: true,
		},
		{
			name: "longitude out of range",
			monitor: Monitor{
				OwnerID:      "user-1",
				LocationName: "Nowhere",
				Coordinates:  Coordinates{Latitude: 0, Longitude: -180.5},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.monitor.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Monitor.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReadingAccessors(t *testing.T) {
	r := &Reading{AQI: Float64(40), Pollen: String("Low")}

	if v, ok := r.Number(MetricAQI); !ok || v != 40 {
		t.Errorf("Number(aqi) = %v, %v; want 40, true", v, ok)
	}
	if _, ok := r.Number(MetricPM25); ok {
		t.Error("Number(pm25) should be absent")
	}
	if v, ok := r.Text(MetricPollen); !ok || v != "Low" {
		t.Errorf("Text(pollen) = %q, %v; want Low, true", v, ok)
	}

	var nilReading *Reading
	if _, ok := nilReading.Number(MetricAQI); ok {
		t.Error("nil reading should report every metric absent")
	}
}

func TestMetricValueJSON(t *testing.T) {
	tests := []struct {
		value MetricValue
		want  string
	}{
		{NumberValue(40), `40`},
		{NumberValue(12.5), `12.5`},
		{TextValue("High"), `"High"`},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			data, err := json.Marshal(tt.value)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Marshal = %s, want %s", data, tt.want)
			}
			var back MetricValue
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if back != tt.value {
				t.Errorf("Unmarshal = %+v, want %+v", back, tt.value)
			}
		})
	}
}

func TestMetricValueString(t *testing.T) {
	if got := NumberValue(43).String(); got != "43" {
		t.Errorf("got %q, want 43", got)
	}
	if got := NumberValue(0.25).String(); got != "0.25" {
		t.Errorf("got %q, want 0.25", got)
	}
}

func TestNewThresholds(t *testing.T) {
	if _, err := NewThresholds(map[string]float64{"aqi": -1}); err == nil {
		t.Error("expected error for negative threshold")
	}
	if _, err := NewThresholds(map[string]float64{"pollen": 1}); err == nil {
		t.Error("expected error for pollen threshold")
	}
	if _, err := NewThresholds(map[string]float64{"radon": 1}); err == nil {
		t.Error("expected error for unknown metric")
	}

	src := map[string]float64{"aqi": 3}
	th, err := NewThresholds(src)
	if err != nil {
		t.Fatalf("NewThresholds: %v", err)
	}
	src["aqi"] = 99
	if th.For(MetricAQI) != 3 {
		t.Errorf("thresholds must not alias the source map, got %v", th.For(MetricAQI))
	}
	if th.For(MetricPM10) != 0 {
		t.Errorf("unset metric should default to 0, got %v", th.For(MetricPM10))
	}
}

func TestNewNotification(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := Change{Metric: MetricAQI, ChangeType: Increase, OldValue: NumberValue(1), NewValue: NumberValue(5), Message: "m"}

	a := NewNotification(c, at)
	b := NewNotification(c, at)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("notifications need distinct ids, got %q and %q", a.ID, b.ID)
	}
	if a.Read {
		t.Error("new notifications must be unread")
	}
	if !a.Timestamp.Equal(at) {
		t.Errorf("timestamp = %v, want %v", a.Timestamp, at)
	}
}

func TestMonitorUnreadCount(t *testing.T) {
	m := Monitor{Notifications: []Notification{{Read: true}, {}, {}}}
	if got := m.UnreadCount(); got != 2 {
		t.Errorf("UnreadCount() = %d, want 2", got)
	}
}
