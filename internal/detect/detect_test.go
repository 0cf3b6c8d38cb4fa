package detect

import (
	"testing"

	"github.com/rewired-gh/airwatch/internal/models"
)

func thresholds(t *testing.T, values map[string]float64) models.Thresholds {
	t.Helper()
	th, err := models.NewThresholds(values)
	if err != nil {
		t.Fatalf("NewThresholds: %v", err)
	}
	return th
}

func TestDiff_AQIIncrease(t *testing.T) {
	prev := &models.Reading{AQI: models.Float64(40), PM25: models.Float64(10)}
	curr := &models.Reading{AQI: models.Float64(43), PM25: models.Float64(10)}

	changes := Diff(prev, curr, thresholds(t, map[string]float64{"aqi": 2, "pm25": 1}))
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d: %+v", len(changes), changes)
	}
	c := changes[0]
	if c.Metric != models.MetricAQI {
		t.Errorf("metric = %s, want aqi", c.Metric)
	}
	if c.ChangeType != models.Increase {
		t.Errorf("change type = %s, want increase", c.ChangeType)
	}
	if c.OldValue != models.NumberValue(40) || c.NewValue != models.NumberValue(43) {
		t.Errorf("values = %v -> %v, want 40 -> 43", c.OldValue, c.NewValue)
	}
	if c.Message != "AQI has increased from 40 to 43" {
		t.Errorf("message = %q", c.Message)
	}
}

func TestDiff_PollenIncrease(t *testing.T) {
	prev := &models.Reading{Pollen: models.String("Low")}
	curr := &models.Reading{Pollen: models.String("High")}

	changes := Diff(prev, curr, models.DefaultThresholds())
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	c := changes[0]
	if c.Metric != models.MetricPollen || c.ChangeType != models.Increase {
		t.Errorf("got %s %s, want pollen increase", c.Metric, c.ChangeType)
	}
	if c.Message != "Pollen levels have increased from Low to High" {
		t.Errorf("message = %q", c.Message)
	}
	if c.OldValue != models.TextValue("Low") || c.NewValue != models.TextValue("High") {
		t.Errorf("values = %v -> %v", c.OldValue, c.NewValue)
	}
}

func TestDiff_NilBaseline(t *testing.T) {
	curr := &models.Reading{AQI: models.Float64(400), Pollen: models.String("High")}
	if changes := Diff(nil, curr, models.DefaultThresholds()); len(changes) != 0 {
		t.Errorf("expected no changes without a baseline, got %+v", changes)
	}
}

func TestDiff_Cases(t *testing.T) {
	tests := []struct {
		name       string
		prev       *models.Reading
		curr       *models.Reading
		thresholds map[string]float64
		want       []models.Metric
		wantTypes  []models.ChangeType
	}{
		{
			name:       "below threshold",
			prev:       &models.Reading{AQI: models.Float64(40)},
			curr:       &models.Reading{AQI: models.Float64(41)},
			thresholds: map[string]float64{"aqi": 2},
		},
		{
			name:       "exactly at threshold counts",
			prev:       &models.Reading{PM10: models.Float64(20)},
			curr:       &models.Reading{PM10: models.Float64(18)},
			thresholds: map[string]float64{"pm10": 2},
			want:       []models.Metric{models.MetricPM10},
			wantTypes:  []models.ChangeType{models.Decrease},
		},
		{
			name:       "equal values with zero threshold",
			prev:       &models.Reading{Humidity: models.Float64(55)},
			curr:       &models.Reading{Humidity: models.Float64(55)},
			thresholds: map[string]float64{"humidity": 0},
		},
		{
			name:       "unset threshold means any change",
			prev:       &models.Reading{NO2: models.Float64(1)},
			curr:       &models.Reading{NO2: models.Float64(1.1)},
			thresholds: map[string]float64{},
			want:       []models.Metric{models.MetricNO2},
			wantTypes:  []models.ChangeType{models.Increase},
		},
		{
			name:       "metric missing from new reading",
			prev:       &models.Reading{Ozone: models.Float64(10), AQI: models.Float64(10)},
			curr:       &models.Reading{AQI: models.Float64(10)},
			thresholds: map[string]float64{"ozone": 1},
		},
		{
			name:       "metric missing from old reading",
			prev:       &models.Reading{},
			curr:       &models.Reading{Temperature: models.Float64(30)},
			thresholds: map[string]float64{"temperature": 1},
		},
		{
			name:       "unrecognized pollen level",
			prev:       &models.Reading{Pollen: models.String("Low")},
			curr:       &models.Reading{Pollen: models.String("Extreme")},
			thresholds: map[string]float64{},
		},
		{
			name:       "pollen case sensitive",
			prev:       &models.Reading{Pollen: models.String("low")},
			curr:       &models.Reading{Pollen: models.String("High")},
			thresholds: map[string]float64{},
		},
		{
			name:       "pollen unchanged",
			prev:       &models.Reading{Pollen: models.String("Moderate")},
			curr:       &models.Reading{Pollen: models.String("Moderate")},
			thresholds: map[string]float64{},
		},
		{
			name: "fixed output order",
			prev: &models.Reading{
				AQI: models.Float64(10), WindSpeed: models.Float64(2), Temperature: models.Float64(20),
				Pollen: models.String("High"),
			},
			curr: &models.Reading{
				AQI: models.Float64(5), WindSpeed: models.Float64(8), Temperature: models.Float64(25),
				Pollen: models.String("Moderate"),
			},
			thresholds: map[string]float64{"aqi": 2, "temperature": 1, "windSpeed": 1},
			want: []models.Metric{
				models.MetricAQI, models.MetricTemperature, models.MetricWindSpeed, models.MetricPollen,
			},
			wantTypes: []models.ChangeType{
				models.Decrease, models.Increase, models.Increase, models.Decrease,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes := Diff(tt.prev, tt.curr, thresholds(t, tt.thresholds))
			if len(changes) != len(tt.want) {
				t.Fatalf("got %d changes %+v, want %d", len(changes), changes, len(tt.want))
			}
			for i, c := range changes {
				if c.Metric != tt.want[i] {
					t.Errorf("change %d metric = %s, want %s", i, c.Metric, tt.want[i])
				}
				if c.ChangeType != tt.wantTypes[i] {
					t.Errorf("change %d type = %s, want %s", i, c.ChangeType, tt.wantTypes[i])
				}
			}
		})
	}
}

func TestDiff_DecreaseMessage(t *testing.T) {
	prev := &models.Reading{WindSpeed: models.Float64(12.5)}
	curr := &models.Reading{WindSpeed: models.Float64(3)}

	changes := Diff(prev, curr, models.DefaultThresholds())
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	if want := "WINDSPEED has decreased from 12.5 to 3"; changes[0].Message != want {
		t.Errorf("message = %q, want %q", changes[0].Message, want)
	}
}

func TestDiff_DoesNotMutateInputs(t *testing.T) {
	prev := &models.Reading{AQI: models.Float64(1)}
	curr := &models.Reading{AQI: models.Float64(9)}
	Diff(prev, curr, models.DefaultThresholds())
	if *prev.AQI != 1 || *curr.AQI != 9 {
		t.Error("Diff must not modify its inputs")
	}
}
