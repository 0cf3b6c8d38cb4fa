package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Metric names a tracked environmental measurement.
type Metric string

const (
	MetricAQI         Metric = "aqi"
	MetricPM25        Metric = "pm25"
	MetricPM10        Metric = "pm10"
	MetricNO2         Metric = "no2"
	MetricOzone       Metric = "ozone"
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
	MetricWindSpeed   Metric = "windSpeed"
	MetricPollen      Metric = "pollen"
)

// NumericMetrics lists the real-valued metrics in comparison order.
var NumericMetrics = []Metric{
	MetricAQI,
	MetricPM25,
	MetricPM10,
	MetricNO2,
	MetricOzone,
	MetricTemperature,
	MetricHumidity,
	MetricWindSpeed,
}

// PollenLevels is the ordinal scale for pollen, lowest first.
var PollenLevels = []string{"Low", "Moderate", "High"}

// PollenRank returns the position of level in PollenLevels, or -1.
func PollenRank(level string) int {
	for i, l := range PollenLevels {
		if l == level {
			return i
		}
	}
	return -1
}

// IsKnownMetric reports whether name is one of the tracked metrics.
func IsKnownMetric(name string) bool {
	if Metric(name) == MetricPollen {
		return true
	}
	for _, m := range NumericMetrics {
		if string(m) == name {
			return true
		}
	}
	return false
}

// Reading is a snapshot of environmental metrics for one location.
// Absent metrics are nil.
type Reading struct {
	AQI         *float64  `json:"aqi,omitempty"`
	PM25        *float64  `json:"pm25,omitempty"`
	PM10        *float64  `json:"pm10,omitempty"`
	NO2         *float64  `json:"no2,omitempty"`
	Ozone       *float64  `json:"ozone,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	WindSpeed   *float64  `json:"windSpeed,omitempty"`
	Pollen      *string   `json:"pollen,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Number returns the value of a numeric metric and whether it is present.
func (r *Reading) Number(m Metric) (float64, bool) {
	if r == nil {
		return 0, false
	}
	var p *float64
	switch m {
	case MetricAQI:
		p = r.AQI
	case MetricPM25:
		p = r.PM25
	case MetricPM10:
		p = r.PM10
	case MetricNO2:
		p = r.NO2
	case MetricOzone:
		p = r.Ozone
	case MetricTemperature:
		p = r.Temperature
	case MetricHumidity:
		p = r.Humidity
	case MetricWindSpeed:
		p = r.WindSpeed
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Text returns the value of a string metric and whether it is present.
func (r *Reading) Text(m Metric) (string, bool) {
	if r == nil || m != MetricPollen || r.Pollen == nil || *r.Pollen == "" {
		return "", false
	}
	return *r.Pollen, true
}

// Float64 returns a pointer to v, for building readings.
func Float64(v float64) *float64 { return &v }

// String returns a pointer to v, for building readings.
func String(v string) *string { return &v }

// MetricValue holds a metric value that is either a number or a text ordinal.
type MetricValue struct {
	Number float64
	Text   string
	IsText bool
}

// NumberValue wraps a numeric metric value.
func NumberValue(v float64) MetricValue { return MetricValue{Number: v} }

// TextValue wraps a text metric value.
func TextValue(v string) MetricValue { return MetricValue{Text: v, IsText: true} }

// String formats numbers in their shortest decimal form.
func (v MetricValue) String() string {
	if v.IsText {
		return v.Text
	}
	return strconv.FormatFloat(v.Number, 'f', -1, 64)
}

func (v MetricValue) MarshalJSON() ([]byte, error) {
	if v.IsText {
		return json.Marshal(v.Text)
	}
	return json.Marshal(v.Number)
}

func (v *MetricValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = TextValue(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("metric value must be a number or string: %w", err)
	}
	*v = NumberValue(f)
	return nil
}
