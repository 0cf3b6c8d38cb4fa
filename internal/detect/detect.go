// Package detect compares successive readings and reports significant changes.
package detect

import (
	"fmt"
	"math"
	"strings"

	"github.com/rewired-gh/airwatch/internal/models"
)

// Diff returns the changes between prev and curr that meet the thresholds.
// A nil prev reading has no baseline and yields no changes.
// Output follows models.NumericMetrics order with pollen last.
func Diff(prev, curr *models.Reading, thresholds models.Thresholds) []models.Change {
	if prev == nil || curr == nil {
		return nil
	}

	var changes []models.Change
	for _, metric := range models.NumericMetrics {
		oldValue, ok := prev.Number(metric)
		if !ok {
			continue
		}
		newValue, ok := curr.Number(metric)
		if !ok {
			continue
		}
		if c, ok := numericChange(metric, oldValue, newValue, thresholds.For(metric)); ok {
			changes = append(changes, c)
		}
	}

	if c, ok := pollenChange(prev, curr); ok {
		changes = append(changes, c)
	}
	return changes
}

func numericChange(metric models.Metric, oldValue, newValue, threshold float64) (models.Change, bool) {
	delta := math.Abs(newValue - oldValue)
	// equal values never count, even with a zero threshold
	if delta == 0 || delta < threshold {
		return models.Change{}, false
	}

	changeType := getDirection(newValue > oldValue)
	ov, nv := models.NumberValue(oldValue), models.NumberValue(newValue)
	return models.Change{
		Metric:     metric,
		ChangeType: changeType,
		OldValue:   ov,
		NewValue:   nv,
		Message: fmt.Sprintf("%s has %s from %s to %s",
			strings.ToUpper(string(metric)), changeType.Verb(), ov, nv),
	}, true
}

func pollenChange(prev, curr *models.Reading) (models.Change, bool) {
	oldLevel, ok := prev.Text(models.MetricPollen)
	if !ok {
		return models.Change{}, false
	}
	newLevel, ok := curr.Text(models.MetricPollen)
	if !ok {
		return models.Change{}, false
	}

	oldRank, newRank := models.PollenRank(oldLevel), models.PollenRank(newLevel)
	if oldRank == -1 || newRank == -1 || oldRank == newRank {
		return models.Change{}, false
	}

	changeType := getDirection(newRank > oldRank)
	return models.Change{
		Metric:     models.MetricPollen,
		ChangeType: changeType,
		OldValue:   models.TextValue(oldLevel),
		NewValue:   models.TextValue(newLevel),
		Message:    fmt.Sprintf("Pollen levels have %s from %s to %s", changeType.Verb(), oldLevel, newLevel),
	}, true
}

func getDirection(increased bool) models.ChangeType {
	if increased {
		return models.Increase
	}
	return models.Decrease
}
