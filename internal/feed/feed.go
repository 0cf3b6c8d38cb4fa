// Package feed exposes an owner's notifications across all monitors as one
// newest-first stream.
package feed

import (
	"context"
	"sort"

	"github.com/rewired-gh/airwatch/internal/models"
)

// MaxLimit caps a single page.
const MaxLimit = 500

// MonitorLister is the read side of the monitor store.
type MonitorLister interface {
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Monitor, error)
}

// Page selects a window of the feed. Limits outside 1..MaxLimit mean MaxLimit.
type Page struct {
	Limit  int
	Offset int
}

// Feed reads notifications for owners.
type Feed struct {
	store MonitorLister
}

// New creates a Feed backed by store.
func New(store MonitorLister) *Feed {
	return &Feed{store: store}
}

// UnreadCount sums unread notifications across all of the owner's monitors,
// active or stopped.
func (f *Feed) UnreadCount(ctx context.Context, ownerID string) (int, error) {
	monitors, err := f.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, m := range monitors {
		total += m.UnreadCount()
	}
	return total, nil
}

// List returns one page of the owner's flattened notifications, newest first,
// together with the total number available.
func (f *Feed) List(ctx context.Context, ownerID string, page Page) ([]models.FlatNotification, int, error) {
	monitors, err := f.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, 0, err
	}

	all := Flatten(monitors)
	total := len(all)
	return paginate(all, page), total, nil
}

// Flatten projects every notification of monitors into one slice sorted by
// timestamp descending. Ties keep their original order.
func Flatten(monitors []*models.Monitor) []models.FlatNotification {
	var all []models.FlatNotification
	for _, m := range monitors {
		for _, n := range m.Notifications {
			all = append(all, models.FlatNotification{
				ID:           n.ID,
				MonitorID:    m.ID,
				LocationName: m.LocationName,
				Metric:       n.Metric,
				ChangeType:   n.ChangeType,
				OldValue:     n.OldValue,
				NewValue:     n.NewValue,
				Message:      n.Message,
				Read:         n.Read,
				Timestamp:    n.Timestamp,
			})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	return all
}

func paginate(all []models.FlatNotification, page Page) []models.FlatNotification {
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []models.FlatNotification{}
	}
	end := len(all)
	limit := page.Limit
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}
	if offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}
