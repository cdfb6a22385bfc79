package app

import (
	"context"

	"coefbot/internal/notifier"
	"coefbot/internal/supply"
)

// statusSource exposes the running components to the status endpoint.
type statusSource struct {
	core  *Core
	notif *notifier.Service
}

func (s statusSource) PollerState() string            { return s.core.Poller.State().String() }
func (s statusSource) Ping(ctx context.Context) error { return s.core.DB.Ping(ctx) }

func (s statusSource) Peek(ctx context.Context) (supply.Snapshot, bool, error) {
	return s.core.Cache.Peek(ctx)
}

func (s statusSource) CheckNow(ctx context.Context) ([]supply.Entry, error) {
	return s.core.Poller.CheckNow(ctx)
}

func (s statusSource) Matches(ctx context.Context, dates supply.DateFilter) ([]supply.Entry, error) {
	return s.core.Poller.Matches(ctx, dates)
}

func (s statusSource) History() []notifier.HistoryItem {
	if s.notif == nil {
		return nil
	}
	return s.notif.History()
}
