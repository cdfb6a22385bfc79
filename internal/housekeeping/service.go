// Package housekeeping runs periodic maintenance on a cron schedule. Today
// that is dropping tracked dates that are already in the past.
package housekeeping

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"coefbot/internal/eventbus"
	"coefbot/internal/storage"
	"coefbot/internal/supply"
	logx "coefbot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Schedule string
	Location *time.Location
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	parser cron.Parser
	c      *cron.Cron
	cancel context.CancelFunc

	dates storage.DateRegistry
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time
}

func New(cfg Config, parser cron.Parser, dates storage.DateRegistry, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		parser: parser,
		dates:  dates,
		log:    log.With(logx.Comp("housekeeping")),
		bus:    bus,
		now:    time.Now,
	}
}

// PruneOnce drops tracked dates before now's calendar day in the configured
// location and returns how many were removed.
func (s *Service) PruneOnce(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	loc := s.cfg.Location
	s.mu.Unlock()
	if loc == nil {
		loc = time.UTC
	}
	today := supply.Day(now.In(loc))

	days, err := s.dates.All(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, d := range days {
		if !d.Before(today) {
			continue
		}
		if err := s.dates.Drop(ctx, d); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		removed++
		eventbus.Publish(s.bus, eventbus.TrackingChanged, storage.TrackingEvent{
			Registry: "dates",
			Key:      supply.FormatDay(d),
			By:       "housekeeping",
		})
	}
	return removed, errors.Join(errs...)
}

func (s *Service) run(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()
	start := time.Now()
	n, err := s.PruneOnce(ctx, s.now())
	if err != nil {
		s.log.Warn("prune tracked dates failed", logx.Err(err), logx.Int("removed", n))
		return
	}
	s.log.Info("pruned tracked dates", logx.Int("removed", n), logx.Duration("took", time.Since(start)))
}

// Start registers the job and starts cron. It is idempotent and a no-op
// while disabled. Jobs run under ctx, so cancelling it or calling Stop
// aborts a prune in progress.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	loc := s.cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	spec := strings.TrimSpace(s.cfg.Schedule)
	jobCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() { s.run(jobCtx) }); err != nil {
		cancel()
		return err
	}
	c.Start()
	s.c = c
	s.cancel = cancel
	s.log.Info("service started", logx.String("schedule", spec), logx.String("tz", loc.String()))
	return nil
}

// Stop cancels a running job and waits for it within ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}
