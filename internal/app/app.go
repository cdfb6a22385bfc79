package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"coefbot/internal/bot"
	"coefbot/internal/config"
	"coefbot/internal/eventbus"
	"coefbot/internal/housekeeping"
	"coefbot/internal/notifier"
	"coefbot/internal/runtime/supervisor"
	"coefbot/internal/status"
	"coefbot/internal/transport"
	"coefbot/internal/transport/telegram"
	logx "coefbot/pkg/logx"
	"coefbot/pkg/systemd"
)

// App is the long-running bot: the polling core plus the Telegram front
// end, the notifier, housekeeping and the status endpoint.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	adapter *telegram.Adapter
	core    *Core

	notif      *notifier.Service
	recipients *notifier.Recipients
	router     *bot.Router
	status     *status.Service
	house      *housekeeping.Service

	updates chan transport.Update
}

func New(cfgPath, envFile string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetEnvFile(envFile)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return nil, errors.New("telegram.token is required (or set COEFBOT_TELEGRAM_TOKEN)")
	}

	// The adapter exists before the log service because alerts go through it.
	bootLog := logx.NewConsole("INFO").With(logx.Comp("telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeoutOrDefault(),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogging(cfg), func(ctx context.Context, chatID int64, threadID int, text string) error {
		to := transport.ChatTarget{ChatID: chatID, ThreadID: threadID}
		_, err := ad.SendText(ctx, to, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
		return err
	})
	log := root.With(logx.Comp("app"))
	bus := eventbus.New()

	ncfg, err := mapNotifier(cfg)
	if err != nil {
		return nil, err
	}

	// Storage is opened inside OpenCore; the notifier needs it for dedup,
	// so the recipients sink is built first and bound to the service after.
	recipients := notifier.NewRecipients(nil, recipientTargets(cfg))
	core, err := OpenCore(cfg, recipients, root, bus)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	notifSvc := notifier.New(ncfg, ad, root.With(logx.Comp("notifier")), bus, core.DB)
	recipients.Bind(notifSvc)

	router := bot.New(bot.Deps{
		Adapter:    ad,
		Supply:     core.Cache,
		Checker:    core.Poller,
		KV:         core.DB.KV(),
		Warehouses: core.DB.Warehouses(),
		BoxTypes:   core.DB.BoxTypes(),
		Dates:      core.DB.Dates(),
		Bus:        bus,
		Owners:     cfg.Telegram.OwnerUserIDs,
	}, root)

	statusSvc := status.New(mapStatus(cfg), statusSource{core: core, notif: notifSvc}, root)
	house := housekeeping.New(mapHousekeeping(cfg), config.CronParser, core.DB.Dates(), root, bus)

	log.Info("app built",
		logx.String("storage", mapStorage(cfg).Driver),
		logx.Duration("refresh_interval", core.Fetcher.Interval()),
		logx.Int("recipients", len(cfg.Telegram.Recipients)),
	)

	return &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		adapter:    ad,
		core:       core,
		notif:      notifSvc,
		recipients: recipients,
		router:     router,
		status:     statusSvc,
		house:      house,
		updates:    make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Reloads are parsed and validated by the manager; this adds the checks
	// that need the mapped component configs.
	a.cfgm.SetLogger(a.log.With(logx.Comp("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return errors.New("telegram.token must not be empty")
		}
		_, err := mapNotifier(cfg)
		return err
	})

	cfg := a.cfgm.Get()

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if cfg.Poller.IsEnabled() {
		if err := a.core.Poller.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("poller: %w", err)
		}
	} else {
		a.log.Warn("poller disabled via config; matches are only computed on demand")
	}
	a.status.SetRuntime(a.sup)
	a.status.Start(a.sup.Context())
	if err := a.house.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("housekeeping: %w", err)
	}

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("bot.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.router.UpdateMenu(mctx); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Debug level: refresh events fire every few seconds.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go("systemd.watchdog", systemd.Watchdog)
	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		_, _ = systemd.Status("polling every " + a.core.Fetcher.Interval().String())
	}

	a.log.Info("app started", logx.String("poller", a.core.Poller.State().String()))
	return nil
}

// applyConfig pushes the live-reloadable parts of newCfg into the running
// components. Sections that need a restart are only reported.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(oldCfg, newCfg); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogging(newCfg))

	if ncfg, err := mapNotifier(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		prev := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case prev && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prev && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	a.core.Poller.SetNotifyInterval(newCfg.Poller.NotifyIntervalOrDefault())
	a.core.Poller.SetExcludeUnavailable(newCfg.Poller.SkipUnavailable())
	a.recipients.Set(recipientTargets(newCfg))
	a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// Each step gets an upper bound so one component cannot stall the stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				limit = min(limit, time.Until(dl))
			}
			if limit > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("poller", 3*time.Second, a.core.Poller.Stop)
	step("housekeeping", time.Second, func(c context.Context) error { a.house.Stop(c); return nil })
	step("status", time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.core.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
