package app

import (
	"fmt"

	"coefbot/internal/config"
	"coefbot/internal/eventbus"
	"coefbot/internal/poller"
	"coefbot/internal/storage"
	"coefbot/internal/supplycache"
	"coefbot/internal/upstream"
	logx "coefbot/pkg/logx"
)

// Core is the polling engine without any chat transport: storage, the rate
// limited fetcher, the snapshot cache and the poll coordinator. The CLI
// uses it directly; App wraps it with Telegram.
type Core struct {
	DB      *storage.DB
	Fetcher *upstream.Fetcher
	Cache   *supplycache.Cache
	Poller  *poller.Coordinator
}

// OpenCore builds one instance of every engine component. sink may be nil
// when the poll loops are never started.
func OpenCore(cfg *config.Config, sink poller.Sink, log logx.Logger, bus eventbus.Bus) (*Core, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	db, err := storage.Open(mapStorage(cfg), log.With(logx.Comp("storage")))
	if err != nil {
		return nil, err
	}
	f, err := upstream.New(mapUpstream(cfg), log.With(logx.Comp("upstream")))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("upstream: %w", err)
	}
	cache := supplycache.New(db.KV(), f, log.With(logx.Comp("supplycache")), bus)
	tracked := poller.Tracked{Warehouses: db.Warehouses(), BoxTypes: db.BoxTypes(), Dates: db.Dates()}
	coord := poller.New(mapPoller(cfg, f.Interval()), cache, tracked, sink, log, bus)
	return &Core{DB: db, Fetcher: f, Cache: cache, Poller: coord}, nil
}

func (c *Core) Close() error { return c.DB.Close() }
