package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"coefbot/internal/supply"
	logx "coefbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// DB is the SQLite-backed implementation of every storage port.
type DB struct {
	db  *sql.DB
	log logx.Logger

	kv         *kvStore
	warehouses *table[supply.Warehouse, int64]
	boxTypes   *table[string, string]
	dates      *table[time.Time, time.Time]

	dedupWrites atomic.Uint64
}

// Open opens (creating if needed) the database and applies the schema.
func Open(cfg Config, log logx.Logger) (*DB, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var dsn string
	switch driver {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("storage: sqlite path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, opErr("mkdir", err)
		}
		dsn = cfg.Path
	case "memory":
		dsn = ":memory:"
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}

	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, opErr("open", err)
	}
	// One connection serializes writers and keeps :memory: databases alive.
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = sqldb.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = sqldb.Exec("PRAGMA journal_mode = WAL")
	_, _ = sqldb.Exec("PRAGMA synchronous = NORMAL")

	d := &DB{db: sqldb, log: log}
	if err := d.migrate(context.Background()); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	d.kv = &kvStore{db: sqldb}
	d.warehouses = warehouseTable(sqldb)
	d.boxTypes = boxTypeTable(sqldb)
	d.dates = dateTable(sqldb)

	log.Debug("storage opened", logx.String("driver", driver), logx.String("path", cfg.Path))
	return d, nil
}

func (d *DB) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, string(b))
	return opErr("migrate", err)
}

func (d *DB) KV() KV                         { return d.kv }
func (d *DB) Warehouses() WarehouseRegistry  { return d.warehouses }
func (d *DB) BoxTypes() BoxTypeRegistry      { return d.boxTypes }
func (d *DB) Dates() DateRegistry            { return d.dates }
func (d *DB) Ping(ctx context.Context) error { return opErr("ping", d.db.PingContext(ctx)) }

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// ClearTracked empties all three registries in one transaction.
func (d *DB) ClearTracked(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return opErr("clear tracked", err)
	}
	for _, t := range []string{"warehouses", "box_types", "dates"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			_ = tx.Rollback()
			return opErr("clear tracked", err)
		}
	}
	return opErr("clear tracked", tx.Commit())
}
