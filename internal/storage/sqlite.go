package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coefbot/internal/supply"
)

// ---- key-value cache ----

type kvStore struct{ db *sql.DB }

func (s *kvStore) Set(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(b),
	)
	return opErr("set "+key, err)
}

func (s *kvStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cache WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, opErr("get "+key, err)
	}
	if dst == nil {
		return true, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return true, opErr("decode "+key, err)
	}
	return true, nil
}

func (s *kvStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key)
	return opErr("delete "+key, err)
}

func (s *kvStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache`)
	return opErr("clear cache", err)
}

// ---- tracked-set registries ----

type rowScanner interface{ Scan(dest ...any) error }

// table implements Registry over a single SQL table. Add relies on
// ON CONFLICT(<natural key>) DO NOTHING and Drop on the affected row count,
// so membership checks and mutation happen in the same statement. Other
// constraint violations surface as storage errors, not ErrDuplicate.
type table[T any, K comparable] struct {
	db     *sql.DB
	name   string
	insert string
	remove string
	exists string
	list   string
	args   func(T) []any
	key    func(K) any
	scan   func(rowScanner) (T, error)
}

func (t *table[T, K]) All(ctx context.Context) ([]T, error) {
	rows, err := t.db.QueryContext(ctx, t.list)
	if err != nil {
		return nil, opErr("list "+t.name, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := t.scan(rows)
		if err != nil {
			return nil, opErr("scan "+t.name, err)
		}
		out = append(out, v)
	}
	return out, opErr("list "+t.name, rows.Err())
}

func (t *table[T, K]) Add(ctx context.Context, item T) error {
	res, err := t.db.ExecContext(ctx, t.insert, t.args(item)...)
	if err != nil {
		return opErr("add "+t.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return opErr("add "+t.name, err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (t *table[T, K]) Drop(ctx context.Context, key K) error {
	res, err := t.db.ExecContext(ctx, t.remove, t.key(key))
	if err != nil {
		return opErr("drop "+t.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return opErr("drop "+t.name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *table[T, K]) Clear(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, "DELETE FROM "+t.name)
	return opErr("clear "+t.name, err)
}

func (t *table[T, K]) Has(ctx context.Context, key K) (bool, error) {
	var one int
	err := t.db.QueryRowContext(ctx, t.exists, t.key(key)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, opErr("lookup "+t.name, err)
	}
	return true, nil
}

func warehouseTable(db *sql.DB) *table[supply.Warehouse, int64] {
	return &table[supply.Warehouse, int64]{
		db:     db,
		name:   "warehouses",
		insert: `INSERT INTO warehouses(id, name) VALUES(?, ?) ON CONFLICT(id) DO NOTHING`,
		remove: `DELETE FROM warehouses WHERE id = ?`,
		exists: `SELECT 1 FROM warehouses WHERE id = ?`,
		list:   `SELECT id, name FROM warehouses ORDER BY name, id`,
		args:   func(w supply.Warehouse) []any { return []any{w.ID, w.Name} },
		key:    func(id int64) any { return id },
		scan: func(r rowScanner) (supply.Warehouse, error) {
			var w supply.Warehouse
			err := r.Scan(&w.ID, &w.Name)
			return w, err
		},
	}
}

func boxTypeTable(db *sql.DB) *table[string, string] {
	return &table[string, string]{
		db:     db,
		name:   "box_types",
		insert: `INSERT INTO box_types(name) VALUES(?) ON CONFLICT(name) DO NOTHING`,
		remove: `DELETE FROM box_types WHERE name = ?`,
		exists: `SELECT 1 FROM box_types WHERE name = ?`,
		list:   `SELECT name FROM box_types ORDER BY name`,
		args:   func(name string) []any { return []any{name} },
		key:    func(name string) any { return name },
		scan: func(r rowScanner) (string, error) {
			var name string
			err := r.Scan(&name)
			return name, err
		},
	}
}

// Dates are stored as YYYY-MM-DD so equal calendar days share one key.
func dateTable(db *sql.DB) *table[time.Time, time.Time] {
	return &table[time.Time, time.Time]{
		db:     db,
		name:   "dates",
		insert: `INSERT INTO dates(date) VALUES(?) ON CONFLICT(date) DO NOTHING`,
		remove: `DELETE FROM dates WHERE date = ?`,
		exists: `SELECT 1 FROM dates WHERE date = ?`,
		list:   `SELECT date FROM dates ORDER BY date`,
		args:   func(d time.Time) []any { return []any{supply.FormatDay(d)} },
		key:    func(d time.Time) any { return supply.FormatDay(d) },
		scan: func(r rowScanner) (time.Time, error) {
			var raw string
			if err := r.Scan(&raw); err != nil {
				return time.Time{}, err
			}
			return supply.ParseDay(raw)
		},
	}
}

// ---- notifier dedup ----

const dedupPruneEvery = 500

func (d *DB) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO notify_dedup(key, until) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET until = excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && d.dedupWrites.Add(1)%dedupPruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, _ = d.db.ExecContext(pctx, `DELETE FROM notify_dedup WHERE until < ?`, time.Now().UnixMilli())
		cancel()
	}
	return opErr("put dedup", err)
}

func (d *DB) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := d.db.QueryRowContext(ctx, `SELECT until FROM notify_dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, opErr("get dedup", err)
	}
	return time.UnixMilli(ms), true, nil
}
