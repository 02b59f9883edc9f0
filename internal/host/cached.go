package host

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS accessories (
	uuid TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	plugin_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	registered_at DATETIME NOT NULL
);`

// Cached remembers registered accessories in sqlite so they can be restored
// after a restart. Registration is forwarded to the wrapped host first.
type Cached struct {
	inner Host
	db    *sql.DB
	now   func() time.Time
}

// OpenCache opens or creates the accessory cache database.
func OpenCache(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open accessory cache: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate accessory cache: %w", err)
	}
	return db, nil
}

func NewCached(inner Host, db *sql.DB) *Cached {
	return &Cached{inner: inner, db: db, now: time.Now}
}

func (c *Cached) RegisterAccessories(ctx context.Context, pluginID, platform string, handles []Handle) error {
	if err := c.inner.RegisterAccessories(ctx, pluginID, platform, handles); err != nil {
		return err
	}
	return c.inTx(ctx, func(tx *sql.Tx) error {
		for _, h := range handles {
			_, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO accessories (uuid, name, plugin_id, platform, registered_at) VALUES (?, ?, ?, ?, ?)`,
				h.UUID(), h.DisplayName(), pluginID, platform, c.now().UTC())
			if err != nil {
				return fmt.Errorf("cache accessory %s: %w", h.UUID(), err)
			}
		}
		return nil
	})
}

func (c *Cached) UnregisterAccessories(ctx context.Context, pluginID, platform string, handles []Handle) error {
	if err := c.inner.UnregisterAccessories(ctx, pluginID, platform, handles); err != nil {
		return err
	}
	return c.inTx(ctx, func(tx *sql.Tx) error {
		for _, h := range handles {
			if _, err := tx.ExecContext(ctx, `DELETE FROM accessories WHERE uuid = ?`, h.UUID()); err != nil {
				return fmt.Errorf("forget accessory %s: %w", h.UUID(), err)
			}
		}
		return nil
	})
}

func (c *Cached) UpdatePower(uuid string, on bool) {
	c.inner.UpdatePower(uuid, on)
}

// Restore calls fn for every cached accessory, oldest first.
func (c *Cached) Restore(ctx context.Context, fn RestoreFunc) error {
	rows, err := c.db.QueryContext(ctx, `SELECT uuid, name FROM accessories ORDER BY registered_at, uuid`)
	if err != nil {
		return fmt.Errorf("query accessory cache: %w", err)
	}
	defer rows.Close()

	var handles []Handle
	for rows.Next() {
		var h CachedHandle
		if err := rows.Scan(&h.ID, &h.Name); err != nil {
			return fmt.Errorf("scan accessory cache: %w", err)
		}
		handles = append(handles, h)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read accessory cache: %w", err)
	}

	for _, h := range handles {
		fn(h)
	}
	return nil
}

func (c *Cached) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin accessory cache tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

var (
	_ Host     = (*Cached)(nil)
	_ Restorer = (*Cached)(nil)
)
