// Package cache provides SQLite-backed caching of built call graphs.
// The cache is stored in .asm/cache.db and keyed by subject, release and
// granularity, so a release only has its traces parsed and merged once.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/graph"
	"github.com/attack-surface/asm/internal/telemetry"
)

// Key identifies one cached graph.
type Key struct {
	Subject     string
	Release     string
	Granularity call.Granularity
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Subject, k.Release, k.Granularity)
}

// Cache manages the .asm/cache.db SQLite database.
type Cache struct {
	db     *sql.DB
	dbPath string

	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// Open opens or creates the cache database in dir.
// It initializes the schema if the database is new.
func Open(dir string, logger *zap.Logger, m *telemetry.Metrics) (*Cache, error) {
	dbPath := filepath.Join(dir, "cache.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	cache := &Cache{db: db, dbPath: dbPath, logger: telemetry.OrNop(logger), metrics: m}

	if err := cache.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return cache, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Path returns the database file path.
func (c *Cache) Path() string {
	return c.dbPath
}

// Get returns the cached graph for key. A missing entry, an entry written
// with another format version and an undecodable payload are all misses;
// the latter two are logged. Only database failures return an error.
func (c *Cache) Get(ctx context.Context, key Key) (*graph.Graph, bool, error) {
	var version int
	var payload []byte
	err := c.db.QueryRowContext(ctx, `
		SELECT format_version, payload FROM graphs
		WHERE subject = ? AND release_name = ? AND granularity = ?`,
		key.Subject, key.Release, string(key.Granularity)).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		c.metrics.CacheLookup(false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached graph %s: %w", key, err)
	}

	if version != graph.FormatVersion {
		c.metrics.CacheLookup(false)
		c.logger.Info("cached graph has another format version; rebuilding",
			zap.Stringer("key", key),
			zap.Int("version", version),
			zap.Int("want", graph.FormatVersion))
		return nil, false, nil
	}

	g, err := graph.Decode(payload)
	if err != nil {
		c.metrics.CacheLookup(false)
		c.logger.Warn("cached graph is unreadable; rebuilding",
			zap.Stringer("key", key),
			zap.Error(err))
		return nil, false, nil
	}

	c.metrics.CacheLookup(true)
	return g, true, nil
}

// Put stores g under key, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, key Key, g *graph.Graph) error {
	payload, err := g.Encode()
	if err != nil {
		return fmt.Errorf("encode graph %s: %w", key, err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO graphs
		(subject, release_name, granularity, format_version, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		key.Subject, key.Release, string(key.Granularity), graph.FormatVersion, payload,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("put cached graph %s: %w", key, err)
	}
	return nil
}

// Delete removes the entry for key and its recorded inputs.
func (c *Cache) Delete(ctx context.Context, key Key) error {
	for _, table := range []string{"graphs", "inputs"} {
		_, err := c.db.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE subject = ? AND release_name = ? AND granularity = ?",
			key.Subject, key.Release, string(key.Granularity))
		if err != nil {
			return fmt.Errorf("delete cached graph %s: %w", key, err)
		}
	}
	return nil
}

// Clear removes all cached data.
func (c *Cache) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM graphs; DELETE FROM inputs;")
	if err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// Stats describes the cache contents.
type Stats struct {
	Graphs int64 `json:"graphs" yaml:"graphs"`
	Stale  int64 `json:"stale" yaml:"stale"`
	Bytes  int64 `json:"bytes" yaml:"bytes"`
	Inputs int64 `json:"inputs" yaml:"inputs"`
}

// Stats returns statistics about the cache contents. Stale counts entries
// written with another format version.
func (c *Cache) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats

	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN format_version != ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(LENGTH(payload)), 0)
		FROM graphs`, graph.FormatVersion).Scan(&stats.Graphs, &stats.Stale, &stats.Bytes)
	if err != nil {
		return nil, fmt.Errorf("count graphs: %w", err)
	}

	err = c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM inputs").Scan(&stats.Inputs)
	if err != nil {
		return nil, fmt.Errorf("count inputs: %w", err)
	}

	return &stats, nil
}

// Entry describes one cached graph without its payload.
type Entry struct {
	Key           Key
	FormatVersion int
	Size          int
	CreatedAt     time.Time
}

// List returns every cached entry ordered by key.
func (c *Cache) List(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT subject, release_name, granularity, format_version, LENGTH(payload), created_at
		FROM graphs ORDER BY subject, release_name, granularity`)
	if err != nil {
		return nil, fmt.Errorf("query graphs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var gran, createdAt string
		if err := rows.Scan(&e.Key.Subject, &e.Key.Release, &gran, &e.FormatVersion, &e.Size, &createdAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Key.Granularity = call.Granularity(gran)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return entries, nil
}
