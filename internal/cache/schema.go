package cache

// schemaSQL defines the SQLite schema for the cache database.
// Tables:
//   - graphs: one serialized call graph per (subject, release, granularity)
//   - inputs: content hashes of the trace files each graph was built from
const schemaSQL = `
CREATE TABLE IF NOT EXISTS graphs (
    subject TEXT NOT NULL,
    release_name TEXT NOT NULL,
    granularity TEXT NOT NULL,
    format_version INTEGER NOT NULL,
    payload BLOB NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (subject, release_name, granularity)
);

CREATE TABLE IF NOT EXISTS inputs (
    subject TEXT NOT NULL,
    release_name TEXT NOT NULL,
    granularity TEXT NOT NULL,
    path TEXT NOT NULL,
    hash TEXT NOT NULL,
    PRIMARY KEY (subject, release_name, granularity, path)
);

CREATE INDEX IF NOT EXISTS idx_graphs_subject ON graphs(subject);
`

// initSchema creates the database tables and indexes if they don't exist.
func (c *Cache) initSchema() error {
	_, err := c.db.Exec(schemaSQL)
	return err
}
