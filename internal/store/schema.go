package store

// schemaStatements define the Dolt schema, one statement each.
var schemaStatements = []string{
	// one row per analysis run
	`CREATE TABLE IF NOT EXISTS releases (
    run_id VARCHAR(36) PRIMARY KEY,
    subject VARCHAR(64) NOT NULL,
    release_name VARCHAR(64) NOT NULL,
    granularity VARCHAR(16) NOT NULL,
    nodes INT NOT NULL DEFAULT 0,
    edges INT NOT NULL DEFAULT 0,
    entry_points INT NOT NULL DEFAULT 0,
    exit_points INT NOT NULL DEFAULT 0,
    num_fragments INT NOT NULL DEFAULT 0,
    monolithicity DOUBLE NOT NULL DEFAULT 0,
    call_cycles INT NOT NULL DEFAULT 0,
    vulnerable INT NOT NULL DEFAULT 0,
    dangerous INT NOT NULL DEFAULT 0,
    defenses INT NOT NULL DEFAULT 0,
    tested INT NOT NULL DEFAULT 0,
    damping DOUBLE NOT NULL DEFAULT 0,
    pagerank_iterations INT NOT NULL DEFAULT 0,
    pagerank_converged BOOLEAN NOT NULL DEFAULT FALSE,
    created_at VARCHAR(32) NOT NULL,
    INDEX idx_releases_subject (subject, release_name)
)`,

	// per-function metrics of a run; NULL means not computed or not connected
	`CREATE TABLE IF NOT EXISTS functions (
    run_id VARCHAR(36) NOT NULL,
    name VARCHAR(255) NOT NULL,
    file VARCHAR(512) NOT NULL,
    is_entry BOOLEAN NOT NULL DEFAULT FALSE,
    is_exit BOOLEAN NOT NULL DEFAULT FALSE,
    is_tested BOOLEAN NOT NULL DEFAULT FALSE,
    is_defense BOOLEAN NOT NULL DEFAULT FALSE,
    is_dangerous BOOLEAN NOT NULL DEFAULT FALSE,
    calls_dangerous BOOLEAN NOT NULL DEFAULT FALSE,
    is_vulnerable BOOLEAN NOT NULL DEFAULT FALSE,
    becomes_vulnerable BOOLEAN NOT NULL DEFAULT FALSE,
    sloc INT,
    fan_in INT NOT NULL DEFAULT 0,
    fan_out INT NOT NULL DEFAULT 0,
    frequency INT NOT NULL DEFAULT 0,
    page_rank DOUBLE NOT NULL DEFAULT 0,
    proximity_to_entry DOUBLE,
    proximity_to_exit DOUBLE,
    proximity_to_defense DOUBLE,
    proximity_to_dangerous DOUBLE,
    surface_coupling_with_entry INT,
    surface_coupling_with_exit INT,
    PRIMARY KEY (run_id, name, file),
    INDEX idx_functions_page_rank (run_id, page_rank)
)`,
}

// initSchema creates the database tables if they don't exist.
func (s *Store) initSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
