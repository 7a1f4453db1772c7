package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure Go SQLite driver (no cgo dependency)
)

const schema = `
CREATE TABLE IF NOT EXISTS grace_positions (
	asset TEXT PRIMARY KEY,
	start_date INTEGER NOT NULL,
	original_size REAL NOT NULL,
	original_score REAL NOT NULL,
	current_size REAL NOT NULL,
	days_elapsed INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS holding_ages (
	asset TEXT PRIMARY KEY,
	entry_date INTEGER NOT NULL,
	last_adjustment INTEGER NOT NULL,
	last_regime_override INTEGER,
	entry_size REAL NOT NULL,
	adjustment_count INTEGER NOT NULL,
	has_regime_override INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS position_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	asset TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	type TEXT NOT NULL,
	reason TEXT NOT NULL,
	size REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_position_events_asset ON position_events(asset, timestamp);
CREATE TABLE IF NOT EXISTS core_assets (
	asset TEXT PRIMARY KEY,
	designation_date INTEGER NOT NULL,
	expiry_date INTEGER NOT NULL,
	last_performance_check INTEGER,
	bucket TEXT NOT NULL,
	designation_score REAL NOT NULL,
	bucket_avg_at_designation REAL NOT NULL,
	extension_count INTEGER NOT NULL,
	performance_warnings INTEGER NOT NULL,
	revoked INTEGER NOT NULL,
	revoke_reason TEXT NOT NULL
);
`

// OpenSQLite opens (creating if necessary) a SQLite-backed lifecycle-state
// database at path and returns the Repositories bundle for it. WAL mode is
// enabled via the connection string for safe concurrent readers during a
// run's diagnostic tooling.
func OpenSQLite(path string) (*Repositories, func() error, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open lifecycle database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, nil, fmt.Errorf("failed to ping lifecycle database: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate lifecycle database: %w", err)
	}

	repos := &Repositories{
		Grace:   &sqliteGrace{conn: conn},
		Holding: &sqliteHolding{conn: conn},
		Whipsaw: &sqliteWhipsaw{conn: conn},
		Core:    &sqliteCore{conn: conn},
	}
	return repos, conn.Close, nil
}
