package metrics

import (
	"database/sql"

	"codeberg.org/mutker/trophyctl/internal/errors"
	"codeberg.org/mutker/trophyctl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS readings (
	       id         INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp  INTEGER NOT NULL CHECK (typeof(timestamp) = 'integer'),
	       source_id  TEXT NOT NULL,
	       value      REAL NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_readings_source ON readings (source_id, timestamp);
	   CREATE TABLE IF NOT EXISTS alert_events (
	       id         INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp  INTEGER NOT NULL CHECK (typeof(timestamp) = 'integer'),
	       alert_id   TEXT NOT NULL,
	       rule_id    TEXT NOT NULL,
	       severity   TEXT NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
	       event      TEXT NOT NULL CHECK (event IN ('raised', 'cleared', 'acknowledged')),
	       value      REAL NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS command_events (
	       id         INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp  INTEGER NOT NULL CHECK (typeof(timestamp) = 'integer'),
	       kind       TEXT NOT NULL,
	       accepted   INTEGER NOT NULL CHECK (accepted IN (0, 1)),
	       error_code TEXT NOT NULL
	   );`

	insertReadingSQL = `
    INSERT INTO readings (timestamp, source_id, value) VALUES (?, ?, ?)`

	insertAlertEventSQL = `
    INSERT INTO alert_events (
        timestamp, alert_id, rule_id, severity, event, value
    ) VALUES (?, ?, ?, ?, ?, ?)`

	insertCommandEventSQL = `
    INSERT INTO command_events (
        timestamp, kind, accepted, error_code
    ) VALUES (?, ?, ?, ?)`

	selectHistorySQL = `
    SELECT timestamp, source_id, value
    FROM readings
    WHERE source_id = ?
    ORDER BY timestamp DESC, id DESC
    LIMIT ?`
)

// managedTables are dropped when the schema is recreated
var managedTables = []string{"readings", "alert_events", "command_events", "schema_versions"}

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for an empty database
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}

	return exists, nil
}
