package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/scoutware/scanrelay/internal/scan"
	"github.com/scoutware/scanrelay/internal/settings"
	"github.com/scoutware/scanrelay/pkg/logger"
)

// Settings keys. Each setting is persisted as its own row so the values
// stay independently keyed.
const (
	keyEndpointURL  = "endpoint_url"
	keyForceCompact = "force_compact"
)

// Backend persists the scan history and settings in a single SQLite
// database file. Scan writes replace the whole table in one transaction,
// making every snapshot idempotent.
type Backend struct {
	db     *sql.DB
	logger *logger.Logger
}

// New opens the database at path, creating it and its tables as needed.
// Pass ":memory:" for an ephemeral database.
func New(path string, log *logger.Logger) (*Backend, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	backend := &Backend{
		db:     db,
		logger: log.Named("sqlite-store"),
	}

	if err := backend.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return backend, nil
}

// initDB initializes the database tables
func (b *Backend) initDB() error {
	// Create scans table
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS scans (
			id INTEGER PRIMARY KEY,
			timestamp TEXT NOT NULL,
			raw TEXT NOT NULL,
			parsed TEXT,
			display_data TEXT NOT NULL,
			status TEXT NOT NULL,
			error_msg TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create scans table: %w", err)
	}

	_, err = b.db.Exec(`CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status)`)
	if err != nil {
		return fmt.Errorf("failed to create scans index: %w", err)
	}

	// Create settings table
	_, err = b.db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create settings table: %w", err)
	}

	return nil
}

// SaveScans rewrites the full scan snapshot in one transaction.
func (b *Backend) SaveScans(records []*scan.ScanRecord) error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM scans`); err != nil {
		return fmt.Errorf("failed to clear scans table: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO scans (id, timestamp, raw, parsed, display_data, status, error_msg)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		var parsed interface{}
		if rec.Parsed != nil {
			data, err := json.Marshal(rec.Parsed)
			if err != nil {
				return fmt.Errorf("failed to encode parsed fields: %w", err)
			}
			parsed = string(data)
		}

		var errorMsg interface{}
		if rec.ErrorMsg != "" {
			errorMsg = rec.ErrorMsg
		}

		if _, err := stmt.Exec(
			rec.ID,
			rec.Timestamp,
			rec.Raw,
			parsed,
			rec.DisplayData,
			string(rec.Status),
			errorMsg,
		); err != nil {
			return fmt.Errorf("failed to insert scan %d: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scan snapshot: %w", err)
	}

	return nil
}

// LoadScans returns the persisted history, newest first.
func (b *Backend) LoadScans() ([]*scan.ScanRecord, error) {
	rows, err := b.db.Query(`
		SELECT id, timestamp, raw, parsed, display_data, status, error_msg
		FROM scans
		ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	return b.scanRows(rows)
}

// SaveSettings stores each setting under its own key.
func (b *Backend) SaveSettings(s settings.Settings) error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	pairs := map[string]string{
		keyEndpointURL:  s.EndpointURL,
		keyForceCompact: fmt.Sprintf("%t", s.ForceCompact),
	}
	for key, value := range pairs {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`,
			key, value,
		); err != nil {
			return fmt.Errorf("failed to store setting %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settings: %w", err)
	}

	return nil
}

// LoadSettings returns the persisted settings. The second return value is
// false when nothing has been persisted yet, letting the caller fall back
// to config defaults.
func (b *Backend) LoadSettings() (settings.Settings, bool, error) {
	rows, err := b.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return settings.Settings{}, false, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return settings.Settings{}, false, fmt.Errorf("failed to scan setting: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return settings.Settings{}, false, fmt.Errorf("failed to read settings: %w", err)
	}

	if len(values) == 0 {
		return settings.Settings{}, false, nil
	}

	return settings.Settings{
		EndpointURL:  values[keyEndpointURL],
		ForceCompact: values[keyForceCompact] == "true",
	}, true, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// scanRows scans database rows into ScanRecord structs
func (b *Backend) scanRows(rows *sql.Rows) ([]*scan.ScanRecord, error) {
	var records []*scan.ScanRecord
	for rows.Next() {
		var rec scan.ScanRecord
		var parsed sql.NullString
		var status string
		var errorMsg sql.NullString

		if err := rows.Scan(
			&rec.ID,
			&rec.Timestamp,
			&rec.Raw,
			&parsed,
			&rec.DisplayData,
			&status,
			&errorMsg,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		rec.Status = scan.Status(status)
		if errorMsg.Valid {
			rec.ErrorMsg = errorMsg.String
		}
		if parsed.Valid && parsed.String != "" {
			if err := json.Unmarshal([]byte(parsed.String), &rec.Parsed); err != nil {
				return nil, fmt.Errorf("failed to decode parsed fields: %w", err)
			}
		}

		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scans: %w", err)
	}

	return records, nil
}
