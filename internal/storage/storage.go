// Package storage implements the persistence collaborator: dashboard rows,
// cookie blobs, and notification sound bytes for every user, backed by one
// shared modernc.org/sqlite database (pure Go, no cgo), every table scoped
// by a username column. Grounded in the hazyhaar-GoClode example repo's
// internal/core.Engine, which opens modernc.org/sqlite in WAL mode and
// drives schema creation with a single embedded CREATE TABLE IF NOT
// EXISTS script.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dmagro/querywatch/internal/monitor"
	"github.com/dmagro/querywatch/internal/query"
)

const timeLayout = "2006-01-02 15:04:05"

const schema = `
CREATE TABLE IF NOT EXISTS dashboard (
	username TEXT NOT NULL,
	uid TEXT NOT NULL,
	alias TEXT NOT NULL,
	url TEXT NOT NULL,
	target_url TEXT NOT NULL,
	sequence TEXT NOT NULL,
	mode TEXT NOT NULL,
	min_matches INTEGER NOT NULL,
	interval_minutes INTEGER NOT NULL,
	cooldown_minutes INTEGER NOT NULL,
	randomize INTEGER NOT NULL,
	eta_raw TEXT NOT NULL DEFAULT '',
	cycles_limit INTEGER NOT NULL,
	cycles INTEGER NOT NULL,
	is_recurring INTEGER NOT NULL,
	last_run TEXT NOT NULL,
	last_match_datetime TEXT NOT NULL,
	found INTEGER NOT NULL,
	status INTEGER NOT NULL,
	cookies_filename TEXT NOT NULL DEFAULT '',
	alert_sound TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (username, uid),
	UNIQUE (username, alias)
);

CREATE TABLE IF NOT EXISTS cookies (
	username TEXT NOT NULL,
	filename TEXT NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY (username, filename)
);

CREATE TABLE IF NOT EXISTS sounds (
	username TEXT NOT NULL,
	name TEXT NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY (username, name)
);

CREATE TABLE IF NOT EXISTS settings (
	username TEXT PRIMARY KEY,
	payload TEXT NOT NULL
);
`

// Store is the sqlite-backed Storage implementation, one instance shared by
// every user's Monitor. It implements monitor.Storage.
type Store struct {
	db           *sql.DB
	defaultSound []byte
}

var _ monitor.Storage = (*Store)(nil)

// Open opens (creating if needed) the sqlite database at dbPath, applying
// the same WAL/foreign-keys/busy-timeout pragmas the teacher's
// sqlite-backed example repo uses, and ensures the schema exists.
func Open(dbPath string, defaultSound []byte) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create db dir: %w", err)
	}
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init schema: %w", err)
	}
	return &Store{db: db, defaultSound: defaultSound}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadDashboard reads every dashboard row for username, in the order the
// rows were saved, matching §3's "CSV-like dashboard table" shape.
func (s *Store) LoadDashboard(ctx context.Context, username string) ([]monitor.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uid, alias, url, target_url, sequence, mode, min_matches,
		       interval_minutes, cooldown_minutes, randomize, eta_raw,
		       cycles_limit, cycles, is_recurring, last_run,
		       last_match_datetime, found, status, cookies_filename,
		       alert_sound
		FROM dashboard WHERE username = ? ORDER BY rowid`, username)
	if err != nil {
		return nil, fmt.Errorf("storage: load dashboard: %w", err)
	}
	defer rows.Close()

	var out []monitor.Row
	for rows.Next() {
		var r monitor.Row
		var lastRun, lastMatch string
		var isRecurring, found int
		var status int
		if err := rows.Scan(
			&r.UID, &r.Alias, &r.URL, &r.TargetURL, &r.Sequence, &r.Mode,
			&r.MinMatches, &r.Interval, &r.Cooldown, &r.Randomize, &r.ETARaw,
			&r.CyclesLimit, &r.Cycles, &isRecurring, &lastRun, &lastMatch,
			&found, &status, &r.CookiesFilename, &r.AlertSound,
		); err != nil {
			return nil, fmt.Errorf("storage: scan dashboard row: %w", err)
		}
		r.IsRecurring = isRecurring != 0
		r.Found = found != 0
		r.Status = query.Status(status)
		r.LastRun = parseTimeOrDefault(lastRun)
		r.LastMatchAt = parseTimeOrDefault(lastMatch)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveDashboard replaces the entire dashboard table for username with
// rows, inside one transaction.
func (s *Store) SaveDashboard(ctx context.Context, username string, rows []monitor.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: save dashboard: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dashboard WHERE username = ?`, username); err != nil {
		return fmt.Errorf("storage: clear dashboard: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dashboard (
			username, uid, alias, url, target_url, sequence, mode, min_matches,
			interval_minutes, cooldown_minutes, randomize, eta_raw,
			cycles_limit, cycles, is_recurring, last_run,
			last_match_datetime, found, status, cookies_filename, alert_sound
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("storage: prepare dashboard insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			username, r.UID, r.Alias, r.URL, r.TargetURL, r.Sequence, r.Mode, r.MinMatches,
			r.Interval, r.Cooldown, r.Randomize, r.ETARaw,
			r.CyclesLimit, r.Cycles, boolToInt(r.IsRecurring),
			r.LastRun.UTC().Format(timeLayout), r.LastMatchAt.UTC().Format(timeLayout),
			boolToInt(r.Found), int(r.Status), r.CookiesFilename, r.AlertSound,
		); err != nil {
			return fmt.Errorf("storage: insert dashboard row %s: %w", r.UID, err)
		}
	}

	return tx.Commit()
}

// SaveCookies upserts one BLOB row per cookies_filename, JSON-encoding the
// name->value map, matching the original's per-cookies-filename JSON blob.
func (s *Store) SaveCookies(ctx context.Context, username string, cookies map[string]map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: save cookies: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cookies (username, filename, payload) VALUES (?, ?, ?)
		ON CONFLICT(username, filename) DO UPDATE SET payload = excluded.payload`)
	if err != nil {
		return fmt.Errorf("storage: prepare cookie upsert: %w", err)
	}
	defer stmt.Close()

	for filename, values := range cookies {
		payload, err := json.Marshal(values)
		if err != nil {
			return fmt.Errorf("storage: encode cookies for %s: %w", filename, err)
		}
		if _, err := stmt.ExecContext(ctx, username, filename, payload); err != nil {
			return fmt.Errorf("storage: upsert cookies for %s: %w", filename, err)
		}
	}

	return tx.Commit()
}

// LoadCookies returns the name->value map stored under filename for username.
func (s *Store) LoadCookies(ctx context.Context, username, filename string) (map[string]string, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM cookies WHERE username = ? AND filename = ?`, username, filename).Scan(&payload)
	if err == sql.ErrNoRows {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load cookies for %s: %w", filename, err)
	}
	var values map[string]string
	if err := json.Unmarshal(payload, &values); err != nil {
		return nil, fmt.Errorf("storage: decode cookies for %s: %w", filename, err)
	}
	return values, nil
}

// GetSound returns the sound bytes stored under name; on miss it
// substitutes the configured default sound, matching spec.md §4.1's
// get_sound_file contract.
func (s *Store) GetSound(ctx context.Context, username, name string) ([]byte, string, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM sounds WHERE username = ? AND name = ?`, username, name).Scan(&payload)
	if err == sql.ErrNoRows {
		return s.defaultSound, "default.wav", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("storage: get sound %s: %w", name, err)
	}
	return payload, name, nil
}

// SaveSound upserts a sound's bytes under name for username.
func (s *Store) SaveSound(ctx context.Context, username, name string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sounds (username, name, payload) VALUES (?, ?, ?)
		ON CONFLICT(username, name) DO UPDATE SET payload = excluded.payload`, username, name, payload)
	if err != nil {
		return fmt.Errorf("storage: save sound %s: %w", name, err)
	}
	return nil
}

// SaveSettings upserts a user's settings document as JSON text.
func (s *Store) SaveSettings(ctx context.Context, username string, settings map[string]any) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("storage: encode settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (username, payload) VALUES (?, ?)
		ON CONFLICT(username) DO UPDATE SET payload = excluded.payload`, username, payload)
	if err != nil {
		return fmt.Errorf("storage: save settings: %w", err)
	}
	return nil
}

// LoadSettings returns a user's settings document, or an empty map if none
// has been saved yet.
func (s *Store) LoadSettings(ctx context.Context, username string) (map[string]any, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM settings WHERE username = ?`, username).Scan(&payload)
	if err == sql.ErrNoRows {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load settings: %w", err)
	}
	var settings map[string]any
	if err := json.Unmarshal(payload, &settings); err != nil {
		return nil, fmt.Errorf("storage: decode settings: %w", err)
	}
	return settings, nil
}

func parseTimeOrDefault(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return query.DefaultTime
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
