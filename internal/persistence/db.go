// Package persistence provides the SQLite session journal. The journal is
// written during a run and never read back at startup.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/interval/internal/crystal"
	"github.com/talgya/interval/internal/engine"
)

// Memory is the path of an in-process journal that vanishes on Close.
const Memory = ":memory:"

// Journal wraps a SQLite connection for session records.
type Journal struct {
	conn *sqlx.DB
}

// Open opens or creates a journal at path. An empty path or Memory keeps it
// in memory.
func Open(path string) (*Journal, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if path == "" || path == Memory {
		dsn = Memory
	}
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// Each connection to :memory: is its own database.
	conn.SetMaxOpenConns(1)

	j := &Journal{conn: conn}
	if err := j.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.conn.Close()
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		at_ms INTEGER NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS crystals (
		id TEXT PRIMARY KEY,
		created_ms INTEGER NOT NULL,
		phase TEXT NOT NULL,
		intensity REAL NOT NULL,
		significance REAL NOT NULL,
		hue REAL NOT NULL,
		pos_x REAL NOT NULL,
		pos_y REAL NOT NULL,
		biometrics_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_events_category ON events(category);
	`
	_, err := j.conn.Exec(schema)
	return err
}

// SaveEvents appends events to the journal.
func (j *Journal) SaveEvents(events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := j.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.Exec(
			"INSERT INTO events (tick, at_ms, category, description, payload) VALUES (?, ?, ?, ?, ?)",
			e.Tick, e.At.UnixMilli(), e.Category, e.Description, e.Payload,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SaveCrystals records crystals not yet in the journal. Evicted crystals stay.
func (j *Journal) SaveCrystals(crystals []crystal.Crystal) error {
	if len(crystals) == 0 {
		return nil
	}

	tx, err := j.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range crystals {
		bio, err := json.Marshal(c.Biometrics)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			`INSERT OR IGNORE INTO crystals
			(id, created_ms, phase, intensity, significance, hue, pos_x, pos_y, biometrics_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.CreatedAt.UnixMilli(), string(c.Phase.Name), c.Phase.Intensity,
			c.Significance, c.Hue, c.Position.X, c.Position.Y, string(bio),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SaveMeta stores a key-value pair in session metadata.
func (j *Journal) SaveMeta(key, value string) error {
	_, err := j.conn.Exec(
		"INSERT OR REPLACE INTO session_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (j *Journal) GetMeta(key string) (string, error) {
	var value string
	err := j.conn.Get(&value, "SELECT value FROM session_meta WHERE key = ?", key)
	return value, err
}

// SaveSession drains the pipeline's events and records them together with
// the current crystals and the last tick.
func (j *Journal) SaveSession(p *engine.Pipeline, tick uint64) error {
	events := p.DrainEvents()
	crystals := p.Crystals()
	slog.Debug("flushing session journal", "events", len(events), "crystals", len(crystals))

	if err := j.SaveEvents(events); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	if err := j.SaveCrystals(crystals); err != nil {
		return fmt.Errorf("save crystals: %w", err)
	}
	if err := j.SaveMeta("last_tick", strconv.FormatUint(tick, 10)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	return nil
}

type eventRow struct {
	Tick        uint64 `db:"tick"`
	AtMillis    int64  `db:"at_ms"`
	Category    string `db:"category"`
	Description string `db:"description"`
	Payload     string `db:"payload"`
}

// RecentEvents returns the most recent N events in category, newest first.
// An empty category matches every event.
func (j *Journal) RecentEvents(category string, limit int) ([]engine.Event, error) {
	var rows []eventRow
	var err error
	if category == "" {
		err = j.conn.Select(&rows,
			"SELECT tick, at_ms, category, description, payload FROM events ORDER BY id DESC LIMIT ?",
			limit,
		)
	} else {
		err = j.conn.Select(&rows,
			"SELECT tick, at_ms, category, description, payload FROM events WHERE category = ? ORDER BY id DESC LIMIT ?",
			category, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	events := make([]engine.Event, len(rows))
	for i, r := range rows {
		events[i] = engine.Event{
			Tick:        r.Tick,
			At:          time.UnixMilli(r.AtMillis).UTC(),
			Category:    r.Category,
			Description: r.Description,
			Payload:     r.Payload,
		}
	}
	return events, nil
}

// CountEvents returns the number of journaled events in category, or all
// events when category is empty.
func (j *Journal) CountEvents(category string) (int, error) {
	var n int
	var err error
	if category == "" {
		err = j.conn.Get(&n, "SELECT COUNT(*) FROM events")
	} else {
		err = j.conn.Get(&n, "SELECT COUNT(*) FROM events WHERE category = ?", category)
	}
	return n, err
}

// CountCrystals returns the number of journaled crystals.
func (j *Journal) CountCrystals() (int, error) {
	var n int
	err := j.conn.Get(&n, "SELECT COUNT(*) FROM crystals")
	return n, err
}
