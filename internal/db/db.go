package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zsprackett/gtdash/internal/events"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}
	return &DB{sql: conn}, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) Migrate() error {
	_, err := d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create metadata: %w", err)
	}

	_, err = d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS chat_messages (
			id         INTEGER PRIMARY KEY,
			role       TEXT NOT NULL,
			target     TEXT NOT NULL,
			text       TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create chat_messages: %w", err)
	}

	_, err = d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			id         INTEGER PRIMARY KEY,
			scope      TEXT NOT NULL,
			code       TEXT NOT NULL,
			severity   TEXT NOT NULL,
			category   TEXT NOT NULL,
			message    TEXT NOT NULL,
			payload    TEXT NOT NULL DEFAULT '',
			fired_at   INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create alerts: %w", err)
	}

	if _, err := d.sql.Exec(`CREATE INDEX IF NOT EXISTS idx_chat_messages_created ON chat_messages(created_at DESC, id DESC)`); err != nil {
		return fmt.Errorf("index chat_messages: %w", err)
	}
	if _, err := d.sql.Exec(`CREATE INDEX IF NOT EXISTS idx_alerts_fired ON alerts(fired_at DESC, id DESC)`); err != nil {
		return fmt.Errorf("index alerts: %w", err)
	}
	return nil
}

func (d *DB) SetMeta(key, value string) error {
	_, err := d.sql.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES (?,?)", key, value)
	return err
}

// GetMeta returns "" for a key that was never set.
func (d *DB) GetMeta(key string) (string, error) {
	var value string
	err := d.sql.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// InsertChatMessage stores m and sets its ID.
func (d *DB) InsertChatMessage(m *events.ChatMessage) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	res, err := d.sql.Exec(
		`INSERT INTO chat_messages (role, target, text, created_at) VALUES (?, ?, ?, ?)`,
		m.Role, m.Target, m.Text, m.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

// RecentChatMessages returns up to limit messages, oldest first.
func (d *DB) RecentChatMessages(limit int) ([]events.ChatMessage, error) {
	rows, err := d.sql.Query(
		`SELECT id, role, target, text, created_at FROM (
			SELECT id, role, target, text, created_at
			FROM chat_messages
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []events.ChatMessage
	for rows.Next() {
		var m events.ChatMessage
		var ms int64
		if err := rows.Scan(&m.ID, &m.Role, &m.Target, &m.Text, &ms); err != nil {
			return nil, err
		}
		m.Timestamp = time.UnixMilli(ms)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RecordAlert appends a fired alert to the alert log.
func (d *DB) RecordAlert(scope string, a events.AlertEvent) error {
	payload := ""
	if len(a.Payload) > 0 {
		b, err := json.Marshal(a.Payload)
		if err != nil {
			return fmt.Errorf("encode alert payload: %w", err)
		}
		payload = string(b)
	}
	_, err := d.sql.Exec(
		`INSERT INTO alerts (scope, code, severity, category, message, payload, fired_at) VALUES (?,?,?,?,?,?,?)`,
		scope, a.Code, string(a.Severity), string(a.Category), a.Message, payload, a.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (d *DB) RecentAlerts(limit int) ([]AlertRecord, error) {
	rows, err := d.sql.Query(
		`SELECT id, scope, code, severity, category, message, payload, fired_at
		 FROM alerts
		 ORDER BY fired_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		var r AlertRecord
		var severity, category, payload string
		var ms int64
		if err := rows.Scan(&r.ID, &r.Scope, &r.Code, &severity, &category, &r.Message, &payload, &ms); err != nil {
			return nil, err
		}
		r.Severity = events.Severity(severity)
		r.Category = events.Category(category)
		r.FiredAt = time.UnixMilli(ms)
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &r.Payload); err != nil {
				return nil, fmt.Errorf("decode alert %d payload: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneAlerts deletes alerts fired before cutoff and returns how many went.
func (d *DB) PruneAlerts(cutoff time.Time) (int64, error) {
	res, err := d.sql.Exec(`DELETE FROM alerts WHERE fired_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneChatMessages keeps the newest keep transcript entries and deletes the
// rest.
func (d *DB) PruneChatMessages(keep int) (int64, error) {
	res, err := d.sql.Exec(
		`DELETE FROM chat_messages WHERE id NOT IN (SELECT id FROM chat_messages ORDER BY id DESC LIMIT ?)`,
		keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
