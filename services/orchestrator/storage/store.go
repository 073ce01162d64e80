// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage provides the relational store for the orchestrator.
//
// One SQLite database holds three concerns:
//   - sessions and turns: the append-only conversation history. Turns are
//     never updated or reordered; append is the only mutation, and ordering
//     within a session is the insertion order.
//   - turn_feedback: user ratings, kept in a separate table so turns stay
//     immutable.
//   - orders: the demo business table queried by the SQL branch through
//     QueryRows.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
)

// ErrNotFound marks a lookup for a session or turn that does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL DEFAULT 'anonymous',
	title      TEXT NOT NULL DEFAULT 'New Conversation',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	id                 TEXT PRIMARY KEY,
	session_id         TEXT NOT NULL,
	role               TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
	content            TEXT NOT NULL,
	structured_payload TEXT,
	created_at         INTEGER NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);

CREATE TABLE IF NOT EXISTS turn_feedback (
	turn_id    TEXT NOT NULL,
	rating     TEXT NOT NULL CHECK (rating IN ('up', 'down')),
	comment    TEXT,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (turn_id) REFERENCES turns(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS orders (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id      TEXT NOT NULL,
	product_name TEXT NOT NULL,
	quantity     INTEGER NOT NULL,
	price        REAL NOT NULL,
	order_date   TEXT NOT NULL,
	status       TEXT NOT NULL CHECK (status IN ('pending', 'shipped', 'delivered'))
);

CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);
`

// Store wraps the SQLite handle. Safe for concurrent use; database/sql
// serializes access to the underlying connection pool.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema and
// demo seed data exist.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("Opened relational store", "path", path)
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return s.seedOrders()
}

// seedOrders inserts the demo rows once so the SQL branch has data to query
// out of the box.
func (s *Store) seedOrders() error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&count); err != nil {
		return fmt.Errorf("count orders: %w", err)
	}
	if count > 0 {
		return nil
	}

	seed := []datatypes.Order{
		{UserID: "test-user-123", ProductName: "Mechanical Keyboard", Quantity: 1, Price: 129.99, OrderDate: "2025-11-02", Status: "delivered"},
		{UserID: "test-user-123", ProductName: "USB-C Dock", Quantity: 2, Price: 89.50, OrderDate: "2025-11-18", Status: "shipped"},
		{UserID: "test-user-123", ProductName: "27in Monitor", Quantity: 1, Price: 349.00, OrderDate: "2025-12-05", Status: "pending"},
		{UserID: "test-user-123", ProductName: "Laptop Stand", Quantity: 1, Price: 45.00, OrderDate: "2026-01-09", Status: "delivered"},
		{UserID: "test-user-456", ProductName: "Webcam", Quantity: 1, Price: 74.25, OrderDate: "2026-01-21", Status: "shipped"},
	}
	for _, o := range seed {
		_, err := s.db.Exec(
			`INSERT INTO orders (user_id, product_name, quantity, price, order_date, status) VALUES (?, ?, ?, ?, ?, ?)`,
			o.UserID, o.ProductName, o.Quantity, o.Price, o.OrderDate, o.Status,
		)
		if err != nil {
			return fmt.Errorf("seed orders: %w", err)
		}
	}
	slog.Info("Seeded demo orders", "rows", len(seed))
	return nil
}

// =============================================================================
// Sessions
// =============================================================================

// CreateSession creates a new session for userID and returns it.
func (s *Store) CreateSession(ctx context.Context, userID string) (*datatypes.Session, error) {
	if userID == "" {
		userID = "anonymous"
	}
	now := time.Now().UnixMilli()
	sess := &datatypes.Session{
		SessionID: uuid.New().String(),
		UserID:    userID,
		Title:     "New Conversation",
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sess.SessionID, sess.UserID, sess.Title, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// EnsureSession creates the session row if it does not exist yet. Sessions
// are created implicitly on the first message of an unknown session_id.
func (s *Store) EnsureSession(ctx context.Context, sessionID, userID string) error {
	if userID == "" {
		userID = "anonymous"
	}
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (session_id, user_id, title, created_at, updated_at) VALUES (?, ?, 'New Conversation', ?, ?)`,
		sessionID, userID, now, now,
	)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

// GetSession returns one session, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT s.session_id, s.user_id, s.title, s.created_at, s.updated_at,
		        (SELECT COUNT(*) FROM turns t WHERE t.session_id = s.session_id)
		 FROM sessions s WHERE s.session_id = ?`, sessionID)

	var sess datatypes.Session
	err := row.Scan(&sess.SessionID, &sess.UserID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt, &sess.TurnCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]datatypes.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.session_id, s.user_id, s.title, s.created_at, s.updated_at,
		        (SELECT COUNT(*) FROM turns t WHERE t.session_id = s.session_id)
		 FROM sessions s ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]datatypes.Session, 0)
	for rows.Next() {
		var sess datatypes.Session
		if err := rows.Scan(&sess.SessionID, &sess.UserID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt, &sess.TurnCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// RenameSession sets the session title. Returns ErrNotFound for an unknown
// session.
func (s *Store) RenameSession(ctx context.Context, sessionID, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE session_id = ?`,
		title, time.Now().UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes the session and cascades to its turns. Returns the
// number of turns deleted, or ErrNotFound for an unknown session.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete session: %w", err)
	}
	defer tx.Rollback()

	var turns int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE session_id = ?`, sessionID).Scan(&turns); err != nil {
		return 0, fmt.Errorf("delete session: count turns: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return 0, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete session: commit: %w", err)
	}
	return turns, nil
}

// =============================================================================
// Turns
// =============================================================================

// AppendTurn appends one turn to a session. ID and CreatedAt are assigned
// when empty. This is the only mutation the turn history supports.
func (s *Store) AppendTurn(ctx context.Context, turn *datatypes.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt == 0 {
		turn.CreatedAt = time.Now().UnixMilli()
	}

	var payload any
	if turn.StructuredPayload != nil {
		raw, err := json.Marshal(turn.StructuredPayload)
		if err != nil {
			return fmt.Errorf("append turn: marshal payload: %w", err)
		}
		payload = string(raw)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, role, content, structured_payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, turn.Role, turn.Content, payload, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE session_id = ?`,
		turn.CreatedAt, turn.SessionID)
	if err != nil {
		return fmt.Errorf("append turn: touch session: %w", err)
	}

	return tx.Commit()
}

// RecentTurns returns the last limit turns of a session, oldest first.
func (s *Store) RecentTurns(ctx context.Context, sessionID string, limit int) ([]datatypes.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, structured_payload, created_at
		 FROM (
			SELECT rowid, * FROM turns WHERE session_id = ? ORDER BY rowid DESC LIMIT ?
		 ) ORDER BY rowid ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// SessionHistory returns every turn of a session in append order.
func (s *Store) SessionHistory(ctx context.Context, sessionID string) ([]datatypes.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, structured_payload, created_at
		 FROM turns WHERE session_id = ? ORDER BY rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session history: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// FirstUserMessage returns the content of the first user turn in a session,
// used as the title fallback. Returns ErrNotFound when the session has no
// user turns yet.
func (s *Store) FirstUserMessage(ctx context.Context, sessionID string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM turns WHERE session_id = ? AND role = 'user' ORDER BY rowid ASC LIMIT 1`,
		sessionID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("first user message: %w", err)
	}
	return content, nil
}

func scanTurns(rows *sql.Rows) ([]datatypes.Turn, error) {
	turns := make([]datatypes.Turn, 0)
	for rows.Next() {
		var (
			turn    datatypes.Turn
			payload sql.NullString
		)
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.Role, &turn.Content, &payload, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if payload.Valid {
			parsed, err := datatypes.ParseTurnPayload([]byte(payload.String))
			if err != nil {
				// A corrupt payload must not take the whole history down.
				slog.Warn("Skipping unparseable turn payload", "turn_id", turn.ID, "error", err)
			} else {
				turn.StructuredPayload = parsed
			}
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// =============================================================================
// Feedback
// =============================================================================

// RecordFeedback stores a rating for a turn. Returns ErrNotFound when the
// turn does not exist.
func (s *Store) RecordFeedback(ctx context.Context, fb *datatypes.TurnFeedback) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE id = ?`, fb.TurnID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	if fb.CreatedAt == 0 {
		fb.CreatedAt = time.Now().UnixMilli()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turn_feedback (turn_id, rating, comment, created_at) VALUES (?, ?, ?, ?)`,
		fb.TurnID, fb.Rating, fb.Comment, fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	return nil
}

// =============================================================================
// Read-only Query Execution
// =============================================================================

// QueryRows executes an already-validated SELECT and returns the rows as
// column-name maps. Callers must run the statement through the SQL guard
// first; this method does no validation of its own.
func (s *Store) QueryRows(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query rows: columns: %w", err)
	}

	results := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("query rows: scan: %w", err)
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			// Text columns come back as []byte from the sqlite driver.
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			record[col] = v
		}
		results = append(results, record)
	}
	return results, rows.Err()
}
