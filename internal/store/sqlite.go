package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite implements Store on a local SQLite database. Timestamps are stored
// as RFC3339 text, matching what the HTTP side of the system writes.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (and if needed creates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLite{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			online INTEGER NOT NULL DEFAULT 0,
			last_seen TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS chat_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_user_id TEXT NOT NULL,
			to_user_id TEXT NOT NULL,
			from_username TEXT NOT NULL,
			to_username TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			chat_id TEXT PRIMARY KEY,
			participant_a TEXT NOT NULL,
			participant_b TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_message_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT NOT NULL,
			from_user_id TEXT NOT NULL,
			from_username TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_to ON chat_requests(to_user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_pair ON chat_requests(from_user_id, to_user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_a ON chats(participant_a)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_b ON chats(participant_b)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON chat_messages(chat_id, created_at)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// CreateUser inserts a user row. Account creation belongs to the HTTP
// service; this exists for provisioning and tests.
func (s *SQLite) CreateUser(ctx context.Context, id, username string) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO users (id, username, online, last_seen) VALUES (?, ?, 0, ?)",
		id, username, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *SQLite) FindUserByName(ctx context.Context, username string) (*User, error) {
	return s.scanUser(s.conn.QueryRowContext(ctx,
		"SELECT id, username, online, last_seen FROM users WHERE username = ?", username))
}

func (s *SQLite) FindUserByID(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.conn.QueryRowContext(ctx,
		"SELECT id, username, online, last_seen FROM users WHERE id = ?", id))
}

func (s *SQLite) scanUser(row *sql.Row) (*User, error) {
	var u User
	var online int
	var lastSeen string
	err := row.Scan(&u.ID, &u.Username, &online, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Online = online != 0
	if lastSeen != "" {
		u.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)
	}
	return &u, nil
}

func (s *SQLite) SetPresence(ctx context.Context, userID string, online bool) error {
	flag := 0
	if online {
		flag = 1
	}
	_, err := s.conn.ExecContext(ctx,
		"UPDATE users SET online = ?, last_seen = ? WHERE id = ?",
		flag, time.Now().UTC().Format(time.RFC3339), userID,
	)
	return err
}

func (s *SQLite) CreateRequest(ctx context.Context, req *ChatRequest) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO chat_requests (from_user_id, to_user_id, from_username, to_username, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		req.FromUserID, req.ToUserID, req.FromUsername, req.ToUsername,
		req.Status, req.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *SQLite) FindPendingRequest(ctx context.Context, fromUserID, toUserID string) (*ChatRequest, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT from_user_id, to_user_id, from_username, to_username, status, created_at
		 FROM chat_requests
		 WHERE from_user_id = ? AND to_user_id = ? AND status = ?`,
		fromUserID, toUserID, StatusPending,
	)

	var req ChatRequest
	var createdAt string
	err := row.Scan(&req.FromUserID, &req.ToUserID, &req.FromUsername, &req.ToUsername, &req.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	req.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &req, nil
}

func (s *SQLite) UpdateRequestStatus(ctx context.Context, fromUserID, toUserID, status string) error {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE chat_requests SET status = ? WHERE from_user_id = ? AND to_user_id = ? AND status = ?",
		status, fromUserID, toUserID, StatusPending,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingRequestsFor lists pending requests addressed to userID, oldest first.
func (s *SQLite) PendingRequestsFor(ctx context.Context, userID string) ([]*ChatRequest, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT from_user_id, to_user_id, from_username, to_username, status, created_at
		 FROM chat_requests
		 WHERE to_user_id = ? AND status = ?
		 ORDER BY created_at ASC, id ASC`,
		userID, StatusPending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*ChatRequest
	for rows.Next() {
		var req ChatRequest
		var createdAt string
		if err := rows.Scan(&req.FromUserID, &req.ToUserID, &req.FromUsername, &req.ToUsername, &req.Status, &createdAt); err != nil {
			return nil, err
		}
		req.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		requests = append(requests, &req)
	}
	return requests, rows.Err()
}

func (s *SQLite) CreateRoom(ctx context.Context, room *Room) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO chats (chat_id, participant_a, participant_b, created_at, last_message_at)
		 VALUES (?, ?, ?, ?, ?)`,
		room.ChatID, room.Participants[0], room.Participants[1],
		room.CreatedAt.UTC().Format(time.RFC3339),
		room.LastMessageAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *SQLite) FindRoomsForUser(ctx context.Context, userID string) ([]*Room, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT chat_id, participant_a, participant_b, created_at, last_message_at
		 FROM chats
		 WHERE participant_a = ? OR participant_b = ?
		 ORDER BY last_message_at DESC`,
		userID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []*Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *SQLite) FindRoomByIDForParticipant(ctx context.Context, chatID, userID string) (*Room, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT chat_id, participant_a, participant_b, created_at, last_message_at
		 FROM chats
		 WHERE chat_id = ? AND (participant_a = ? OR participant_b = ?)`,
		chatID, userID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanRoom(rows)
}

func scanRoom(rows *sql.Rows) (*Room, error) {
	var room Room
	var createdAt, lastMessageAt string
	if err := rows.Scan(&room.ChatID, &room.Participants[0], &room.Participants[1], &createdAt, &lastMessageAt); err != nil {
		return nil, err
	}
	room.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	room.LastMessageAt, _ = time.Parse(time.RFC3339, lastMessageAt)
	return &room, nil
}

func (s *SQLite) AppendMessage(ctx context.Context, msg *Message) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO chat_messages (chat_id, from_user_id, from_username, body, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ChatID, msg.FromUserID, msg.FromUsername, msg.Body,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ListMessages returns messages in insertion order. The autoincrement id
// is the sort key: all appends go through the single dispatch worker, so
// id order is arrival order, and the RFC3339Nano strings in created_at
// trim trailing zeros and do not sort lexicographically.
func (s *SQLite) ListMessages(ctx context.Context, chatID string, limit int) ([]*Message, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT chat_id, from_user_id, from_username, body, created_at
		 FROM chat_messages
		 WHERE chat_id = ?
		 ORDER BY id ASC
		 LIMIT ?`,
		chatID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAt string
		if err := rows.Scan(&msg.ChatID, &msg.FromUserID, &msg.FromUsername, &msg.Body, &createdAt); err != nil {
			return nil, err
		}
		msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

func (s *SQLite) TouchRoomLastMessage(ctx context.Context, chatID string, at time.Time) error {
	_, err := s.conn.ExecContext(ctx,
		"UPDATE chats SET last_message_at = ? WHERE chat_id = ?",
		at.UTC().Format(time.RFC3339), chatID,
	)
	return err
}
