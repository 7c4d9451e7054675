package simserver

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// StoredMessage is one persisted chat message in the simulator.
type StoredMessage struct {
	ID          string
	RoomID      string
	SenderID    string
	SenderName  string
	Content     string
	MessageType string
	CreatedAt   int64 // unix milliseconds
}

// Store persists simulator messages in SQLite so history pagination behaves
// like the production service across client reconnects.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	room_id      TEXT NOT NULL,
	sender_id    TEXT NOT NULL,
	sender_name  TEXT NOT NULL,
	content      TEXT NOT NULL,
	message_type TEXT NOT NULL DEFAULT 'text',
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at DESC);
`

// NewStore opens (or creates) the database at dbPath. Use ":memory:" for an
// ephemeral store.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveMessage inserts one message.
func (s *Store) SaveMessage(ctx context.Context, msg *StoredMessage) error {
	query := `
		INSERT INTO messages (id, room_id, sender_id, sender_name, content, message_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.RoomID, msg.SenderID, msg.SenderName, msg.Content, msg.MessageType, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListPage returns one pagination batch walking backward from the most
// recent message. Page numbering starts at 1.
func (s *Store) ListPage(ctx context.Context, roomID string, page, limit int) ([]StoredMessage, error) {
	if page < 1 {
		page = 1
	}
	query := `
		SELECT id, room_id, sender_id, sender_name, content, message_type, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []StoredMessage
	for rows.Next() {
		var msg StoredMessage
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.SenderName,
			&msg.Content, &msg.MessageType, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
