package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/careloop/sam-agent/internal/llm"
)

// SQLiteStore is a SQLite-backed conversation store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the store at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

// migrate creates the database schema.
//
// The seq column, not the timestamp, carries message order: two appends
// within the same clock tick must still replay in append order.
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_call_id TEXT,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append adds a message to a thread's history, creating the
// conversation row on first use.
func (s *SQLiteStore) Append(threadKey string, msg llm.Message) error {
	now := time.Now()
	msgID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("message id: %w", err)
	}

	var toolCalls sql.NullString
	if len(msg.ToolCalls) > 0 {
		encoded, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(encoded), Valid: true}
	}

	var toolCallID sql.NullString
	if msg.ToolCallID != "" {
		toolCallID = sql.NullString{String: msg.ToolCallID, Valid: true}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT OR IGNORE INTO conversations (id, created_at, updated_at)
		VALUES (?, ?, ?)
	`, threadKey, now, now)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_call_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msgID.String(), threadKey, msg.Role, msg.Content, toolCalls, toolCallID, now)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, now, threadKey)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}

	return tx.Commit()
}

// History returns a thread's messages in append order.
func (s *SQLiteStore) History(threadKey string) ([]llm.Message, error) {
	rows, err := s.db.Query(`
		SELECT role, content, tool_calls, tool_call_id
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, threadKey)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	messages := []llm.Message{}
	for rows.Next() {
		var m llm.Message
		var toolCalls, toolCallID sql.NullString
		if err := rows.Scan(&m.Role, &m.Content, &toolCalls, &toolCallID); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		if toolCallID.Valid {
			m.ToolCallID = toolCallID.String
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// Conversations lists stored conversations, most recently updated
// first.
func (s *SQLiteStore) Conversations() ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, updated_at FROM conversations ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// Stats returns store statistics for the health endpoint.
func (s *SQLiteStore) Stats() map[string]any {
	var convCount, msgCount int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&convCount)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&msgCount)

	return map[string]any{
		"conversations": convCount,
		"messages":      msgCount,
		"storage":       "sqlite",
	}
}
