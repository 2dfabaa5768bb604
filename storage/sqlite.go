// Package storage provides SQLite conversation storage.
//
// Information Hiding:
// - SQLite connection management hidden behind interface
// - Schema details encapsulated and created idempotently
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SqliteStore implements ConversationStore using SQLite.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, unavailable("create database directory", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, unavailable("open SQLite database", err)
	}

	return newSqliteStore(db)
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, unavailable("create in-memory SQLite", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	return newSqliteStore(db)
}

func newSqliteStore(db *sql.DB) (*SqliteStore, error) {
	store := &SqliteStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			context TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS turns (
			turn_id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			sequence_key INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
		);

		CREATE INDEX IF NOT EXISTS idx_turns_conversation
		ON turns(conversation_id, sequence_key);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return unavailable("create schema", err)
	}
	return nil
}

func (s *SqliteStore) ensureConversation(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO conversations (conversation_id, created_at) VALUES (?, ?)",
		id, time.Now().UnixNano(),
	)
	if err != nil {
		return unavailable("ensure conversation", err)
	}
	return nil
}

// CreateConversation registers a new conversation and returns its id.
func (s *SqliteStore) CreateConversation(ctx context.Context) (string, error) {
	id := NewConversationID()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (conversation_id, created_at) VALUES (?, ?)",
		id, time.Now().UnixNano(),
	)
	if err != nil {
		return "", unavailable("create conversation", err)
	}
	return id, nil
}

// Fetch returns the conversation's turns ordered by sequence key.
// Returns an empty turn slice if the conversation doesn't exist.
func (s *SqliteStore) Fetch(ctx context.Context, id string) (Conversation, error) {
	conv := Conversation{ID: id, Turns: []Turn{}}

	err := s.db.QueryRowContext(ctx,
		"SELECT context FROM conversations WHERE conversation_id = ?", id,
	).Scan(&conv.Context)
	if err != nil && err != sql.ErrNoRows {
		return Conversation{}, unavailable("query context", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT sequence_key, role, content FROM turns WHERE conversation_id = ? ORDER BY sequence_key ASC, turn_id ASC",
		id)
	if err != nil {
		return Conversation{}, unavailable("query turns", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var role, content string
		if err := rows.Scan(&seq, &role, &content); err != nil {
			return Conversation{}, unavailable("scan turn", err)
		}
		parsed, err := parseStoredRole(role)
		if err != nil {
			// An unknown role in the database indicates corruption or a schema mismatch.
			return Conversation{}, fmt.Errorf("invalid role in conversation %s: %w", id, err)
		}
		conv.Turns = append(conv.Turns, Turn{
			Seq:     time.Unix(0, seq),
			Role:    parsed,
			Content: content,
		})
	}

	if err := rows.Err(); err != nil {
		return Conversation{}, unavailable("iterate turns", err)
	}

	return conv, nil
}

// AppendTurn inserts one turn and commits.
func (s *SqliteStore) AppendTurn(ctx context.Context, id string, turn Turn) error {
	if err := ValidateTurn(turn); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	// defer tx.Rollback() is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	if err := s.ensureConversation(ctx, tx, id); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO turns (conversation_id, sequence_key, role, content) VALUES (?, ?, ?, ?)",
		id, turn.Seq.UnixNano(), turn.Role.String(), turn.Content)
	if err != nil {
		return unavailable("insert turn", err)
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit turn", err)
	}
	return nil
}

// SaveContext replaces the context blob, creating the conversation row if needed.
func (s *SqliteStore) SaveContext(ctx context.Context, id string, blob string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, context, created_at) VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET context = excluded.context`,
		id, blob, time.Now().UnixNano())
	if err != nil {
		return unavailable("save context", err)
	}
	return nil
}

// ListConversations lists conversation ids, newest first.
func (s *SqliteStore) ListConversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT conversation_id FROM conversations ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, unavailable("query conversations", err)
	}
	defer rows.Close()

	ids := []string{} // Start with empty slice, not nil
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan conversation", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate conversations", err)
	}

	return ids, nil
}

// Verify SqliteStore implements ConversationStore
var _ ConversationStore = (*SqliteStore)(nil)
