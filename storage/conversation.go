// Package storage provides conversation storage abstraction.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interface
// - Allows swapping between memory, Bolt and SQLite without API changes
// - Each storage implementation encapsulates its own layout and ordering rules

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/richinex/colloquy/llm"
)

// ErrStorageUnavailable wraps every failure to open, read or write the
// underlying store. Callers treat it as fatal; nothing is retried.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Turn is one persisted message of a conversation.
type Turn struct {
	// Seq orders turns within a conversation. Nanosecond precision is kept.
	Seq     time.Time
	Role    llm.Role
	Content string
}

// Message converts the turn into a chat message.
func (t Turn) Message() llm.ChatMessage {
	return llm.ChatMessage{Role: t.Role, Content: t.Content}
}

// Conversation is the stored state of one conversation.
type Conversation struct {
	ID      string
	Turns   []Turn
	Context string
}

// ConversationStore defines the durable conversation store. Every mutating
// call commits before it returns.
type ConversationStore interface {
	// CreateConversation registers a new conversation with an empty context
	// and returns its id.
	CreateConversation(ctx context.Context) (string, error)

	// Fetch returns the turns in increasing sequence order plus the context.
	// An unknown id yields no turns and an empty context, not an error.
	Fetch(ctx context.Context, id string) (Conversation, error)

	// AppendTurn persists one turn. It is not idempotent: calling it twice
	// stores two turns.
	AppendTurn(ctx context.Context, id string, turn Turn) error

	// SaveContext replaces the conversation's context blob.
	SaveContext(ctx context.Context, id string, blob string) error

	// ListConversations returns conversation ids, most recently created first.
	ListConversations(ctx context.Context) ([]string, error)

	// Close releases the underlying handle.
	Close() error
}

// NewConversationID returns a fresh random conversation id.
func NewConversationID() string {
	return uuid.NewString()
}

// ValidateTurn rejects turns that must never reach durable storage.
func ValidateTurn(turn Turn) error {
	if err := turn.Role.Validate(); err != nil {
		return err
	}
	if !turn.Role.Persistable() {
		return fmt.Errorf("%w: %q is not persisted", llm.ErrUnknownRole, turn.Role)
	}
	return nil
}

// parseStoredRole parses a role read back from durable storage. Only
// persistable roles are valid there.
func parseStoredRole(s string) (llm.Role, error) {
	role, err := llm.ParseRole(s)
	if err != nil {
		return "", err
	}
	if !role.Persistable() {
		return "", fmt.Errorf("%w: %q is not persisted", llm.ErrUnknownRole, s)
	}
	return role, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrStorageUnavailable, op, err)
}
