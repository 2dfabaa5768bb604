// Package storage provides in-memory conversation storage.
//
// Information Hiding:
// - Map storage structure hidden from users
// - Thread-safe access via RWMutex hidden behind interface
// - Suitable for testing and ephemeral sessions

package storage

import (
	"context"
	"sort"
	"sync"
)

type memoryConversation struct {
	turns   []Turn
	context string
	order   int
}

// InMemoryStore implements ConversationStore using an in-memory map.
// Data is lost when process terminates.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*memoryConversation
	created       int
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*memoryConversation),
	}
}

// Close is a no-op.
func (s *InMemoryStore) Close() error {
	return nil
}

func (s *InMemoryStore) ensure(id string) *memoryConversation {
	conv, ok := s.conversations[id]
	if !ok {
		s.created++
		conv = &memoryConversation{order: s.created}
		s.conversations[id] = conv
	}
	return conv
}

// CreateConversation registers a new conversation and returns its id.
func (s *InMemoryStore) CreateConversation(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := NewConversationID()
	s.ensure(id)
	return id, nil
}

// Fetch returns a copy of the conversation's turns ordered by sequence key.
func (s *InMemoryStore) Fetch(ctx context.Context, id string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := Conversation{ID: id, Turns: []Turn{}}
	conv, ok := s.conversations[id]
	if !ok {
		return result, nil
	}

	// Return a copy to avoid external mutations
	result.Turns = append(result.Turns, conv.turns...)
	result.Context = conv.context
	return result, nil
}

// AppendTurn stores a turn, keeping the slice ordered by sequence key with
// insertion order breaking ties.
func (s *InMemoryStore) AppendTurn(ctx context.Context, id string, turn Turn) error {
	if err := ValidateTurn(turn); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.ensure(id)
	i := sort.Search(len(conv.turns), func(i int) bool {
		return conv.turns[i].Seq.After(turn.Seq)
	})
	conv.turns = append(conv.turns, Turn{})
	copy(conv.turns[i+1:], conv.turns[i:])
	conv.turns[i] = turn
	return nil
}

// SaveContext replaces the context blob.
func (s *InMemoryStore) SaveContext(ctx context.Context, id string, blob string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensure(id).context = blob
	return nil
}

// ListConversations lists conversation ids, newest first.
func (s *InMemoryStore) ListConversations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.conversations[ids[i]].order > s.conversations[ids[j]].order
	})
	return ids, nil
}

// Verify InMemoryStore implements ConversationStore
var _ ConversationStore = (*InMemoryStore)(nil)
