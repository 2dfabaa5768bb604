// Package history keeps the transcript of one conversation in memory and
// mirrors its persistable turns into a storage.ConversationStore.
//
// Information Hiding:
// - Sequence-key assignment (strictly increasing, even on a stalled clock)
// - Which messages reach durable storage (no tool results, no empty content)
// - Rollback of the in-memory transcript when a write fails
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/richinex/colloquy/llm"
	"github.com/richinex/colloquy/storage"
)

// DefaultSystemPrompt opens every new conversation.
const DefaultSystemPrompt = "You are a helpful assistant."

// Option configures a History.
type Option func(*History)

// WithClock overrides the time source used for sequence keys.
func WithClock(now func() time.Time) Option {
	return func(h *History) { h.now = now }
}

// WithLogger sets the logger used for persistence events.
func WithLogger(logger *slog.Logger) Option {
	return func(h *History) { h.logger = logger }
}

// History is the live transcript of one conversation.
type History struct {
	mu       sync.Mutex
	store    storage.ConversationStore
	id       string
	messages []llm.ChatMessage
	context  string
	resumed  bool
	lastSeq  time.Time
	now      func() time.Time
	logger   *slog.Logger
}

// Open loads the conversation with the given id. When id is empty or names
// a conversation without turns, a new conversation is created and seeded with
// the system prompt.
func Open(ctx context.Context, store storage.ConversationStore, id, systemPrompt string, opts ...Option) (*History, error) {
	h := &History{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}

	if id != "" {
		conv, err := store.Fetch(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
		}
		if len(conv.Turns) > 0 {
			h.id = id
			h.resumed = true
			h.context = conv.Context
			h.messages = make([]llm.ChatMessage, 0, len(conv.Turns))
			for _, turn := range conv.Turns {
				h.messages = append(h.messages, turn.Message())
			}
			h.lastSeq = conv.Turns[len(conv.Turns)-1].Seq
			h.logger.Debug("resumed conversation", "conversation_id", id, "turns", len(conv.Turns))
			return h, nil
		}
		h.logger.Debug("conversation has no turns, starting a new one", "requested_id", id)
	}

	newID, err := store.CreateConversation(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	h.id = newID
	h.messages = []llm.ChatMessage{}
	h.logger.Debug("created conversation", "conversation_id", newID)

	if systemPrompt != "" {
		if err := h.Add(ctx, llm.SystemMessage(systemPrompt)); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// ID returns the conversation id.
func (h *History) ID() string {
	return h.id
}

// Resumed reports whether Open found existing turns.
func (h *History) Resumed() bool {
	return h.resumed
}

// Len returns the number of messages in the transcript.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Messages returns a copy of the full transcript.
func (h *History) Messages() []llm.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]llm.ChatMessage(nil), h.messages...)
}

// Window returns a copy of the last n messages. n <= 0 returns everything.
func (h *History) Window(n int) []llm.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	start := 0
	if n > 0 && n < len(h.messages) {
		start = len(h.messages) - n
	}
	return append([]llm.ChatMessage(nil), h.messages[start:]...)
}

// nextSeq returns a sequence key strictly after the previous one.
func (h *History) nextSeq() time.Time {
	seq := h.now()
	if !seq.After(h.lastSeq) {
		seq = h.lastSeq.Add(time.Nanosecond)
	}
	return seq
}

// Add appends msg to the transcript and commits it unless it is a tool
// result or has no content. If the commit fails the message is dropped from
// the transcript and the error is returned.
func (h *History) Add(ctx context.Context, msg llm.ChatMessage) error {
	if err := msg.Role.Validate(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, msg)
	if !msg.Role.Persistable() || msg.Content == "" {
		return nil
	}

	seq := h.nextSeq()
	turn := storage.Turn{Seq: seq, Role: msg.Role, Content: msg.Content}
	if err := h.store.AppendTurn(ctx, h.id, turn); err != nil {
		h.messages = h.messages[:len(h.messages)-1]
		return fmt.Errorf("failed to persist %s turn: %w", msg.Role, err)
	}
	h.lastSeq = seq
	return nil
}

// AddAll adds messages in order, stopping at the first failure.
func (h *History) AddAll(ctx context.Context, msgs []llm.ChatMessage) error {
	for _, msg := range msgs {
		if err := h.Add(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops the in-memory transcript. Stored turns are untouched.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = []llm.ChatMessage{}
}

// Context returns the current context blob.
func (h *History) Context() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.context
}

// SetContext replaces the in-memory context blob without persisting it.
func (h *History) SetContext(blob string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.context = blob
}

// SaveContext commits the current context blob.
func (h *History) SaveContext(ctx context.Context) error {
	h.mu.Lock()
	blob := h.context
	h.mu.Unlock()

	if err := h.store.SaveContext(ctx, h.id, blob); err != nil {
		return fmt.Errorf("failed to save context: %w", err)
	}
	return nil
}
