package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/richinex/colloquy/llm"
)

// storeFactory opens a fresh, empty store for one subtest.
type storeFactory func(t *testing.T) ConversationStore

// runConformance exercises the ConversationStore contract against a backend.
func runConformance(t *testing.T, open storeFactory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s ConversationStore)
	}{
		{"TurnsReturnedInSequenceOrder", testTurnsReturnedInSequenceOrder},
		{"OutOfOrderKeysAreSorted", testOutOfOrderKeysAreSorted},
		{"CreateConversationDistinctIDs", testCreateConversationDistinctIDs},
		{"FetchUnknownConversation", testFetchUnknownConversation},
		{"ContextRoundTrip", testContextRoundTrip},
		{"ContextLastWriteWins", testContextLastWriteWins},
		{"AssistantTurnRoundTrip", testAssistantTurnRoundTrip},
		{"ThreeTurnScenario", testThreeTurnScenario},
		{"AppendIsNotIdempotent", testAppendIsNotIdempotent},
		{"RejectsNonPersistableRoles", testRejectsNonPersistableRoles},
		{"ConversationsAreIsolated", testConversationsAreIsolated},
		{"ListConversations", testListConversations},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			tt.fn(t, s)
		})
	}
}

func mustCreate(t *testing.T, s ConversationStore) string {
	t.Helper()
	id, err := s.CreateConversation(context.Background())
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	return id
}

func mustAppend(t *testing.T, s ConversationStore, id string, turn Turn) {
	t.Helper()
	if err := s.AppendTurn(context.Background(), id, turn); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}
}

func mustFetch(t *testing.T, s ConversationStore, id string) Conversation {
	t.Helper()
	conv, err := s.Fetch(context.Background(), id)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	return conv
}

func testTurnsReturnedInSequenceOrder(t *testing.T, s ConversationStore) {
	id := mustCreate(t, s)
	base := time.Unix(1700000000, 0)
	contents := []string{"a", "b", "c", "d", "e"}
	for i, c := range contents {
		mustAppend(t, s, id, Turn{Seq: base.Add(time.Duration(i)), Role: llm.RoleUser, Content: c})
	}

	conv := mustFetch(t, s, id)
	if len(conv.Turns) != len(contents) {
		t.Fatalf("expected %d turns, got %d", len(contents), len(conv.Turns))
	}
	for i, turn := range conv.Turns {
		if turn.Content != contents[i] {
			t.Errorf("turn %d: expected %q, got %q", i, contents[i], turn.Content)
		}
		if !turn.Seq.Equal(base.Add(time.Duration(i))) {
			t.Errorf("turn %d: sequence key %v lost nanosecond precision", i, turn.Seq)
		}
	}
}

func testOutOfOrderKeysAreSorted(t *testing.T, s ConversationStore) {
	id := mustCreate(t, s)
	base := time.Unix(1700000000, 0)
	mustAppend(t, s, id, Turn{Seq: base.Add(3), Role: llm.RoleUser, Content: "third"})
	mustAppend(t, s, id, Turn{Seq: base.Add(1), Role: llm.RoleUser, Content: "first"})
	mustAppend(t, s, id, Turn{Seq: base.Add(2), Role: llm.RoleUser, Content: "second"})

	conv := mustFetch(t, s, id)
	want := []string{"first", "second", "third"}
	for i, turn := range conv.Turns {
		if turn.Content != want[i] {
			t.Errorf("turn %d: expected %q, got %q", i, want[i], turn.Content)
		}
	}
}

func testCreateConversationDistinctIDs(t *testing.T, s ConversationStore) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		id := mustCreate(t, s)
		if id == "" {
			t.Fatal("empty conversation id")
		}
		if seen[id] {
			t.Fatalf("duplicate conversation id %s", id)
		}
		seen[id] = true

		conv := mustFetch(t, s, id)
		if len(conv.Turns) != 0 || conv.Context != "" {
			t.Errorf("new conversation not empty: %+v", conv)
		}
	}
}

func testFetchUnknownConversation(t *testing.T, s ConversationStore) {
	conv := mustFetch(t, s, "does-not-exist")
	if conv.Turns == nil {
		t.Error("expected empty slice, got nil")
	}
	if len(conv.Turns) != 0 {
		t.Errorf("expected no turns, got %d", len(conv.Turns))
	}
	if conv.Context != "" {
		t.Errorf("expected empty context, got %q", conv.Context)
	}
}

func testContextRoundTrip(t *testing.T, s ConversationStore) {
	ctx := context.Background()
	id := mustCreate(t, s)

	for _, blob := range []string{`{"version":1,"chat_summary":"hi"}`, "", "plain text\nwith newline"} {
		if err := s.SaveContext(ctx, id, blob); err != nil {
			t.Fatalf("SaveContext(%q) failed: %v", blob, err)
		}
		if got := mustFetch(t, s, id).Context; got != blob {
			t.Errorf("context round trip: expected %q, got %q", blob, got)
		}
	}
}

func testContextLastWriteWins(t *testing.T, s ConversationStore) {
	ctx := context.Background()
	id := mustCreate(t, s)
	if err := s.SaveContext(ctx, id, "first"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveContext(ctx, id, "second"); err != nil {
		t.Fatal(err)
	}
	if got := mustFetch(t, s, id).Context; got != "second" {
		t.Errorf("expected last write to win, got %q", got)
	}
}

func testAssistantTurnRoundTrip(t *testing.T, s ConversationStore) {
	id := mustCreate(t, s)
	mustAppend(t, s, id, Turn{Seq: time.Now(), Role: llm.RoleAssistant, Content: "2+2=4"})

	conv := mustFetch(t, s, id)
	if len(conv.Turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(conv.Turns))
	}
	if conv.Turns[0].Role != llm.RoleAssistant || conv.Turns[0].Content != "2+2=4" {
		t.Errorf("unexpected turn: %+v", conv.Turns[0])
	}
}

func testThreeTurnScenario(t *testing.T, s ConversationStore) {
	id := mustCreate(t, s)
	base := time.Now()
	mustAppend(t, s, id, Turn{Seq: base, Role: llm.RoleSystem, Content: "You are a helpful assistant."})
	mustAppend(t, s, id, Turn{Seq: base.Add(time.Millisecond), Role: llm.RoleUser, Content: "Hello"})
	mustAppend(t, s, id, Turn{Seq: base.Add(2 * time.Millisecond), Role: llm.RoleAssistant, Content: "Hi! How can I help?"})

	conv := mustFetch(t, s, id)
	wantRoles := []llm.Role{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant}
	if len(conv.Turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(conv.Turns))
	}
	for i, turn := range conv.Turns {
		if turn.Role != wantRoles[i] {
			t.Errorf("turn %d: expected role %s, got %s", i, wantRoles[i], turn.Role)
		}
	}
	if msg := conv.Turns[1].Message(); msg.Role != llm.RoleUser || msg.Content != "Hello" {
		t.Errorf("turn 1 message = %+v", msg)
	}
}

func testAppendIsNotIdempotent(t *testing.T, s ConversationStore) {
	id := mustCreate(t, s)
	turn := Turn{Seq: time.Now(), Role: llm.RoleUser, Content: "again"}
	mustAppend(t, s, id, turn)
	mustAppend(t, s, id, turn)

	if n := len(mustFetch(t, s, id).Turns); n != 2 {
		t.Errorf("expected 2 turns after duplicate append, got %d", n)
	}
}

func testRejectsNonPersistableRoles(t *testing.T, s ConversationStore) {
	ctx := context.Background()
	id := mustCreate(t, s)

	for _, role := range []llm.Role{llm.RoleTool, "robot"} {
		err := s.AppendTurn(ctx, id, Turn{Seq: time.Now(), Role: role, Content: "x"})
		if !errors.Is(err, llm.ErrUnknownRole) {
			t.Errorf("AppendTurn(%s): expected ErrUnknownRole, got %v", role, err)
		}
	}
	if n := len(mustFetch(t, s, id).Turns); n != 0 {
		t.Errorf("rejected turns were stored: %d", n)
	}
}

func testConversationsAreIsolated(t *testing.T, s ConversationStore) {
	a := mustCreate(t, s)
	b := mustCreate(t, s)
	mustAppend(t, s, a, Turn{Seq: time.Now(), Role: llm.RoleUser, Content: "for a"})

	if n := len(mustFetch(t, s, b).Turns); n != 0 {
		t.Errorf("conversation b sees %d turns of a", n)
	}
}

func testListConversations(t *testing.T, s ConversationStore) {
	ctx := context.Background()
	empty, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no conversations, got %v", empty)
	}

	a := mustCreate(t, s)
	b := mustCreate(t, s)
	// Appending to an unseen id registers it.
	mustAppend(t, s, "imported", Turn{Seq: time.Now(), Role: llm.RoleUser, Content: "x"})

	ids, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	found := map[string]bool{}
	for _, id := range ids {
		found[id] = true
	}
	for _, want := range []string{a, b, "imported"} {
		if !found[want] {
			t.Errorf("conversation %s missing from %v", want, ids)
		}
	}
}
