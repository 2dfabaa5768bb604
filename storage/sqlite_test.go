package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/richinex/colloquy/llm"
)

func TestSqliteStoreConformance(t *testing.T) {
	runConformance(t, func(t *testing.T) ConversationStore {
		store, err := NewSqliteInMemory()
		if err != nil {
			t.Fatalf("Failed to create storage: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestSqliteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chat.db")
	ctx := context.Background()

	store, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("OpenSqlite failed: %v", err)
	}
	id, err := store.CreateConversation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.AppendTurn(ctx, id, Turn{Seq: time.Now(), Role: llm.RoleUser, Content: "remember me"}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveContext(ctx, id, "ctx"); err != nil {
		t.Fatal(err)
	}
	store.Close()

	// Reopening must not disturb existing data.
	reopened, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	conv, err := reopened.Fetch(ctx, id)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(conv.Turns) != 1 || conv.Turns[0].Content != "remember me" || conv.Context != "ctx" {
		t.Errorf("unexpected conversation after reopen: %+v", conv)
	}
}

func TestSqliteStoreUnknownRoleInDatabase(t *testing.T) {
	for _, role := range []string{"robot", "tool"} {
		t.Run(role, func(t *testing.T) {
			store, err := NewSqliteInMemory()
			if err != nil {
				t.Fatal(err)
			}
			defer store.Close()
			ctx := context.Background()

			id, err := store.CreateConversation(ctx)
			if err != nil {
				t.Fatal(err)
			}
			_, err = store.db.ExecContext(ctx,
				"INSERT INTO turns (conversation_id, sequence_key, role, content) VALUES (?, ?, ?, ?)",
				id, time.Now().UnixNano(), role, "beep")
			if err != nil {
				t.Fatalf("failed to inject corrupt row: %v", err)
			}

			if _, err := store.Fetch(ctx, id); !errors.Is(err, llm.ErrUnknownRole) {
				t.Errorf("expected ErrUnknownRole, got %v", err)
			}
		})
	}
}

func TestSqliteStoreClosedIsUnavailable(t *testing.T) {
	store, err := NewSqliteInMemory()
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	_, err = store.CreateConversation(context.Background())
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestOpenSqliteUnwritablePath(t *testing.T) {
	dir := t.TempDir()
	// A regular file where the parent directory should be.
	blocker := filepath.Join(dir, "blocker")
	if err := writeFile(blocker); err != nil {
		t.Fatal(err)
	}

	_, err := OpenSqlite(filepath.Join(blocker, "chat.db"))
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
}
