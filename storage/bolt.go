// Package storage provides Bolt (bbolt) conversation storage.
//
// Information Hiding:
// - Bucket layout and key encoding hidden behind interface
// - Each turn lives in a per-conversation nested bucket keyed by sequence
// - Bolt serialises writers; every Update commits before returning

package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketConversations = []byte("conversations")
	bucketTurns         = []byte("turns")
)

type boltConversation struct {
	Context   string `json:"context"`
	CreatedAt int64  `json:"created_at"`
}

type boltTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BoltStore implements ConversationStore on a single bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates a Bolt database at the given path.
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, unavailable("create database directory", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, unavailable("open Bolt database", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketConversations); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketTurns)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, unavailable("create buckets", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// turnKey orders by sequence key, then by insertion for equal keys.
func turnKey(seq time.Time, n uint64) []byte {
	key := make([]byte, 16)
	// Flipping the sign bit makes signed nanoseconds sort as unsigned bytes.
	binary.BigEndian.PutUint64(key[:8], uint64(seq.UnixNano())^(1<<63))
	binary.BigEndian.PutUint64(key[8:], n)
	return key
}

func seqFromKey(key []byte) (time.Time, error) {
	if len(key) != 16 {
		return time.Time{}, fmt.Errorf("malformed turn key of %d bytes", len(key))
	}
	nanos := int64(binary.BigEndian.Uint64(key[:8]) ^ (1 << 63))
	return time.Unix(0, nanos), nil
}

func putConversation(tx *bolt.Tx, id string, rec boltConversation) error {
	enc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketConversations).Put([]byte(id), enc)
}

func getConversation(tx *bolt.Tx, id string) (boltConversation, bool, error) {
	raw := tx.Bucket(bucketConversations).Get([]byte(id))
	if raw == nil {
		return boltConversation{}, false, nil
	}
	var rec boltConversation
	if err := json.Unmarshal(raw, &rec); err != nil {
		return boltConversation{}, false, fmt.Errorf("malformed conversation record %s: %w", id, err)
	}
	return rec, true, nil
}

func ensureBoltConversation(tx *bolt.Tx, id string) error {
	_, ok, err := getConversation(tx, id)
	if err != nil || ok {
		return err
	}
	return putConversation(tx, id, boltConversation{CreatedAt: time.Now().UnixNano()})
}

// CreateConversation registers a new conversation and returns its id.
func (s *BoltStore) CreateConversation(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := NewConversationID()
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putConversation(tx, id, boltConversation{CreatedAt: time.Now().UnixNano()})
	})
	if err != nil {
		return "", unavailable("create conversation", err)
	}
	return id, nil
}

// Fetch returns the conversation's turns ordered by sequence key.
func (s *BoltStore) Fetch(ctx context.Context, id string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	conv := Conversation{ID: id, Turns: []Turn{}}
	var roleErr error

	err := s.db.View(func(tx *bolt.Tx) error {
		rec, _, err := getConversation(tx, id)
		if err != nil {
			return err
		}
		conv.Context = rec.Context

		turns := tx.Bucket(bucketTurns).Bucket([]byte(id))
		if turns == nil {
			return nil
		}
		return turns.ForEach(func(k, v []byte) error {
			seq, err := seqFromKey(k)
			if err != nil {
				return err
			}
			var raw boltTurn
			if err := json.Unmarshal(v, &raw); err != nil {
				return fmt.Errorf("malformed turn in conversation %s: %w", id, err)
			}
			role, err := parseStoredRole(raw.Role)
			if err != nil {
				roleErr = fmt.Errorf("invalid role in conversation %s: %w", id, err)
				return roleErr
			}
			conv.Turns = append(conv.Turns, Turn{Seq: seq, Role: role, Content: raw.Content})
			return nil
		})
	})
	if roleErr != nil {
		return Conversation{}, roleErr
	}
	if err != nil {
		return Conversation{}, unavailable("read conversation", err)
	}
	return conv, nil
}

// AppendTurn stores one turn and commits.
func (s *BoltStore) AppendTurn(ctx context.Context, id string, turn Turn) error {
	if err := ValidateTurn(turn); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	enc, err := json.Marshal(boltTurn{Role: turn.Role.String(), Content: turn.Content})
	if err != nil {
		return fmt.Errorf("failed to encode turn: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := ensureBoltConversation(tx, id); err != nil {
			return err
		}
		turns, err := tx.Bucket(bucketTurns).CreateBucketIfNotExists([]byte(id))
		if err != nil {
			return err
		}
		n, err := turns.NextSequence()
		if err != nil {
			return err
		}
		return turns.Put(turnKey(turn.Seq, n), enc)
	})
	if err != nil {
		return unavailable("append turn", err)
	}
	return nil
}

// SaveContext replaces the context blob, creating the conversation if needed.
func (s *BoltStore) SaveContext(ctx context.Context, id string, blob string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		rec, ok, err := getConversation(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			rec.CreatedAt = time.Now().UnixNano()
		}
		rec.Context = blob
		return putConversation(tx, id, rec)
	})
	if err != nil {
		return unavailable("save context", err)
	}
	return nil
}

// ListConversations lists conversation ids, newest first.
func (s *BoltStore) ListConversations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type entry struct {
		id      string
		created int64
	}
	var entries []entry

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			var rec boltConversation
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("malformed conversation record %s: %w", k, err)
			}
			entries = append(entries, entry{id: string(k), created: rec.CreatedAt})
			return nil
		})
	})
	if err != nil {
		return nil, unavailable("list conversations", err)
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].created > entries[j].created })
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.id)
	}
	return ids, nil
}

// Verify BoltStore implements ConversationStore
var _ ConversationStore = (*BoltStore)(nil)
