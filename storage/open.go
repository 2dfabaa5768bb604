// Conversation store selection by backend name.
//
// Information Hiding:
// - Backend constructors hidden behind a single factory
// - Backend name normalization hidden

package storage

import (
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendSqlite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Open returns the conversation store for backend. path is ignored by the
// memory backend.
func Open(backend, path string) (ConversationStore, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendSqlite, "":
		store, err := OpenSqlite(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendBolt:
		store, err := OpenBolt(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendMemory:
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q (supported: %s, %s, %s)",
			backend, BackendSqlite, BackendBolt, BackendMemory)
	}
}
