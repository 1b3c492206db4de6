package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/voxline-ai/voxline/pkg/core/call"
)

// MemoryStore is an in-process Store used by tests and single-node setups
// without Redis. Entries expire lazily on Get.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// now is replaceable for expiry tests.
	now func() time.Time
}

type memoryEntry struct {
	raw       []byte
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, callID string) (*call.Session, error) {
	s.mu.Lock()
	entry, ok := s.entries[callID]
	if ok && !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		delete(s.entries, callID)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	var sess call.Session
	if err := json.Unmarshal(entry.raw, &sess); err != nil {
		return nil, &SessionStoreError{Op: "get", Key: callID, Err: err}
	}
	return &sess, nil
}

func (s *MemoryStore) Put(ctx context.Context, sess *call.Session, ttl time.Duration) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return &SessionStoreError{Op: "put", Key: sess.CallID, Err: err}
	}
	entry := memoryEntry{raw: raw}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[sess.CallID] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, callID string) error {
	s.mu.Lock()
	delete(s.entries, callID)
	s.mu.Unlock()
	return nil
}

// Len reports how many sessions are held, counting expired entries not yet
// swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
