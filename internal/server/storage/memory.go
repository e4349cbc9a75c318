package storage

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/lifelog/internal/common"
	"github.com/dmitrijs2005/lifelog/internal/server/entries"
)

// MemoryDocumentStore is a map-backed DocumentStore used in tests and for
// ephemeral runs.
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[entries.EntryUUID]*entries.Entry
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[entries.EntryUUID]*entries.Entry)}
}

func (s *MemoryDocumentStore) Put(_ context.Context, e *entries.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *e
	s.docs[e.UUID()] = &clone
	return nil
}

func (s *MemoryDocumentStore) Get(_ context.Context, uuid entries.EntryUUID) (*entries.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: entry %s", common.ErrNotFound, uuid)
	}
	clone := *e
	return &clone, nil
}

func (s *MemoryDocumentStore) GetMany(ctx context.Context, uuids []entries.EntryUUID) ([]*entries.Entry, error) {
	result := make([]*entries.Entry, 0, len(uuids))
	for _, u := range uuids {
		e, err := s.Get(ctx, u)
		if err != nil {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func (s *MemoryDocumentStore) Delete(_ context.Context, uuid entries.EntryUUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[uuid]; !ok {
		return fmt.Errorf("%w: entry %s", common.ErrNotFound, uuid)
	}
	delete(s.docs, uuid)
	return nil
}

func (s *MemoryDocumentStore) Search(_ context.Context, f Filter) ([]entries.EntryUUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*entries.Entry
	for _, e := range s.docs {
		if f.Matches(e) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StartTime < matched[j].StartTime })

	uuids := make([]entries.EntryUUID, len(matched))
	for i, e := range matched {
		uuids[i] = e.UUID()
	}
	return uuids, nil
}

func (s *MemoryDocumentStore) Close() error { return nil }

// MemoryPayloadStore keeps payload bytes in memory. ResolveURL returns an
// opaque memory:// URL.
type MemoryPayloadStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryPayloadStore() *MemoryPayloadStore {
	return &MemoryPayloadStore{blobs: make(map[string][]byte)}
}

func (s *MemoryPayloadStore) Put(_ context.Context, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("reading payload %s: %w", localPath, err)
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.blobs[id] = data
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryPayloadStore) Get(_ context.Context, payloadID string, localPath string) error {
	s.mu.RLock()
	data, ok := s.blobs[payloadID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: payload %s", common.ErrNotFound, payloadID)
	}
	return os.WriteFile(localPath, data, 0o600)
}

func (s *MemoryPayloadStore) Delete(_ context.Context, payloadID string) error {
	s.mu.Lock()
	delete(s.blobs, payloadID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryPayloadStore) ResolveURL(_ context.Context, payloadID string) (string, error) {
	s.mu.RLock()
	_, ok := s.blobs[payloadID]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: payload %s", common.ErrNotFound, payloadID)
	}
	return "memory://" + payloadID, nil
}

// Len reports the number of stored payloads.
func (s *MemoryPayloadStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// MemoryStateStore is a map-backed StateStore.
type MemoryStateStore struct {
	mu    sync.RWMutex
	state map[string]string
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{state: make(map[string]string)}
}

func (s *MemoryStateStore) GetState(_ context.Context, handlerID, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[handlerID+"\x00"+key]
	if !ok {
		return "", fmt.Errorf("%w: state %s/%s", common.ErrNotFound, handlerID, key)
	}
	return v, nil
}

func (s *MemoryStateStore) SetState(_ context.Context, handlerID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[handlerID+"\x00"+key] = value
	return nil
}
